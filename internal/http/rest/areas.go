package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/netstatus"
	"github.com/italolelis/offline_maps/internal/offline"
	"github.com/italolelis/offline_maps/internal/storage"
)

const maxBodySize = 1 << 20

// CacheService is the part of the offline manager the API exposes.
type CacheService interface {
	DownloadAreaAroundProperty(ctx context.Context, p offline.Property, radiusKm float64) (string, error)
	DownloadMultipleProperties(ctx context.Context, props []offline.Property, radiusKm float64) (string, error)
	GetDownloadedAreas(ctx context.Context) ([]storage.Area, error)
	GetArea(ctx context.Context, id string) (storage.Area, error)
	GetStorageStats(ctx context.Context) (offline.StorageStats, error)
	IsAreaAvailableOffline(ctx context.Context, propertyID string) (bool, error)
	GetTile(ctx context.Context, key storage.TileKey) (storage.Tile, error)
	DeleteArea(ctx context.Context, id string) error
	CleanupExpiredTiles(ctx context.Context) (int, error)
	Subscribe(id string) (<-chan events.Event, func())
	IsDownloading(id string) bool
}

// NetworkChecker reports connectivity to the tile server.
type NetworkChecker interface {
	Check(ctx context.Context) netstatus.Status
}

type pointJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type boundsJSON struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

type AreaResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Center      pointJSON  `json:"center"`
	RadiusKm    float64    `json:"radiusKm"`
	Bounds      boundsJSON `json:"bounds"`
	TileCount   int        `json:"tileCount"`
	PropertyIDs []string   `json:"propertyIds"`
	SizeMB      float64    `json:"sizeMb"`
	Progress    float64    `json:"progress"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  time.Time  `json:"lastUsedAt"`
}

type StatsResponse struct {
	TotalAreas  int     `json:"totalAreas"`
	TotalSizeMB float64 `json:"totalSizeMb"`
	MaxSizeMB   float64 `json:"maxSizeMb"`
	AvailableMB float64 `json:"availableMb"`
	TileCount   int     `json:"tileCount"`
	TileBytes   int64   `json:"tileBytes"`
}

type EventResponse struct {
	AreaID     string  `json:"areaId"`
	Progress   float64 `json:"progress"`
	Downloaded int     `json:"downloaded"`
	Total      int     `json:"total"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

type downloadPropertyRequest struct {
	Property offline.Property `json:"property"`
	RadiusKm float64          `json:"radiusKm"`
}

type downloadPropertiesRequest struct {
	Properties []offline.Property `json:"properties"`
	RadiusKm   float64            `json:"radiusKm"`
}

type AreasHandler struct {
	cache   CacheService
	network NetworkChecker
}

// NewAreasHandler creates the offline maps API handler. network may be nil, in which case
// the network route is not mounted.
func NewAreasHandler(cache CacheService, network NetworkChecker) *AreasHandler {
	return &AreasHandler{cache: cache, network: network}
}

func (h *AreasHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/areas", func(r chi.Router) {
		r.Get("/", h.HandleListAreas)
		r.Post("/property", h.HandleDownloadProperty)
		r.Post("/properties", h.HandleDownloadProperties)
		r.Get("/{id}", h.HandleGetArea)
		r.Delete("/{id}", h.HandleDeleteArea)
		r.Get("/{id}/events", h.HandleAreaEvents)
	})

	r.Get("/stats", h.HandleStats)
	r.Get("/properties/{id}/offline", h.HandlePropertyOffline)
	r.Post("/cleanup", h.HandleCleanup)
	r.Get("/tiles/{z}/{x}/{y}", h.HandleTile)

	if h.network != nil {
		r.Get("/network", h.HandleNetwork)
	}

	return r
}

// HandleDownloadProperty starts caching the area around one property.
func (h *AreasHandler) HandleDownloadProperty(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req downloadPropertyRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Property.ID == "" {
		writeError(w, http.StatusBadRequest, "property id is required")

		return
	}

	id, err := h.cache.DownloadAreaAroundProperty(r.Context(), req.Property, req.RadiusKm)
	if err != nil {
		logger.Error("failed to start area download", "property_id", req.Property.ID, "err", err)
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"areaId": id})
}

// HandleDownloadProperties starts caching one area covering several properties.
func (h *AreasHandler) HandleDownloadProperties(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req downloadPropertiesRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := h.cache.DownloadMultipleProperties(r.Context(), req.Properties, req.RadiusKm)
	if err != nil {
		logger.Error("failed to start multi property download", "properties", len(req.Properties), "err", err)
		writeErr(w, err)

		return
	}

	if id == "" {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"areaId": id})
}

func (h *AreasHandler) HandleListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.cache.GetDownloadedAreas(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list areas", "err", err)
		writeErr(w, err)

		return
	}

	resp := make([]AreaResponse, len(areas))
	for i, a := range areas {
		resp[i] = toAreaResponse(a)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AreasHandler) HandleGetArea(w http.ResponseWriter, r *http.Request) {
	area, err := h.cache.GetArea(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toAreaResponse(area))
}

func (h *AreasHandler) HandleDeleteArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.cache.DeleteArea(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logctx.LoggerFromContext(r.Context()).Error("failed to delete area", "area_id", id, "err", err)
		}

		writeErr(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAreaEvents streams the area's progress as server-sent events until its download
// pass finishes or the client goes away. For an area that is not downloading a single
// event with its current state is sent.
func (h *AreasHandler) HandleAreaEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")

		return
	}

	ch, unsubscribe := h.cache.Subscribe(id)
	defer unsubscribe()

	area, err := h.cache.GetArea(ctx, id)
	if err != nil {
		writeErr(w, err)

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if !h.cache.IsDownloading(id) {
		// The pass may have finished since the first read; its final record is saved by now.
		if area, err = h.cache.GetArea(ctx, id); err != nil {
			logctx.LoggerFromContext(ctx).Warn("area vanished while subscribing", "area_id", id, "err", err)

			return
		}

		writeEvent(w, events.KindComplete, EventResponse{
			AreaID:     area.ID,
			Progress:   area.Progress,
			Downloaded: len(area.TileKeys),
			Total:      len(area.TileKeys),
			Status:     string(area.Status),
		})
		flusher.Flush()

		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}

			writeEvent(w, e.Kind, EventResponse{
				AreaID:     e.AreaID,
				Progress:   e.Progress,
				Downloaded: e.Downloaded,
				Total:      e.Total,
				Status:     string(e.Status),
				Error:      e.Err,
			})
			flusher.Flush()
		}
	}
}

func (h *AreasHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.GetStorageStats(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read storage stats", "err", err)
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusOK, StatsResponse(stats))
}

func (h *AreasHandler) HandlePropertyOffline(w http.ResponseWriter, r *http.Request) {
	available, err := h.cache.IsAreaAvailableOffline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *AreasHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.CleanupExpiredTiles(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to clean up expired tiles", "err", err)
		writeErr(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"removedTiles": removed})
}

// HandleTile serves a cached tile at /tiles/{z}/{x}/{y}.png.
func (h *AreasHandler) HandleTile(w http.ResponseWriter, r *http.Request) {
	key, err := parseTileKey(chi.URLParam(r, "z"), chi.URLParam(r, "x"), strings.TrimSuffix(chi.URLParam(r, "y"), ".png"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	tile, err := h.cache.GetTile(r.Context(), key)
	if err != nil {
		writeErr(w, err)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("Last-Modified", tile.DownloadedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Data)
}

func (h *AreasHandler) HandleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.network.Check(r.Context()))})
}

func parseTileKey(z, x, y string) (storage.TileKey, error) {
	var key storage.TileKey

	for _, p := range []struct {
		name  string
		value string
		dst   *int
	}{
		{"z", z, &key.Zoom},
		{"x", x, &key.X},
		{"y", y, &key.Y},
	} {
		n, err := strconv.Atoi(p.value)
		if err != nil || n < 0 {
			return storage.TileKey{}, fmt.Errorf("invalid tile %s: %q", p.name, p.value)
		}

		*p.dst = n
	}

	if key.Zoom > 30 || key.X >= 1<<key.Zoom || key.Y >= 1<<key.Zoom {
		return storage.TileKey{}, fmt.Errorf("tile %s is out of range", key)
	}

	return key, nil
}

func toAreaResponse(a storage.Area) AreaResponse {
	propertyIDs := a.PropertyIDs
	if propertyIDs == nil {
		propertyIDs = []string{}
	}

	return AreaResponse{
		ID:          a.ID,
		Name:        a.Name,
		Center:      pointJSON(a.Center),
		RadiusKm:    a.RadiusKm,
		Bounds:      boundsJSON(a.Bounds),
		TileCount:   len(a.TileKeys),
		PropertyIDs: propertyIDs,
		SizeMB:      a.SizeMB,
		Progress:    a.Progress,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		LastUsedAt:  a.LastUsedAt,
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		logctx.LoggerFromContext(r.Context()).Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return false
	}

	return true
}

func writeEvent(w http.ResponseWriter, kind events.Kind, payload EventResponse) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, offline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
