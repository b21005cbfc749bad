package notifier

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/storage"
)

// AreaDownloadFinishedEvent is the analytics event reported for every finished pass.
const AreaDownloadFinishedEvent = "offline_area_download_finished"

// Dispatcher turns completion events into chat notifications and analytics events.
// Progress events are ignored.
type Dispatcher struct {
	notifier Notifier
	tracker  *Tracker
}

// NewDispatcher accepts a nil notifier or tracker to skip that channel.
func NewDispatcher(n Notifier, t *Tracker) *Dispatcher {
	return &Dispatcher{notifier: n, tracker: t}
}

// Run consumes ch until it is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan events.Event) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}

			if e.Kind != events.KindComplete {
				continue
			}

			logger.Info("area download finished", "area_id", e.AreaID, "status", e.Status, "downloaded", e.Downloaded, "total", e.Total)

			d.dispatch(ctx, e)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e events.Event) {
	logger := logctx.LoggerFromContext(ctx)

	if d.notifier != nil {
		if err := d.notifier.Notify(ctx, Message(e)); err != nil {
			logger.Error("failed to send notification", "area_id", e.AreaID, "err", err)
		}
	}

	if err := d.tracker.Track(AreaDownloadFinishedEvent, map[string]any{
		"area_id":    e.AreaID,
		"status":     string(e.Status),
		"downloaded": e.Downloaded,
		"total":      e.Total,
	}); err != nil {
		logger.Error("failed to track event", "area_id", e.AreaID, "err", err)
	}
}

// Message renders the chat message for a completion event.
func Message(e events.Event) string {
	if e.Status == storage.AreaStatusCompleted {
		size := humanize.IBytes(uint64(storage.EstimateSizeMB(e.Downloaded) * 1024 * 1024))

		return fmt.Sprintf("✅ Offline map ready: %s (%d/%d tiles, ~%s)", e.AreaID, e.Downloaded, e.Total, size)
	}

	msg := "❌ Offline map download failed: " + e.AreaID
	if e.Err != "" {
		msg += " (" + e.Err + ")"
	}

	return msg
}
