package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/offline_maps/internal/app"
	"github.com/italolelis/offline_maps/internal/cleanup"
	"github.com/italolelis/offline_maps/internal/config"
	"github.com/italolelis/offline_maps/internal/http/rest"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/notifier"
	"github.com/italolelis/offline_maps/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("offline maps starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Tile Cache
	cache, err := app.New(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build tile cache: %w", err)
	}
	defer cache.Close()

	// =========================================================================
	// Start Notification
	tracker := setupNotification(ctx, cache, cfg)
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Error("failed to flush analytics", "err", err)
		}
	}()

	// =========================================================================
	// Start Cleanup
	go cleanup.Run(ctx, cache.Manager, cfg.CleanupInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cache, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"tile_server", cfg.TileServerURL,
		"tile_store", cfg.TileStore,
		"zoom_levels", cfg.ZoomLevels,
		"retention", cfg.TileExpiry.String(),
		"cleanup_interval", cfg.CleanupInterval.String(),
	)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupNotification forwards completed downloads to Discord and PostHog when configured.
// The returned tracker is nil when analytics are disabled.
func setupNotification(ctx context.Context, cache *app.App, cfg *config.Config) *notifier.Tracker {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	var tracker *notifier.Tracker

	if cfg.Posthog.APIKey != "" {
		t, err := notifier.NewTracker(cfg.Posthog.APIKey, cfg.Posthog.Endpoint, notifier.GenerateInstanceID())
		if err != nil {
			logger.Error("failed to initialize analytics", "err", err)
		} else {
			tracker = t
		}
	}

	if notif == nil && tracker == nil {
		return nil
	}

	ch, unsubscribe := cache.Manager.Subscribe("")

	go func() {
		defer unsubscribe()

		notifier.NewDispatcher(notif, tracker).Run(ctx, ch)
	}()

	return tracker
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cache *app.App, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/v1", rest.NewAreasHandler(cache.Manager, cache.Prober).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
