package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/italolelis/offline_maps/internal/app"
	"github.com/italolelis/offline_maps/internal/config"
	"github.com/italolelis/offline_maps/internal/events"
	"github.com/italolelis/offline_maps/internal/logctx"
	"github.com/italolelis/offline_maps/internal/offline"
	"github.com/italolelis/offline_maps/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cliApp := &cli.App{
		Name:  "tilectl",
		Usage: "Download and manage offline map areas",
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Download the area around one property",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "property",
						Usage:    "Property as id=lat:lng",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Property title",
					},
					&cli.Float64Flag{
						Name:  "radius",
						Usage: "Radius in km, defaults to DEFAULT_RADIUS_KM",
					},
				},
				Action: withCache(downloadProperty),
			},
			{
				Name:  "download-multi",
				Usage: "Download one area covering several properties",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "property",
						Usage:    "Property as id=lat:lng, repeatable",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "radius",
						Usage: "Radius in km around each property, defaults to DEFAULT_MULTI_RADIUS_KM",
					},
				},
				Action: withCache(downloadProperties),
			},
			{
				Name:   "list",
				Usage:  "List downloaded areas",
				Action: withCache(listAreas),
			},
			{
				Name:   "stats",
				Usage:  "Show storage usage",
				Action: withCache(showStats),
			},
			{
				Name:  "delete",
				Usage: "Delete an area and its tiles",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "area",
						Usage:    "Area id",
						Required: true,
					},
				},
				Action: withCache(deleteArea),
			},
			{
				Name:   "cleanup",
				Usage:  "Remove expired tiles",
				Action: withCache(cleanupTiles),
			},
			{
				Name:   "network",
				Usage:  "Check connectivity to the tile server",
				Action: withCache(checkNetwork),
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

type action func(ctx context.Context, c *cli.Context, cfg *config.Config, cache *app.App) error

// withCache loads the configuration and opens the cache for the duration of one command.
func withCache(fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		logger := logctx.New(os.Stderr, cfg.SlogLevel())
		slog.SetDefault(logger)

		ctx := logctx.WithLogger(c.Context, logger)

		cache, err := app.New(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer cache.Close()

		return fn(ctx, c, cfg, cache)
	}
}

func downloadProperty(ctx context.Context, c *cli.Context, cfg *config.Config, cache *app.App) error {
	p, err := parseProperty(c.String("property"))
	if err != nil {
		return err
	}

	p.Title = c.String("title")
	if p.Title == "" {
		p.Title = p.ID
	}

	radius := c.Float64("radius")
	if radius <= 0 {
		radius = cfg.DefaultRadiusKm
	}

	ch, unsubscribe := cache.Manager.Subscribe(offline.AreaIDForProperty(p.ID, radius))
	defer unsubscribe()

	id, err := cache.Manager.DownloadAreaAroundProperty(ctx, p, radius)
	if err != nil {
		return err
	}

	return follow(ctx, ch, id)
}

func downloadProperties(ctx context.Context, c *cli.Context, _ *config.Config, cache *app.App) error {
	props, err := parseProperties(c.StringSlice("property"))
	if err != nil {
		return err
	}

	ch, unsubscribe := cache.Manager.Subscribe("")
	defer unsubscribe()

	id, err := cache.Manager.DownloadMultipleProperties(ctx, props, c.Float64("radius"))
	if err != nil {
		return err
	}

	return follow(ctx, ch, id)
}

// follow renders the progress of one area until its download pass finishes. On interrupt it
// returns and the pass is cancelled when the cache is closed.
func follow(ctx context.Context, ch <-chan events.Event, id string) error {
	bar := pb.New(100)
	bar.SetTemplate(`{{string . "area"}} {{bar . }} {{percent . }} {{string . "tiles"}}`)
	bar.Set("area", id)
	bar.Set("tiles", "")
	bar.Start()

	for {
		select {
		case <-ctx.Done():
			bar.Finish()

			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				bar.Finish()

				return errors.New("event stream closed before the download finished")
			}

			if e.AreaID != id {
				continue
			}

			bar.SetCurrent(int64(e.Progress))
			bar.Set("tiles", fmt.Sprintf("%d/%d tiles", e.Downloaded, e.Total))

			if e.Kind != events.KindComplete {
				continue
			}

			bar.Finish()

			if e.Status != storage.AreaStatusCompleted {
				return fmt.Errorf("download of %s failed: %s", id, e.Err)
			}

			fmt.Printf("%s: %d tiles, ~%s\n", id, e.Downloaded, humanize.IBytes(uint64(storage.EstimateSizeMB(e.Downloaded)*1024*1024)))

			return nil
		}
	}
}

func listAreas(ctx context.Context, _ *cli.Context, _ *config.Config, cache *app.App) error {
	areas, err := cache.Manager.GetDownloadedAreas(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tTILES\tSIZE\tRADIUS\tCREATED")

	for _, a := range areas {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%d\t%s\t%.1f km\t%s\n",
			a.ID,
			a.Status,
			a.Progress,
			len(a.TileKeys),
			humanize.IBytes(uint64(a.SizeMB*1024*1024)),
			a.RadiusKm,
			humanize.RelTime(a.CreatedAt, time.Now(), "ago", "from now"),
		)
	}

	return w.Flush()
}

func showStats(ctx context.Context, _ *cli.Context, _ *config.Config, cache *app.App) error {
	stats, err := cache.Manager.GetStorageStats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Areas: %d\n", stats.TotalAreas)
	fmt.Printf("Estimated size: %.2f MB of %.2f MB (%.2f MB available)\n", stats.TotalSizeMB, stats.MaxSizeMB, stats.AvailableMB)
	fmt.Printf("Stored tiles: %s (%s)\n", humanize.Comma(int64(stats.TileCount)), humanize.IBytes(uint64(stats.TileBytes)))

	return nil
}

func deleteArea(ctx context.Context, c *cli.Context, _ *config.Config, cache *app.App) error {
	id := c.String("area")

	if err := cache.Manager.DeleteArea(ctx, id); err != nil {
		return err
	}

	fmt.Printf("Deleted %s\n", id)

	return nil
}

func cleanupTiles(ctx context.Context, _ *cli.Context, _ *config.Config, cache *app.App) error {
	removed, err := cache.Manager.CleanupExpiredTiles(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %s expired tiles\n", humanize.Comma(int64(removed)))

	return nil
}

func checkNetwork(ctx context.Context, _ *cli.Context, cfg *config.Config, cache *app.App) error {
	fmt.Printf("%s: %s\n", cfg.TileServerURL, cache.Prober.Check(ctx))

	return nil
}
