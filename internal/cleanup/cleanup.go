package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/offline_maps/internal/logctx"
)

// Cleaner removes expired tiles and returns how many were removed.
type Cleaner interface {
	CleanupExpiredTiles(ctx context.Context) (int, error)
}

// Run sweeps expired tiles every interval until ctx is done. A failed sweep is logged and
// retried on the next tick.
func Run(ctx context.Context, c Cleaner, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			removed, err := c.CleanupExpiredTiles(ctx)
			if err != nil {
				logger.Error("failed to delete expired tiles", "err", err)

				continue
			}

			logger.Debug("expired tiles sweep finished", "removed", removed)
		}
	}
}
