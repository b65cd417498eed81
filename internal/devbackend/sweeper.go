package devbackend

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketforge/pocketforge/internal/store"
)

// StartSweeper runs a background goroutine that periodically fails
// deployments stuck in pending or building for longer than staleAfter.
func StartSweeper(ctx context.Context, repo store.Repository, interval, staleAfter time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Deployment sweeper started", "interval", interval, "stale_after", staleAfter)

		for {
			select {
			case <-ticker.C:
				sweepStaleDeployments(ctx, repo, staleAfter, logger)
			case <-ctx.Done():
				logger.Info("Deployment sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepStaleDeployments(ctx context.Context, repo store.Repository, staleAfter time.Duration, logger *slog.Logger) int64 {
	n, err := repo.FailStaleDeployments(ctx, staleAfter)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Deployment sweep canceled", "error", err)
			return 0
		}
		logger.Error("Deployment sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Failed stale deployments", "count", n)
	}
	return n
}
