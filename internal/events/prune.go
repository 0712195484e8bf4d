package events

import (
	"context"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// Pruner drops claims recorded before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneLoop removes claims older than retention once at start and then every
// interval, until ctx is done. Failures are logged and retried on the next run.
func PruneLoop(ctx context.Context, p Pruner, retention, interval time.Duration, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	run := func() {
		cutoff := time.Now().Add(-retention)
		n, err := p.Prune(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("events: prune processed events failed", "error", err)
			}
			return
		}
		logger.Info("events: pruned processed events", "removed", n, "cutoff", cutoff.UTC())
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}
