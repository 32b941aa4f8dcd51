package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
)

// AuditCleanupWorker deletes audit rows older than the retention period on
// every tick.
type AuditCleanupWorker struct {
	repo      repository.AuditPruner
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditPruner, retentionDays int, interval time.Duration, log *logger.Logger) *AuditCleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AuditCleanupWorker{
		repo:      repo,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    log,
		now:       time.Now,
	}
}

// Start blocks until ctx is done.
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged; the next tick retries.
			_, _ = w.Cleanup(ctx)
		}
	}
}

func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.PruneAuditLogs(ctx, cutoff)
	if err != nil {
		w.logger.Error(err, "failed to clean up audit logs", "cutoff", cutoff)
		return 0, err
	}
	if rows > 0 {
		w.logger.Info("cleaned up audit logs", "rows", rows, "cutoff", cutoff)
	}
	return rows, nil
}
