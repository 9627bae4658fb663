package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/sbridge/internal/metrics"
)

// MarkerPurger is the subset of ledger.Ledger needed by the purge job.
type MarkerPurger interface {
	PurgeMarkersOlderThan(ctx context.Context, horizon time.Time) (int64, error)
}

// MarkerPurgeJob deletes processed-message markers older than Retention.
// Retention must exceed the poller lookback, otherwise a restart could
// re-deliver messages whose markers were already purged.
type MarkerPurgeJob struct {
	Ledger       MarkerPurger
	Retention    time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/15 * * * *"

	now func() time.Time
}

// Compile-time interface check.
var _ Job = (*MarkerPurgeJob)(nil)

// Name implements Job.
func (j *MarkerPurgeJob) Name() string { return "ledger_marker_purge" }

// Schedule implements Job.
func (j *MarkerPurgeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/15 * * * *"
}

// Run purges markers processed before now minus Retention.
func (j *MarkerPurgeJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: marker purge cancelled: %w", ctx.Err())
	}
	if j.Retention <= 0 {
		return fmt.Errorf("cron: marker purge: retention must be positive, got %s", j.Retention)
	}

	now := time.Now
	if j.now != nil {
		now = j.now
	}
	horizon := now().Add(-j.Retention)

	n, err := j.Ledger.PurgeMarkersOlderThan(ctx, horizon)
	if err != nil {
		return fmt.Errorf("cron: marker purge: %w", err)
	}
	j.Metrics.MarkersPurged(n)
	if n > 0 && j.Logger != nil {
		j.Logger.Info("purged processed-message markers", "count", n, "horizon", horizon)
	}
	return nil
}
