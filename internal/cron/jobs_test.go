package cron

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
)

func TestMarkerPurgeJob_NameSchedule(t *testing.T) {
	t.Parallel()

	j := &MarkerPurgeJob{}
	if j.Name() != "ledger_marker_purge" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "*/15 * * * *" {
		t.Errorf("schedule = %q, want default", j.Schedule())
	}
	j.ScheduleExpr = "@every 1h"
	if j.Schedule() != "@every 1h" {
		t.Errorf("schedule = %q, want override", j.Schedule())
	}
}

func TestMarkerPurgeJob_Run(t *testing.T) {
	t.Parallel()

	l := ledger.NewMemoryLedger()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := l.MarkProcessed(ctx, id); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}

	// A clock a day ahead makes both markers older than the horizon.
	j := &MarkerPurgeJob{
		Ledger:    l,
		Retention: time.Hour,
		Logger:    slog.Default(),
		now:       func() time.Time { return time.Now().Add(24 * time.Hour) },
	}
	if err := j.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if ok, _ := l.IsProcessed(ctx, id); ok {
			t.Errorf("marker %q survived purge", id)
		}
	}
}

func TestMarkerPurgeJob_KeepsRecentMarkers(t *testing.T) {
	t.Parallel()

	l := ledger.NewMemoryLedger()
	ctx := context.Background()
	_, _ = l.MarkProcessed(ctx, "fresh")

	j := &MarkerPurgeJob{Ledger: l, Retention: time.Hour}
	if err := j.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok, _ := l.IsProcessed(ctx, "fresh"); !ok {
		t.Error("recent marker was purged")
	}
}

type failingPurger struct{}

func (failingPurger) PurgeMarkersOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestMarkerPurgeJob_Errors(t *testing.T) {
	t.Parallel()

	if err := (&MarkerPurgeJob{Ledger: failingPurger{}, Retention: time.Hour}).Run(context.Background()); err == nil {
		t.Error("expected ledger error")
	}
	if err := (&MarkerPurgeJob{Ledger: failingPurger{}}).Run(context.Background()); err == nil {
		t.Error("expected error for zero retention")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&MarkerPurgeJob{Ledger: failingPurger{}, Retention: time.Hour}).Run(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
