package audit

import (
	"context"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/repo"
)

func TestRecordDefaultsToSystemUser(t *testing.T) {
	store := repo.NewMemoryStore()
	log := NewLog(store, nil)
	ctx := context.Background()

	log.Record(ctx, TypeAnomalyDetected, "", "p99_latency 4.5 sigma", StatusSuccess, map[string]string{
		"service": "payment-service",
	})

	entries, err := log.Recent(ctx, "", time.Time{}, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].User != SystemUser {
		t.Fatalf("expected system user, got %q", entries[0].User)
	}
	if entries[0].Details["service"] != "payment-service" {
		t.Fatalf("details lost: %+v", entries[0].Details)
	}
}

func TestStatsCountsByTypeAndStatus(t *testing.T) {
	store := repo.NewMemoryStore()
	log := NewLog(store, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	clock := base
	log.now = func() time.Time { return clock }

	log.Record(ctx, TypeAnomalyDetected, "", "a", StatusSuccess, nil)
	log.Record(ctx, TypeAnomalyDetected, "", "b", StatusSuccess, nil)
	log.Record(ctx, TypePipelineStep, "", "c", StatusFailure, nil)

	// An entry outside the lookback window must not be counted.
	clock = base.Add(-3 * time.Hour)
	log.Record(ctx, TypeWorkflowApproved, "sre-oncall", "d", StatusSuccess, nil)
	clock = base

	stats, err := log.Stats(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected 3 entries in window, got %d", stats.Total)
	}
	if stats.ByType[TypeAnomalyDetected] != 2 || stats.ByType[TypePipelineStep] != 1 {
		t.Fatalf("unexpected type counts %+v", stats.ByType)
	}
	if stats.ByStatus[StatusFailure] != 1 {
		t.Fatalf("unexpected status counts %+v", stats.ByStatus)
	}
	if len(stats.TopTypes) == 0 || stats.TopTypes[0].Type != TypeAnomalyDetected {
		t.Fatalf("expected %s ranked first, got %+v", TypeAnomalyDetected, stats.TopTypes)
	}
}
