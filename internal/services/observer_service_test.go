package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/audit"
	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/monitor"
	"github.com/seerstack/seer-observer/internal/registry"
	"github.com/seerstack/seer-observer/internal/repo"
	"github.com/seerstack/seer-observer/internal/workflow"
)

type idleEvaluator struct{}

func (idleEvaluator) EvaluateAll(_ context.Context, _ time.Time) ([]detect.Evaluation, error) {
	return nil, nil
}

type captureIngester struct {
	batches [][]models.MetricDataPoint
	err     error
}

func (c *captureIngester) IngestPoints(_ context.Context, points []models.MetricDataPoint) error {
	c.batches = append(c.batches, points)
	return c.err
}

func newTestService() *ObserverService {
	svc, _ := newTestServiceWithIngester()
	return svc
}

func newTestServiceWithIngester() (*ObserverService, *captureIngester) {
	store := repo.NewMemoryStore()
	reg := registry.New(store, nil)
	activity := audit.NewLog(store, nil)
	orch := workflow.NewOrchestrator(store, reg, nil, workflow.Collaborators{}, activity, time.Second, nil)
	mon := monitor.NewEngine(idleEvaluator{}, orch, time.Hour, nil)
	ingester := &captureIngester{}
	return NewObserverService(nil, mon, orch, reg, store, activity, nil, ingester), ingester
}

func TestRegisterIncidentWithPseudoDeviation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	incident, err := svc.RegisterIncident(ctx, RegisterIncidentInput{
		Title:         "checkout latency spike",
		Service:       "payment-service",
		Environment:   "production",
		Severity:      "Sev-2",
		Description:   "reported by support",
		Metric:        "p99_latency",
		CurrentValue:  450,
		ExpectedValue: 200,
		User:          "sre-oncall",
	})
	if err != nil {
		t.Fatalf("RegisterIncident: %v", err)
	}
	if incident.Status != models.StatusDetected {
		t.Fatalf("manual incident opens DETECTED, got %s", incident.Status)
	}
	if incident.Anomaly == nil {
		t.Fatal("metric values must attach an anomaly")
	}
	// |450-200| / (200*0.1) = 12.5 pseudo-sigma.
	if incident.Anomaly.DeviationSigma != 12.5 {
		t.Fatalf("expected 12.5 pseudo-sigma, got %f", incident.Anomaly.DeviationSigma)
	}
}

func TestRegisterIncidentRejectsUnknownSeverity(t *testing.T) {
	svc := newTestService()
	_, err := svc.RegisterIncident(context.Background(), RegisterIncidentInput{
		Title: "t", Service: "svc", Severity: "Sev-9",
	})
	var consistency *models.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
}

func TestRegisterAnomalySequentialIDsAndCoarseSeverity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.RegisterAnomaly(ctx, RegisterAnomalyInput{
		Service: "payment-service", Metric: "p99_latency",
		CurrentValue: 290, ExpectedValue: 200,
	})
	if err != nil {
		t.Fatalf("RegisterAnomaly: %v", err)
	}
	if first.ID != "ANOM-1001" {
		t.Fatalf("first anomaly id must be ANOM-1001, got %s", first.ID)
	}
	// |290-200| / (200*0.1) = 4.5 pseudo-sigma; coarse scheme says Sev-2.
	if first.Result.Severity != models.SeverityHigh {
		t.Fatalf("expected coarse Sev-2, got %s", first.Result.Severity)
	}
	if !first.Registered || first.Status != "active" {
		t.Fatalf("unexpected record %+v", first)
	}

	second, err := svc.RegisterAnomaly(ctx, RegisterAnomalyInput{
		Service: "payment-service", Metric: "p99_latency",
		CurrentValue: 204, ExpectedValue: 200,
	})
	if err != nil {
		t.Fatalf("RegisterAnomaly: %v", err)
	}
	if second.ID != "ANOM-1002" {
		t.Fatalf("expected ANOM-1002, got %s", second.ID)
	}
	// 0.2 pseudo-sigma lands in the coarse catch-all bucket.
	if second.Result.Severity != models.SeverityMedium {
		t.Fatalf("expected coarse Sev-3, got %s", second.Result.Severity)
	}
}

func TestRegisterAnomalyValidatesInput(t *testing.T) {
	svc := newTestService()
	if _, err := svc.RegisterAnomaly(context.Background(), RegisterAnomalyInput{Metric: "m"}); err == nil {
		t.Fatal("missing service must be rejected")
	}
	if _, err := svc.RegisterAnomaly(context.Background(), RegisterAnomalyInput{
		Service: "svc", Metric: "m", CurrentValue: 10, ExpectedValue: 0,
	}); err == nil {
		t.Fatal("non-positive expected value must be rejected")
	}
}

func TestStatusIncludesPendingBacklog(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("monitor must be idle before StartMonitoring")
	}
	if status.SigmaThreshold != models.SigmaThreshold {
		t.Fatalf("unexpected threshold %f", status.SigmaThreshold)
	}
	if status.PendingWorkflows != 0 {
		t.Fatalf("expected empty backlog, got %d", status.PendingWorkflows)
	}

	svc.StartMonitoring()
	status, err = svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("monitor must report running after StartMonitoring")
	}
	svc.StopMonitoring()
}

func TestIngestMetricsForwardsValidBatch(t *testing.T) {
	svc, ingester := newTestServiceWithIngester()
	ctx := context.Background()

	now := time.Now().UTC().Add(-time.Minute)
	count, err := svc.IngestMetrics(ctx, []MetricPointInput{
		{Timestamp: now, Metric: "p99_latency", Value: 412.5, Service: "checkout", Environment: "prod"},
		{Timestamp: now, Metric: "error_rate", Value: -0.5, Service: "checkout"},
	})
	if err != nil {
		t.Fatalf("IngestMetrics: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 ingested points, got %d", count)
	}
	if len(ingester.batches) != 1 || len(ingester.batches[0]) != 2 {
		t.Fatalf("expected a single batch of 2 points, got %+v", ingester.batches)
	}
	if ingester.batches[0][0].MetricName != "p99_latency" {
		t.Fatalf("unexpected first point %+v", ingester.batches[0][0])
	}
}

func TestIngestMetricsRejectsFutureTimestamp(t *testing.T) {
	svc, ingester := newTestServiceWithIngester()
	ctx := context.Background()

	_, err := svc.IngestMetrics(ctx, []MetricPointInput{
		{Timestamp: time.Now().UTC().Add(time.Hour), Metric: "p99_latency", Value: 1, Service: "checkout"},
	})
	var cerr *models.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected consistency error for future timestamp, got %v", err)
	}
	if len(ingester.batches) != 0 {
		t.Fatal("invalid batch must not reach the metrics store")
	}
}

func TestIngestMetricsRejectsEmptyBatch(t *testing.T) {
	svc, _ := newTestServiceWithIngester()

	_, err := svc.IngestMetrics(context.Background(), nil)
	var cerr *models.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected consistency error for empty batch, got %v", err)
	}
}

func TestIngestMetricsWithoutStore(t *testing.T) {
	store := repo.NewMemoryStore()
	reg := registry.New(store, nil)
	activity := audit.NewLog(store, nil)
	orch := workflow.NewOrchestrator(store, reg, nil, workflow.Collaborators{}, activity, time.Second, nil)
	mon := monitor.NewEngine(idleEvaluator{}, orch, time.Hour, nil)
	svc := NewObserverService(nil, mon, orch, reg, store, activity, nil, nil)

	_, err := svc.IngestMetrics(context.Background(), []MetricPointInput{
		{Timestamp: time.Now().UTC().Add(-time.Minute), Metric: "p99_latency", Value: 1, Service: "checkout"},
	})
	if err == nil {
		t.Fatal("expected error when no metrics store is configured")
	}
}
