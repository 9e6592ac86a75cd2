package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/models"
)

type fakeEvaluator struct {
	mu    sync.Mutex
	evals []detect.Evaluation
	err   error
	calls int
}

func (f *fakeEvaluator) EvaluateAll(_ context.Context, _ time.Time) ([]detect.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.evals, nil
}

type fakeSink struct {
	mu       sync.Mutex
	received []models.AnomalyResult
	err      error
}

func (f *fakeSink) HandleAnomaly(_ context.Context, anomaly models.AnomalyResult) (models.IncidentRecord, models.PendingWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, anomaly)
	return models.IncidentRecord{}, models.PendingWorkflow{}, f.err
}

func anomalyEval(t *testing.T, service string) detect.Evaluation {
	t.Helper()
	result, err := models.NewAnomalyResult("p99_latency", 290, 200, 4.5, false,
		models.SeverityHigh, time.Now().UTC(), service, "production")
	if err != nil {
		t.Fatalf("anomaly fixture: %v", err)
	}
	return detect.Evaluation{Service: service, Metric: "p99_latency", Anomalous: true, Result: result}
}

func TestRunOnceForwardsAnomaliesToSink(t *testing.T) {
	evaluator := &fakeEvaluator{evals: []detect.Evaluation{
		anomalyEval(t, "payment-service"),
		{Service: "auth-service", Metric: "error_rate", Reason: "deviation 1.20σ below threshold"},
	}}
	sink := &fakeSink{}
	engine := NewEngine(evaluator, sink, time.Minute, nil)

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(sink.received) != 1 {
		t.Fatalf("expected one anomaly forwarded, got %d", len(sink.received))
	}
	if sink.received[0].Service != "payment-service" {
		t.Fatalf("unexpected anomaly %+v", sink.received[0])
	}

	status := engine.Status()
	if status.LastCheck.IsZero() || status.CyclesRun != 1 {
		t.Fatalf("cycle must be recorded in status: %+v", status)
	}
	if len(status.RecentAnomalies) != 1 {
		t.Fatalf("recent anomalies not tracked: %+v", status.RecentAnomalies)
	}
}

func TestRunOnceSinkFailureDoesNotFailCycle(t *testing.T) {
	evaluator := &fakeEvaluator{evals: []detect.Evaluation{anomalyEval(t, "payment-service")}}
	sink := &fakeSink{err: fmt.Errorf("store down")}
	engine := NewEngine(evaluator, sink, time.Minute, nil)

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("sink failure must be swallowed, got %v", err)
	}
}

func TestRunOnceDetectorFailureIsReturned(t *testing.T) {
	evaluator := &fakeEvaluator{err: fmt.Errorf("metrics store unavailable")}
	engine := NewEngine(evaluator, &fakeSink{}, time.Minute, nil)

	if err := engine.RunOnce(context.Background()); err == nil {
		t.Fatal("expected detector error")
	}
	if status := engine.Status(); status.CyclesRun != 1 {
		t.Fatalf("failed cycle still counts: %+v", status)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	evaluator := &fakeEvaluator{}
	engine := NewEngine(evaluator, &fakeSink{}, time.Hour, nil)

	engine.Start()
	if !engine.Status().Running {
		t.Fatal("engine must report running after Start")
	}
	engine.Start() // second Start is a no-op

	engine.Stop()
	if engine.Status().Running {
		t.Fatal("engine must report stopped after Stop")
	}
	engine.Stop() // second Stop is a no-op

	evaluator.mu.Lock()
	calls := evaluator.calls
	evaluator.mu.Unlock()
	if calls < 1 {
		t.Fatal("loop must run at least one cycle before stopping")
	}
}

func TestRecentAnomalyRingIsBounded(t *testing.T) {
	engine := NewEngine(&fakeEvaluator{}, &fakeSink{}, time.Minute, nil)
	for i := 0; i < recentAnomalyCap+5; i++ {
		engine.pushRecent(models.AnomalyResult{Metric: fmt.Sprintf("m%d", i)})
	}
	status := engine.Status()
	if len(status.RecentAnomalies) != recentAnomalyCap {
		t.Fatalf("ring must cap at %d, got %d", recentAnomalyCap, len(status.RecentAnomalies))
	}
	if status.RecentAnomalies[len(status.RecentAnomalies)-1].Metric != fmt.Sprintf("m%d", recentAnomalyCap+4) {
		t.Fatal("ring must keep the newest anomalies")
	}
}
