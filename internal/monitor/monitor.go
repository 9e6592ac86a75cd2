package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/metrics"
	"github.com/seerstack/seer-observer/internal/models"
)

// recentAnomalyCap bounds the recent-anomaly ring kept for status reporting.
const recentAnomalyCap = 20

// Evaluator scans tracked series and reports evaluations.
type Evaluator interface {
	EvaluateAll(ctx context.Context, now time.Time) ([]detect.Evaluation, error)
}

// AnomalySink receives detected anomalies, typically the workflow
// orchestrator.
type AnomalySink interface {
	HandleAnomaly(ctx context.Context, anomaly models.AnomalyResult) (models.IncidentRecord, models.PendingWorkflow, error)
}

// Status is a point-in-time view of the monitoring loop.
type Status struct {
	Running         bool
	Interval        time.Duration
	LastCheck       time.Time
	CyclesRun       int
	RecentAnomalies []models.AnomalyResult
}

// Engine drives detection on a fixed interval. Iterations never overlap: each
// cycle runs to completion before the ticker is consulted again, and Stop
// takes effect at an iteration boundary. A failed cycle is logged and the
// loop carries on.
type Engine struct {
	detector Evaluator
	sink     AnomalySink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	lastCheck time.Time
	cycles    int
	recent    []models.AnomalyResult
}

// NewEngine constructs a monitoring engine. Non-positive intervals fall back
// to 60 seconds.
func NewEngine(detector Evaluator, sink AnomalySink, interval time.Duration, logger *slog.Logger) *Engine {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		detector: detector,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the monitoring loop. Starting a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	e.logger.Info("monitoring started", "interval", e.interval)
	go e.loop(stop, done)
}

// Stop signals the loop and waits for the current iteration to finish.
// Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
	e.logger.Info("monitoring stopped")
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(context.Background()); err != nil {
			e.logger.Error("detection cycle failed", "error", err)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single detection cycle synchronously. Per-anomaly sink
// failures are logged and do not fail the cycle.
func (e *Engine) RunOnce(ctx context.Context) error {
	started := e.now()

	evals, err := e.detector.EvaluateAll(ctx, started)
	if err != nil {
		metrics.ObserveDetectionCycle(e.now().Sub(started), metrics.OutcomeError)
		e.recordCycle(started)
		return err
	}

	for _, eval := range evals {
		if !eval.Anomalous {
			continue
		}
		e.pushRecent(eval.Result)
		if _, _, err := e.sink.HandleAnomaly(ctx, eval.Result); err != nil {
			e.logger.Error("anomaly handling failed",
				"service", eval.Service, "metric", eval.Metric, "error", err)
		}
	}

	metrics.ObserveDetectionCycle(e.now().Sub(started), metrics.OutcomeSuccess)
	e.recordCycle(started)
	return nil
}

func (e *Engine) recordCycle(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCheck = at
	e.cycles++
}

func (e *Engine) pushRecent(anomaly models.AnomalyResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, anomaly)
	if len(e.recent) > recentAnomalyCap {
		e.recent = e.recent[len(e.recent)-recentAnomalyCap:]
	}
}

// Status reports the loop's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:         e.running,
		Interval:        e.interval,
		LastCheck:       e.lastCheck,
		CyclesRun:       e.cycles,
		RecentAnomalies: append([]models.AnomalyResult(nil), e.recent...),
	}
}
