package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles and steps that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles and steps that failed.
	OutcomeError = "error"
)

var (
	detectionCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer_observer",
			Name:      "detection_cycles_total",
			Help:      "Monitoring loop iterations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seer_observer",
			Name:      "detection_cycle_seconds",
			Help:      "Detection cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer_observer",
			Name:      "anomalies_total",
			Help:      "Detected anomalies, partitioned by severity.",
		},
		[]string{"severity"},
	)

	pipelineStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer_observer",
			Name:      "pipeline_steps_total",
			Help:      "Remediation pipeline step executions, partitioned by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	workflowDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer_observer",
			Name:      "workflow_decisions_total",
			Help:      "Approval gate decisions, partitioned by decision.",
		},
		[]string{"decision"},
	)

	pipelineRunSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seer_observer",
			Name:      "pipeline_run_seconds",
			Help:      "End-to-end remediation pipeline latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)

// Register attaches seer-observer collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionCyclesTotal,
		detectionCycleSeconds,
		anomaliesTotal,
		pipelineStepsTotal,
		workflowDecisionsTotal,
		pipelineRunSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetectionCycle records a monitoring loop iteration.
func ObserveDetectionCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	detectionCyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	detectionCycleSeconds.Observe(duration.Seconds())
}

// ObserveAnomaly counts one detected anomaly.
func ObserveAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}

// ObservePipelineStep counts one pipeline step outcome.
func ObservePipelineStep(step, outcome string) {
	pipelineStepsTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveWorkflowDecision counts one approve/reject decision.
func ObserveWorkflowDecision(decision string) {
	workflowDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObservePipelineRun records a full pipeline execution duration.
func ObservePipelineRun(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	pipelineRunSeconds.Observe(duration.Seconds())
}
