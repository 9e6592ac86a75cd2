package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/repo"
)

// StatsSource provides window aggregates for tracked series.
type StatsSource interface {
	ListSeries(ctx context.Context, window models.TimeRange) ([]repo.SeriesKey, error)
	QueryWindow(ctx context.Context, service, metric string, window models.TimeRange) (repo.WindowStats, error)
}

// Evaluation is the outcome of checking one series. When Anomalous is false,
// Reason says why; an empty-window evaluation is a non-result, never an error.
type Evaluation struct {
	Service   string
	Metric    string
	Anomalous bool
	Reason    string
	Baseline  models.Baseline
	Result    models.AnomalyResult
}

// Detector compares the most recent window of a series against its trailing
// baseline and emits anomalies at or above the sigma threshold.
type Detector struct {
	source         StatsSource
	calc           *BaselineCalculator
	environment    string
	baselineWindow time.Duration
	currentWindow  time.Duration
	logger         *slog.Logger
}

// NewDetector constructs a detector. Non-positive windows fall back to the
// standard 7-day baseline and 1-hour current windows.
func NewDetector(source StatsSource, environment string, baselineWindow, currentWindow time.Duration, logger *slog.Logger) *Detector {
	if baselineWindow <= 0 {
		baselineWindow = 7 * 24 * time.Hour
	}
	if currentWindow <= 0 {
		currentWindow = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		source:         source,
		calc:           NewBaselineCalculator(),
		environment:    environment,
		baselineWindow: baselineWindow,
		currentWindow:  currentWindow,
		logger:         logger,
	}
}

// Evaluate checks one (service, metric) series at the given instant.
func (d *Detector) Evaluate(ctx context.Context, service, metric string, now time.Time) (Evaluation, error) {
	eval := Evaluation{Service: service, Metric: metric}

	baselineWindow, err := models.NewTimeRange(now.Add(-d.baselineWindow), now)
	if err != nil {
		return eval, err
	}
	currentWindow, err := models.NewTimeRange(now.Add(-d.currentWindow), now)
	if err != nil {
		return eval, err
	}

	baselineStats, err := d.source.QueryWindow(ctx, service, metric, baselineWindow)
	if err != nil {
		return eval, fmt.Errorf("baseline window for %s.%s: %w", service, metric, err)
	}
	if baselineStats.Count == 0 {
		eval.Reason = "no samples in baseline window"
		return eval, nil
	}

	currentStats, err := d.source.QueryWindow(ctx, service, metric, currentWindow)
	if err != nil {
		return eval, fmt.Errorf("current window for %s.%s: %w", service, metric, err)
	}
	if currentStats.Count == 0 {
		eval.Reason = "no samples in current window"
		return eval, nil
	}

	baseline, err := d.calc.FromStats(baselineStats, now)
	if err != nil {
		return eval, err
	}
	eval.Baseline = baseline

	currentMax := currentStats.Max

	if baseline.Degenerate() {
		if currentMax <= baseline.Threshold {
			eval.Reason = fmt.Sprintf("within degenerate band (max %.2f <= %.2f)", currentMax, baseline.Threshold)
			return eval, nil
		}
		result, err := models.NewAnomalyResult(metric, currentMax, baseline.Mean, 0, true,
			models.ClassifySeverity(models.UnboundedSigma), now, service, d.environment)
		if err != nil {
			return eval, err
		}
		eval.Anomalous = true
		eval.Result = result
		d.logAnomaly(result, baseline)
		return eval, nil
	}

	deviation := math.Abs(currentMax-baseline.Mean) / baseline.Stddev
	if deviation < models.SigmaThreshold {
		eval.Reason = fmt.Sprintf("deviation %.2fσ below threshold", deviation)
		return eval, nil
	}

	result, err := models.NewAnomalyResult(metric, currentMax, baseline.Mean, deviation, false,
		models.ClassifySeverity(deviation), now, service, d.environment)
	if err != nil {
		return eval, err
	}
	eval.Anomalous = true
	eval.Result = result
	d.logAnomaly(result, baseline)
	return eval, nil
}

// EvaluateAll discovers tracked series and evaluates each. Per-series fetch
// errors are logged and skipped so one broken series cannot hide the rest.
func (d *Detector) EvaluateAll(ctx context.Context, now time.Time) ([]Evaluation, error) {
	window, err := models.NewTimeRange(now.Add(-d.currentWindow), now)
	if err != nil {
		return nil, err
	}
	keys, err := d.source.ListSeries(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("series discovery: %w", err)
	}

	evals := make([]Evaluation, 0, len(keys))
	for _, key := range keys {
		eval, err := d.Evaluate(ctx, key.Service, key.Metric, now)
		if err != nil {
			d.logger.Warn("series evaluation failed",
				"service", key.Service, "metric", key.Metric, "error", err)
			continue
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

func (d *Detector) logAnomaly(result models.AnomalyResult, baseline models.Baseline) {
	d.logger.Warn("anomaly detected",
		"service", result.Service,
		"metric", result.Metric,
		"current", result.CurrentValue,
		"baseline_mean", baseline.Mean,
		"baseline_stddev", baseline.Stddev,
		"deviation_sigma", result.DeviationSigma,
		"severity", string(result.Severity))
}
