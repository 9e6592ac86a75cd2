package models

import (
	"fmt"
	"math"
	"time"
)

// Severity captures incident impact levels.
type Severity string

const (
	SeverityCritical Severity = "Sev-1"
	SeverityHigh     Severity = "Sev-2"
	SeverityMedium   Severity = "Sev-3"
)

// ParseSeverity validates a severity string.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium:
		return Severity(value), nil
	}
	return "", &ConsistencyError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", value)}
}

// ConsistencyError reports an entity that failed an invariant at construction
// time. Entities carrying a ConsistencyError must never be persisted.
type ConsistencyError struct {
	Field  string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation on %s: %s", e.Field, e.Reason)
}

// TimeRange bounds a query window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange validates that start precedes end.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, &ConsistencyError{Field: "time_range", Reason: fmt.Sprintf("start %s must be before end %s", start, end)}
	}
	return TimeRange{Start: start, End: end}, nil
}

// MetricDataPoint is a single observation from the instrumentation stream.
type MetricDataPoint struct {
	Timestamp   time.Time
	MetricName  string
	Value       float64
	Service     string
	Environment string
	Tags        map[string]string
}

// nonNegativeMetrics lists metric classes whose values cannot be negative.
var nonNegativeMetrics = map[string]struct{}{
	"p99_latency":   {},
	"p95_latency":   {},
	"throughput":    {},
	"request_count": {},
}

// NewMetricDataPoint validates timestamp recency and value sign before
// constructing the point.
func NewMetricDataPoint(ts time.Time, metric string, value float64, service, environment string, tags map[string]string) (MetricDataPoint, error) {
	now := time.Now().UTC()
	if ts.Before(now.AddDate(0, 0, -30)) {
		return MetricDataPoint{}, &ConsistencyError{Field: "timestamp", Reason: fmt.Sprintf("older than 30 days: %s", ts)}
	}
	if ts.After(now) {
		return MetricDataPoint{}, &ConsistencyError{Field: "timestamp", Reason: fmt.Sprintf("in the future: %s", ts)}
	}
	if _, restricted := nonNegativeMetrics[metric]; restricted && value < 0 {
		return MetricDataPoint{}, &ConsistencyError{Field: "value", Reason: fmt.Sprintf("%s must be non-negative, got %f", metric, value)}
	}
	if tags == nil {
		tags = map[string]string{}
	}
	return MetricDataPoint{
		Timestamp:   ts,
		MetricName:  metric,
		Value:       value,
		Service:     service,
		Environment: environment,
		Tags:        tags,
	}, nil
}

// Baseline is the rolling statistical summary for one (service, metric) pair.
// threshold == mean + 3*stddev, except when stddev == 0 where the degenerate
// band threshold == mean * 1.1 applies.
type Baseline struct {
	Mean         float64
	Stddev       float64
	Threshold    float64
	CalculatedAt time.Time
}

const (
	// SigmaThreshold is the detection threshold in standard deviations.
	SigmaThreshold = 3.0
	// DegenerateBandFactor widens a zero-variance baseline into a usable band.
	DegenerateBandFactor = 1.1

	baselineTolerance = 0.01
)

// NewBaseline computes the detection threshold from window statistics and
// validates the numeric invariants.
func NewBaseline(mean, stddev float64, calculatedAt time.Time) (Baseline, error) {
	if mean < 0 || stddev < 0 {
		return Baseline{}, &ConsistencyError{Field: "baseline", Reason: fmt.Sprintf("mean %f and stddev %f must be non-negative", mean, stddev)}
	}
	threshold := mean + SigmaThreshold*stddev
	if stddev == 0 {
		threshold = mean * DegenerateBandFactor
	}
	b := Baseline{Mean: mean, Stddev: stddev, Threshold: threshold, CalculatedAt: calculatedAt}
	if err := b.Validate(); err != nil {
		return Baseline{}, err
	}
	return b, nil
}

// Validate re-checks the threshold invariant on an already constructed value.
func (b Baseline) Validate() error {
	expected := b.Mean + SigmaThreshold*b.Stddev
	if b.Stddev == 0 {
		expected = b.Mean * DegenerateBandFactor
	}
	if math.Abs(b.Threshold-expected) > baselineTolerance {
		return &ConsistencyError{Field: "threshold", Reason: fmt.Sprintf("expected %f, got %f", expected, b.Threshold)}
	}
	if b.Threshold < 0 {
		return &ConsistencyError{Field: "threshold", Reason: fmt.Sprintf("must be non-negative, got %f", b.Threshold)}
	}
	return nil
}

// Degenerate reports whether the baseline had zero variance.
func (b Baseline) Degenerate() bool { return b.Stddev == 0 }

// AnomalyResult is an above-threshold deviation. Sub-threshold deviations are
// not anomalies and cannot be constructed.
type AnomalyResult struct {
	Metric         string
	CurrentValue   float64
	ExpectedValue  float64
	DeviationSigma float64
	// Unbounded flags a detection against a zero-variance baseline, where
	// deviation in sigmas is undefined.
	Unbounded   bool
	Severity    Severity
	DetectedAt  time.Time
	Service     string
	Environment string
}

// UnboundedSigma is the sigma recorded for zero-variance detections so that
// severity classification and the >= 3.0 invariant still hold.
const UnboundedSigma = 1e9

// NewAnomalyResult validates the deviation floor and the severity/deviation
// agreement before constructing the result.
func NewAnomalyResult(metric string, current, expected, deviationSigma float64, unbounded bool, severity Severity, detectedAt time.Time, service, environment string) (AnomalyResult, error) {
	if unbounded {
		deviationSigma = UnboundedSigma
	}
	if deviationSigma < SigmaThreshold {
		return AnomalyResult{}, &ConsistencyError{Field: "deviation_sigma", Reason: fmt.Sprintf("%f below detection threshold %f", deviationSigma, SigmaThreshold)}
	}
	if expect := ClassifySeverity(deviationSigma); expect != severity {
		return AnomalyResult{}, &ConsistencyError{Field: "severity", Reason: fmt.Sprintf("deviation %.2fσ requires %s, got %s", deviationSigma, expect, severity)}
	}
	return AnomalyResult{
		Metric:         metric,
		CurrentValue:   current,
		ExpectedValue:  expected,
		DeviationSigma: deviationSigma,
		Unbounded:      unbounded,
		Severity:       severity,
		DetectedAt:     detectedAt,
		Service:        service,
		Environment:    environment,
	}, nil
}

// ClassifySeverity is the canonical sigma-to-severity mapping: >= 5σ is Sev-1,
// [3σ, 5σ) is Sev-2. Callers must not classify sub-threshold deviations.
func ClassifySeverity(deviationSigma float64) Severity {
	if deviationSigma >= 5.0 {
		return SeverityCritical
	}
	return SeverityHigh
}

// AnomalyRecord is a persisted anomaly, either emitted by the detector or
// registered manually. IDs follow the ANOM-#### sequence.
type AnomalyRecord struct {
	ID         string
	Result     AnomalyResult
	Status     string
	Registered bool
}

// ClassifySeverityCoarse is the legacy mapping kept for manually registered
// incidents whose deviation was never measured: >= 5σ Sev-1, >= 4σ Sev-2,
// everything else Sev-3. It never gates detection.
func ClassifySeverityCoarse(deviationSigma float64) Severity {
	switch {
	case deviationSigma >= 5.0:
		return SeverityCritical
	case deviationSigma >= 4.0:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
