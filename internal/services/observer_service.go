package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seerstack/seer-observer/internal/audit"
	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/monitor"
	"github.com/seerstack/seer-observer/internal/registry"
	"github.com/seerstack/seer-observer/internal/repo"
	"github.com/seerstack/seer-observer/internal/utils"
	"github.com/seerstack/seer-observer/internal/workflow"
)

const (
	anomalyIDPrefix = "ANOM-"
	firstAnomalySeq = 1001
	// pseudoSigmaFraction stands in for a measured stddev on manual
	// registrations: one pseudo-sigma is a tenth of the expected value.
	pseudoSigmaFraction = 0.1
)

// AnomalyStore persists manually registered anomaly records.
type AnomalyStore interface {
	PutAnomaly(ctx context.Context, rec models.AnomalyRecord) error
	ListAnomalies(ctx context.Context, limit int) ([]models.AnomalyRecord, error)
}

// MetricsIngester writes validated observations to the metrics store.
type MetricsIngester interface {
	IngestPoints(ctx context.Context, points []models.MetricDataPoint) error
}

// ObserverService is the facade the API surface talks to. It composes the
// monitoring loop, the incident registry, the workflow orchestrator and the
// activity log.
type ObserverService struct {
	logger    *slog.Logger
	monitor   *monitor.Engine
	orch      *workflow.Orchestrator
	registry  *registry.Registry
	anomalies AnomalyStore
	activity  *audit.Log
	suspects  workflow.SuspectSource
	points    MetricsIngester
	latencies *utils.LatencyTracker

	anomalyAllocMu sync.Mutex
	now            func() time.Time
}

// NewObserverService constructs the service facade. suspects and points may
// be nil when the commit gateway or metrics store is not configured.
func NewObserverService(
	logger *slog.Logger,
	mon *monitor.Engine,
	orch *workflow.Orchestrator,
	reg *registry.Registry,
	anomalies AnomalyStore,
	activity *audit.Log,
	suspects workflow.SuspectSource,
	points MetricsIngester,
) *ObserverService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObserverService{
		logger:    logger,
		monitor:   mon,
		orch:      orch,
		registry:  reg,
		anomalies: anomalies,
		activity:  activity,
		suspects:  suspects,
		points:    points,
		latencies: utils.NewLatencyTracker(1024),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartMonitoring launches the detection loop.
func (s *ObserverService) StartMonitoring() {
	s.monitor.Start()
}

// StopMonitoring halts the detection loop at the next iteration boundary.
func (s *ObserverService) StopMonitoring() {
	s.monitor.Stop()
}

// MonitoringStatus is the status payload exposed by the API.
type MonitoringStatus struct {
	Running          bool
	IntervalSeconds  float64
	LastCheck        time.Time
	CyclesRun        int
	SigmaThreshold   float64
	RecentAnomalies  []models.AnomalyResult
	PendingWorkflows int
}

// Status reports the monitoring loop state plus the approval-gate backlog.
func (s *ObserverService) Status(ctx context.Context) (MonitoringStatus, error) {
	ms := s.monitor.Status()
	pending, err := s.orch.Pending(ctx)
	if err != nil {
		return MonitoringStatus{}, err
	}
	return MonitoringStatus{
		Running:          ms.Running,
		IntervalSeconds:  ms.Interval.Seconds(),
		LastCheck:        ms.LastCheck,
		CyclesRun:        ms.CyclesRun,
		SigmaThreshold:   models.SigmaThreshold,
		RecentAnomalies:  ms.RecentAnomalies,
		PendingWorkflows: len(pending),
	}, nil
}

// RegisterIncidentInput is a manual incident registration. Metric,
// CurrentValue and ExpectedValue are optional; when all are present the
// incident carries a pseudo-deviation anomaly.
type RegisterIncidentInput struct {
	Title         string
	Service       string
	Environment   string
	Severity      string
	Description   string
	Metric        string
	CurrentValue  float64
	ExpectedValue float64
	User          string
}

// RegisterIncident opens an operator-reported incident.
func (s *ObserverService) RegisterIncident(ctx context.Context, input RegisterIncidentInput) (models.IncidentRecord, error) {
	severity, err := models.ParseSeverity(input.Severity)
	if err != nil {
		return models.IncidentRecord{}, err
	}

	var anomaly *models.AnomalyResult
	if input.Metric != "" && input.CurrentValue != 0 && input.ExpectedValue != 0 {
		anomaly = &models.AnomalyResult{
			Metric:         input.Metric,
			CurrentValue:   input.CurrentValue,
			ExpectedValue:  input.ExpectedValue,
			DeviationSigma: pseudoDeviation(input.CurrentValue, input.ExpectedValue),
			Severity:       severity,
			DetectedAt:     s.now(),
			Service:        input.Service,
			Environment:    input.Environment,
		}
	}

	incident, err := s.registry.Register(ctx, registry.RegisterInput{
		Title:       input.Title,
		Service:     input.Service,
		Environment: input.Environment,
		Severity:    severity,
		Description: input.Description,
		Anomaly:     anomaly,
	})
	if err != nil {
		return models.IncidentRecord{}, err
	}

	s.activity.Record(ctx, audit.TypeIncidentRegistered, input.User, "incident registered manually: "+input.Title, audit.StatusSuccess, map[string]string{
		"incident_id": incident.ID,
		"service":     input.Service,
	})
	return incident, nil
}

// RegisterAnomalyInput is a manual anomaly registration.
type RegisterAnomalyInput struct {
	Service       string
	Metric        string
	Environment   string
	CurrentValue  float64
	ExpectedValue float64
	User          string
}

// RegisterAnomaly records an operator-reported anomaly. The deviation is
// computed against a pseudo-sigma of a tenth of the expected value and
// classified with the coarse severity scheme.
func (s *ObserverService) RegisterAnomaly(ctx context.Context, input RegisterAnomalyInput) (models.AnomalyRecord, error) {
	if input.Service == "" || input.Metric == "" {
		return models.AnomalyRecord{}, &models.ConsistencyError{Field: "anomaly", Reason: "service and metric are required"}
	}
	if input.ExpectedValue <= 0 {
		return models.AnomalyRecord{}, &models.ConsistencyError{Field: "expected_value", Reason: "must be positive"}
	}

	s.anomalyAllocMu.Lock()
	defer s.anomalyAllocMu.Unlock()

	id, err := s.nextAnomalyID(ctx)
	if err != nil {
		return models.AnomalyRecord{}, err
	}

	deviation := pseudoDeviation(input.CurrentValue, input.ExpectedValue)
	rec := models.AnomalyRecord{
		ID: id,
		Result: models.AnomalyResult{
			Metric:         input.Metric,
			CurrentValue:   input.CurrentValue,
			ExpectedValue:  input.ExpectedValue,
			DeviationSigma: deviation,
			Severity:       models.ClassifySeverityCoarse(deviation),
			DetectedAt:     s.now(),
			Service:        input.Service,
			Environment:    input.Environment,
		},
		Status:     "active",
		Registered: true,
	}
	if err := s.anomalies.PutAnomaly(ctx, rec); err != nil {
		return models.AnomalyRecord{}, err
	}

	s.activity.Record(ctx, audit.TypeAnomalyDetected, input.User,
		fmt.Sprintf("anomaly registered manually: %s.%s %.2fσ", input.Service, input.Metric, deviation),
		audit.StatusSuccess, map[string]string{"anomaly_id": id})
	return rec, nil
}

func (s *ObserverService) nextAnomalyID(ctx context.Context) (string, error) {
	records, err := s.anomalies.ListAnomalies(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("scan anomaly ids: %w", err)
	}
	maxSeq := firstAnomalySeq - 1
	for _, rec := range records {
		suffix, ok := strings.CutPrefix(rec.ID, anomalyIDPrefix)
		if !ok || len(suffix) != 4 {
			continue
		}
		seq, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return fmt.Sprintf("%s%04d", anomalyIDPrefix, maxSeq+1), nil
}

// ApproveWorkflow accepts a pending remediation and times the decision path.
func (s *ObserverService) ApproveWorkflow(ctx context.Context, workflowID, user string) (models.PendingWorkflow, error) {
	start := s.now()
	wf, err := s.orch.Approve(ctx, workflowID, user)
	if err != nil {
		return models.PendingWorkflow{}, err
	}
	s.latencies.Observe(s.now().Sub(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("approval latency", "p95", s.latencies.Percentile(95), "samples", count)
	}
	return wf, nil
}

// RejectWorkflow declines a pending remediation.
func (s *ObserverService) RejectWorkflow(ctx context.Context, workflowID, user, reason string) (models.PendingWorkflow, error) {
	return s.orch.Reject(ctx, workflowID, user, reason)
}

// PendingWorkflows lists workflows waiting at the approval gate.
func (s *ObserverService) PendingWorkflows(ctx context.Context) ([]models.PendingWorkflow, error) {
	return s.orch.Pending(ctx)
}

// GetIncident returns one incident.
func (s *ObserverService) GetIncident(ctx context.Context, id string) (models.IncidentRecord, error) {
	return s.registry.Get(ctx, id)
}

// ListIncidents returns incidents newest first.
func (s *ObserverService) ListIncidents(ctx context.Context, limit int) ([]models.IncidentRecord, error) {
	return s.registry.List(ctx, limit)
}

// ListAnomalies returns anomaly records newest first.
func (s *ObserverService) ListAnomalies(ctx context.Context, limit int) ([]models.AnomalyRecord, error) {
	return s.anomalies.ListAnomalies(ctx, limit)
}

// RecentActivity returns activity entries newest first.
func (s *ObserverService) RecentActivity(ctx context.Context, activityType string, since time.Time, limit int) ([]repo.ActivityEntry, error) {
	return s.activity.Recent(ctx, activityType, since, limit)
}

// ActivityStats aggregates recent activity by type and status.
func (s *ObserverService) ActivityStats(ctx context.Context, lookback time.Duration) (audit.Stats, error) {
	return s.activity.Stats(ctx, lookback)
}

// SuspectCommits ranks commits landed shortly before the given instant.
func (s *ObserverService) SuspectCommits(ctx context.Context, anomalyAt time.Time) ([]detect.SuspectCommit, error) {
	if s.suspects == nil {
		return nil, utils.NewAppError("suspect_commits", "commit gateway not configured", nil)
	}
	suspects, err := s.suspects.Suspects(ctx, anomalyAt)
	if err != nil {
		return nil, utils.NewAppError("suspect_commits", "correlate commits", err)
	}
	return suspects, nil
}

// MetricPointInput is one observation submitted for ingestion.
type MetricPointInput struct {
	Timestamp   time.Time
	Metric      string
	Value       float64
	Service     string
	Environment string
	Tags        map[string]string
}

// IngestMetrics validates and writes observations to the metrics store. The
// whole batch is rejected when any point fails validation.
func (s *ObserverService) IngestMetrics(ctx context.Context, inputs []MetricPointInput) (int, error) {
	if s.points == nil {
		return 0, utils.NewAppError("ingest_metrics", "metrics store not configured", nil)
	}
	if len(inputs) == 0 {
		return 0, &models.ConsistencyError{Field: "points", Reason: "at least one point is required"}
	}

	points := make([]models.MetricDataPoint, 0, len(inputs))
	for _, in := range inputs {
		point, err := models.NewMetricDataPoint(in.Timestamp, in.Metric, in.Value, in.Service, in.Environment, in.Tags)
		if err != nil {
			return 0, err
		}
		points = append(points, point)
	}
	if err := s.points.IngestPoints(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// ApprovalLatencyP95 returns the p95 approval decision latency.
func (s *ObserverService) ApprovalLatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func pseudoDeviation(current, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	deviation := current - expected
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation / (expected * pseudoSigmaFraction)
}
