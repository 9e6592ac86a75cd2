package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seerstack/seer-observer/internal/models"
)

// Store is the persistence surface the registry needs.
type Store interface {
	GetIncident(ctx context.Context, id string) (models.IncidentRecord, error)
	PutIncident(ctx context.Context, rec models.IncidentRecord) error
	ListIncidents(ctx context.Context, limit int) ([]models.IncidentRecord, error)
}

// InvalidTransitionError reports a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	ID   string
	From models.IncidentStatus
	To   models.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("incident %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// validTransitions is the incident lifecycle. RESOLVED has no outgoing edges.
var validTransitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.StatusDetected:         {models.StatusAnalyzing},
	models.StatusAnalyzing:        {models.StatusAwaitingApproval},
	models.StatusAwaitingApproval: {models.StatusRemediating},
	models.StatusRemediating:      {models.StatusResolved},
	models.StatusResolved:         {},
}

const (
	incidentIDPrefix = "INC-"
	firstIncidentSeq = 1001
)

// RegisterInput carries the fields needed to open an incident.
type RegisterInput struct {
	Title       string
	Service     string
	Environment string
	Severity    models.Severity
	Description string
	Anomaly     *models.AnomalyResult
}

// Registry owns incident identity and lifecycle. ID allocation is serialized
// under a single mutex; record mutation is serialized per incident id.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	allocMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a registry over the given store.
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	return mu
}

// Register opens a new DETECTED incident with a freshly allocated id.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (models.IncidentRecord, error) {
	if input.Title == "" {
		return models.IncidentRecord{}, &models.ConsistencyError{Field: "title", Reason: "required"}
	}
	if input.Service == "" {
		return models.IncidentRecord{}, &models.ConsistencyError{Field: "service", Reason: "required"}
	}
	if _, err := models.ParseSeverity(string(input.Severity)); err != nil {
		return models.IncidentRecord{}, err
	}

	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	id, err := r.nextID(ctx)
	if err != nil {
		return models.IncidentRecord{}, err
	}

	now := r.now()
	diagnosis := models.PlaceholderDiagnosis(input.Service, input.Description)
	rec := models.IncidentRecord{
		ID:          id,
		Title:       input.Title,
		Service:     input.Service,
		Environment: input.Environment,
		Severity:    input.Severity,
		Status:      models.StatusDetected,
		Description: input.Description,
		Anomaly:     input.Anomaly,
		Diagnosis:   &diagnosis,
		CreatedAt:   now,
	}
	rec.AppendTimeline(now, "detected", input.Title, string(models.StatusDetected))

	if err := rec.Validate(); err != nil {
		return models.IncidentRecord{}, err
	}
	if err := r.store.PutIncident(ctx, rec); err != nil {
		return models.IncidentRecord{}, err
	}

	r.logger.Info("incident registered",
		"incident_id", id, "service", input.Service, "severity", string(input.Severity))
	return rec, nil
}

// nextID scans existing ids for the highest valid 4-digit suffix and returns
// the successor. Callers must hold allocMu.
func (r *Registry) nextID(ctx context.Context) (string, error) {
	records, err := r.store.ListIncidents(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("scan incident ids: %w", err)
	}
	maxSeq := firstIncidentSeq - 1
	for _, rec := range records {
		suffix, ok := strings.CutPrefix(rec.ID, incidentIDPrefix)
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
	return fmt.Sprintf("%s%04d", incidentIDPrefix, maxSeq+1), nil
}

// Transition moves an incident one step along the lifecycle.
func (r *Registry) Transition(ctx context.Context, id string, to models.IncidentStatus, detail string) (models.IncidentRecord, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.store.GetIncident(ctx, id)
	if err != nil {
		return models.IncidentRecord{}, err
	}
	if !transitionAllowed(rec.Status, to) {
		return models.IncidentRecord{}, &InvalidTransitionError{ID: id, From: rec.Status, To: to}
	}

	rec.Status = to
	rec.AppendTimeline(r.now(), "transition", detail, string(to))
	if err := rec.Validate(); err != nil {
		return models.IncidentRecord{}, err
	}
	if err := r.store.PutIncident(ctx, rec); err != nil {
		return models.IncidentRecord{}, err
	}

	r.logger.Info("incident transitioned", "incident_id", id, "status", string(to))
	return rec, nil
}

// Resolve closes a REMEDIATING incident, stamping resolution time and MTTR.
// The record must already carry a diagnosis and a remediation.
func (r *Registry) Resolve(ctx context.Context, id string, detail string) (models.IncidentRecord, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.store.GetIncident(ctx, id)
	if err != nil {
		return models.IncidentRecord{}, err
	}
	if !transitionAllowed(rec.Status, models.StatusResolved) {
		return models.IncidentRecord{}, &InvalidTransitionError{ID: id, From: rec.Status, To: models.StatusResolved}
	}

	now := r.now()
	mttr := now.Sub(rec.CreatedAt).Seconds()
	rec.Status = models.StatusResolved
	rec.ResolvedAt = &now
	rec.MTTRSeconds = &mttr
	rec.AppendTimeline(now, "resolved", detail, string(models.StatusResolved))

	if err := rec.Validate(); err != nil {
		return models.IncidentRecord{}, err
	}
	if err := r.store.PutIncident(ctx, rec); err != nil {
		return models.IncidentRecord{}, err
	}

	r.logger.Info("incident resolved", "incident_id", id, "mttr_seconds", mttr)
	return rec, nil
}

// AttachDiagnosis replaces the incident's diagnosis.
func (r *Registry) AttachDiagnosis(ctx context.Context, id string, diagnosis models.Diagnosis) (models.IncidentRecord, error) {
	return r.update(ctx, id, func(rec *models.IncidentRecord) {
		rec.Diagnosis = &diagnosis
		rec.AppendTimeline(r.now(), "diagnosis", diagnosis.RootCause, string(rec.Status))
	})
}

// AttachRemediation records the fix applied to the incident.
func (r *Registry) AttachRemediation(ctx context.Context, id string, remediation models.Remediation) (models.IncidentRecord, error) {
	return r.update(ctx, id, func(rec *models.IncidentRecord) {
		rec.Remediation = &remediation
		rec.AppendTimeline(r.now(), "remediation", remediation.PRURL, string(rec.Status))
	})
}

func (r *Registry) update(ctx context.Context, id string, apply func(*models.IncidentRecord)) (models.IncidentRecord, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.store.GetIncident(ctx, id)
	if err != nil {
		return models.IncidentRecord{}, err
	}
	// RESOLVED is terminal; attached diagnosis and remediation are frozen
	// with the record.
	if rec.Status == models.StatusResolved {
		return models.IncidentRecord{}, &models.ConsistencyError{Field: "status", Reason: fmt.Sprintf("incident %s is RESOLVED and immutable", id)}
	}
	apply(&rec)
	if err := rec.Validate(); err != nil {
		return models.IncidentRecord{}, err
	}
	if err := r.store.PutIncident(ctx, rec); err != nil {
		return models.IncidentRecord{}, err
	}
	return rec, nil
}

// Get returns one incident.
func (r *Registry) Get(ctx context.Context, id string) (models.IncidentRecord, error) {
	return r.store.GetIncident(ctx, id)
}

// List returns incidents newest first.
func (r *Registry) List(ctx context.Context, limit int) ([]models.IncidentRecord, error) {
	return r.store.ListIncidents(ctx, limit)
}

func transitionAllowed(from, to models.IncidentStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
