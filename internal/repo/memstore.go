package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seerstack/seer-observer/internal/models"
)

// ErrNotFound signals a missing document.
var ErrNotFound = fmt.Errorf("document not found")

// ActivityEntry is one append-only audit record.
type ActivityEntry struct {
	Timestamp time.Time
	Type      string
	User      string
	Summary   string
	Details   map[string]string
	Status    string
}

// MemoryStore is the authoritative in-process document store for incidents,
// pending workflows, anomaly records and the activity log. Reads return
// copies; callers never share memory with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	incidents  map[string]models.IncidentRecord
	workflows  map[string]models.PendingWorkflow
	anomalies  []models.AnomalyRecord
	activities []ActivityEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]models.IncidentRecord),
		workflows: make(map[string]models.PendingWorkflow),
	}
}

// GetIncident returns one incident by id.
func (s *MemoryStore) GetIncident(_ context.Context, id string) (models.IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.incidents[id]
	if !ok {
		return models.IncidentRecord{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return copyIncident(rec), nil
}

// PutIncident upserts an incident document.
func (s *MemoryStore) PutIncident(_ context.Context, rec models.IncidentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("incident id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[rec.ID] = copyIncident(rec)
	return nil
}

// ListIncidents returns incidents newest first. limit <= 0 returns all.
func (s *MemoryStore) ListIncidents(_ context.Context, limit int) ([]models.IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]models.IncidentRecord, 0, len(s.incidents))
	for _, rec := range s.incidents {
		records = append(records, copyIncident(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetWorkflow returns one pending workflow by id.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (models.PendingWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return models.PendingWorkflow{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf, nil
}

// PutWorkflow upserts a pending workflow document.
func (s *MemoryStore) PutWorkflow(_ context.Context, wf models.PendingWorkflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

// ListWorkflows returns workflows with the given status, newest first.
// An empty status returns all workflows.
func (s *MemoryStore) ListWorkflows(_ context.Context, status models.WorkflowStatus, limit int) ([]models.PendingWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]models.PendingWorkflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if status != "" && wf.Status != status {
			continue
		}
		flows = append(flows, wf)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
	if limit > 0 && len(flows) > limit {
		flows = flows[:limit]
	}
	return flows, nil
}

// PutAnomaly appends an anomaly record.
func (s *MemoryStore) PutAnomaly(_ context.Context, rec models.AnomalyRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("anomaly id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, rec)
	return nil
}

// ListAnomalies returns anomaly records newest first. limit <= 0 returns all.
func (s *MemoryStore) ListAnomalies(_ context.Context, limit int) ([]models.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := append([]models.AnomalyRecord(nil), s.anomalies...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Result.DetectedAt.After(records[j].Result.DetectedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// AppendActivity adds an audit entry. There is no mutation or deletion API.
func (s *MemoryStore) AppendActivity(_ context.Context, entry ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Details == nil {
		entry.Details = map[string]string{}
	}
	s.activities = append(s.activities, entry)
	return nil
}

// ListActivities returns audit entries newest first, optionally filtered by
// type and lower time bound.
func (s *MemoryStore) ListActivities(_ context.Context, activityType string, since time.Time, limit int) ([]ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]ActivityEntry, 0, len(s.activities))
	for _, entry := range s.activities {
		if activityType != "" && entry.Type != activityType {
			continue
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func copyIncident(rec models.IncidentRecord) models.IncidentRecord {
	out := rec
	if rec.Anomaly != nil {
		anomaly := *rec.Anomaly
		out.Anomaly = &anomaly
	}
	if rec.Diagnosis != nil {
		diag := *rec.Diagnosis
		diag.Recommendations = append([]string(nil), rec.Diagnosis.Recommendations...)
		out.Diagnosis = &diag
	}
	if rec.Remediation != nil {
		rem := *rec.Remediation
		out.Remediation = &rem
	}
	if rec.ResolvedAt != nil {
		at := *rec.ResolvedAt
		out.ResolvedAt = &at
	}
	if rec.MTTRSeconds != nil {
		mttr := *rec.MTTRSeconds
		out.MTTRSeconds = &mttr
	}
	out.Timeline = append([]models.TimelineEntry(nil), rec.Timeline...)
	return out
}
