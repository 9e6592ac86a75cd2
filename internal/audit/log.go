package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/seerstack/seer-observer/internal/repo"
)

// Activity types recorded by the observer.
const (
	TypeAnomalyDetected    = "anomaly_detected"
	TypeIncidentRegistered = "incident_registered"
	TypeWorkflowCreated    = "workflow_created"
	TypeWorkflowApproved   = "workflow_approved"
	TypeWorkflowRejected   = "workflow_rejected"
	TypePipelineStep       = "pipeline_step"
	TypeIncidentResolved   = "incident_resolved"
)

// Statuses an activity entry can carry.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// SystemUser marks entries produced by the monitoring loop rather than an
// operator.
const SystemUser = "system"

// Store is the persistence surface the log writes to. Activities are
// append-only; there is no mutation API to expose.
type Store interface {
	AppendActivity(ctx context.Context, entry repo.ActivityEntry) error
	ListActivities(ctx context.Context, activityType string, since time.Time, limit int) ([]repo.ActivityEntry, error)
}

// Log records observer activity. Recording is best-effort: a failed append is
// logged and swallowed so audit trouble never blocks the pipeline.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLog constructs an activity log over the given store.
func NewLog(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one activity entry.
func (l *Log) Record(ctx context.Context, activityType, user, summary, status string, details map[string]string) {
	if user == "" {
		user = SystemUser
	}
	entry := repo.ActivityEntry{
		Timestamp: l.now(),
		Type:      activityType,
		User:      user,
		Summary:   summary,
		Details:   details,
		Status:    status,
	}
	if err := l.store.AppendActivity(ctx, entry); err != nil {
		l.logger.Error("activity append failed", "type", activityType, "error", err)
	}
}

// Recent returns activity entries newest first, optionally filtered by type
// and lower time bound.
func (l *Log) Recent(ctx context.Context, activityType string, since time.Time, limit int) ([]repo.ActivityEntry, error) {
	return l.store.ListActivities(ctx, activityType, since, limit)
}
