package models

import (
	"fmt"
	"math"
	"time"
)

// IncidentStatus enumerates the incident lifecycle states.
type IncidentStatus string

const (
	StatusDetected         IncidentStatus = "DETECTED"
	StatusAnalyzing        IncidentStatus = "ANALYZING"
	StatusAwaitingApproval IncidentStatus = "AWAITING_APPROVAL"
	StatusRemediating      IncidentStatus = "REMEDIATING"
	StatusResolved         IncidentStatus = "RESOLVED"
)

// Diagnosis records the current root-cause understanding of an incident.
type Diagnosis struct {
	RootCause         string
	AffectedComponent string
	ImpactExplanation string
	Confidence        float64
	Recommendations   []string
}

// PlaceholderDiagnosis seeds a fresh incident before any analysis has run.
func PlaceholderDiagnosis(component, impact string) Diagnosis {
	return Diagnosis{
		RootCause:         "Under investigation",
		AffectedComponent: component,
		ImpactExplanation: impact,
		Confidence:        0,
	}
}

// Remediation captures the fix applied to an incident.
type Remediation struct {
	FilePath    string
	Explanation string
	PRNumber    int
	PRURL       string
	Branch      string
	TicketID    string
}

// TimelineEntry is one event in an incident's history.
type TimelineEntry struct {
	Time   time.Time
	Event  string
	Detail string
	Status string
}

// IncidentRecord is the durable incident document. Records are never deleted;
// mutation happens only through the registry state machine.
type IncidentRecord struct {
	ID          string
	Title       string
	Service     string
	Environment string
	Severity    Severity
	Status      IncidentStatus
	Description string
	Anomaly     *AnomalyResult
	Diagnosis   *Diagnosis
	Remediation *Remediation
	Timeline    []TimelineEntry
	CreatedAt   time.Time
	ResolvedAt  *time.Time
	// MTTRSeconds is resolved_at - created_at in seconds, set on resolution.
	MTTRSeconds *float64
}

const mttrToleranceSeconds = 1.0

// Validate enforces the resolution invariant: a RESOLVED record carries
// resolved_at, a matching MTTR, a diagnosis and a remediation.
func (r IncidentRecord) Validate() error {
	if _, err := ParseSeverity(string(r.Severity)); err != nil {
		return err
	}
	if r.Status != StatusResolved {
		return nil
	}
	if r.ResolvedAt == nil {
		return &ConsistencyError{Field: "resolved_at", Reason: "RESOLVED incident requires a resolution timestamp"}
	}
	if r.MTTRSeconds == nil {
		return &ConsistencyError{Field: "mttr", Reason: "RESOLVED incident requires an MTTR value"}
	}
	expected := r.ResolvedAt.Sub(r.CreatedAt).Seconds()
	if math.Abs(*r.MTTRSeconds-expected) > mttrToleranceSeconds {
		return &ConsistencyError{Field: "mttr", Reason: fmt.Sprintf("%.2fs does not match resolved_at - created_at = %.2fs", *r.MTTRSeconds, expected)}
	}
	if *r.MTTRSeconds < 0 {
		return &ConsistencyError{Field: "mttr", Reason: fmt.Sprintf("must be non-negative, got %.2f", *r.MTTRSeconds)}
	}
	if r.Diagnosis == nil {
		return &ConsistencyError{Field: "diagnosis", Reason: "RESOLVED incident requires a diagnosis"}
	}
	if r.Remediation == nil {
		return &ConsistencyError{Field: "remediation", Reason: "RESOLVED incident requires a remediation"}
	}
	return nil
}

// AppendTimeline adds an event to the incident history.
func (r *IncidentRecord) AppendTimeline(at time.Time, event, detail, status string) {
	r.Timeline = append(r.Timeline, TimelineEntry{Time: at, Event: event, Detail: detail, Status: status})
}
