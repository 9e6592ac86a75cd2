package api

import (
	"time"

	"github.com/seerstack/seer-observer/internal/models"
)

type anomalyDTO struct {
	Metric         string    `json:"metric"`
	CurrentValue   float64   `json:"current_value"`
	ExpectedValue  float64   `json:"expected_value"`
	DeviationSigma float64   `json:"deviation_sigma"`
	Unbounded      bool      `json:"unbounded,omitempty"`
	Severity       string    `json:"severity"`
	DetectedAt     time.Time `json:"detected_at"`
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
}

func toAnomalyDTO(a models.AnomalyResult) anomalyDTO {
	return anomalyDTO{
		Metric:         a.Metric,
		CurrentValue:   a.CurrentValue,
		ExpectedValue:  a.ExpectedValue,
		DeviationSigma: a.DeviationSigma,
		Unbounded:      a.Unbounded,
		Severity:       string(a.Severity),
		DetectedAt:     a.DetectedAt,
		Service:        a.Service,
		Environment:    a.Environment,
	}
}

type anomalyRecordDTO struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Registered bool       `json:"registered"`
	Anomaly    anomalyDTO `json:"anomaly"`
}

func toAnomalyRecordDTO(rec models.AnomalyRecord) anomalyRecordDTO {
	return anomalyRecordDTO{
		ID:         rec.ID,
		Status:     rec.Status,
		Registered: rec.Registered,
		Anomaly:    toAnomalyDTO(rec.Result),
	}
}

type diagnosisDTO struct {
	RootCause         string   `json:"root_cause"`
	AffectedComponent string   `json:"affected_component"`
	ImpactExplanation string   `json:"impact_explanation"`
	Confidence        float64  `json:"confidence"`
	Recommendations   []string `json:"recommendations,omitempty"`
}

type remediationDTO struct {
	FilePath    string `json:"file_path"`
	Explanation string `json:"explanation"`
	PRNumber    int    `json:"pr_number,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
	Branch      string `json:"branch,omitempty"`
	TicketID    string `json:"ticket_id,omitempty"`
}

type timelineEntryDTO struct {
	Time   time.Time `json:"time"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
	Status string    `json:"status,omitempty"`
}

type incidentDTO struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Service     string             `json:"service"`
	Environment string             `json:"environment"`
	Severity    string             `json:"severity"`
	Status      string             `json:"status"`
	Description string             `json:"description,omitempty"`
	Anomaly     *anomalyDTO        `json:"anomaly,omitempty"`
	Diagnosis   *diagnosisDTO      `json:"diagnosis,omitempty"`
	Remediation *remediationDTO    `json:"remediation,omitempty"`
	Timeline    []timelineEntryDTO `json:"timeline,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
	MTTRSeconds *float64           `json:"mttr_seconds,omitempty"`
}

func toIncidentDTO(rec models.IncidentRecord) incidentDTO {
	dto := incidentDTO{
		ID:          rec.ID,
		Title:       rec.Title,
		Service:     rec.Service,
		Environment: rec.Environment,
		Severity:    string(rec.Severity),
		Status:      string(rec.Status),
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
		ResolvedAt:  rec.ResolvedAt,
		MTTRSeconds: rec.MTTRSeconds,
	}
	if rec.Anomaly != nil {
		a := toAnomalyDTO(*rec.Anomaly)
		dto.Anomaly = &a
	}
	if rec.Diagnosis != nil {
		dto.Diagnosis = &diagnosisDTO{
			RootCause:         rec.Diagnosis.RootCause,
			AffectedComponent: rec.Diagnosis.AffectedComponent,
			ImpactExplanation: rec.Diagnosis.ImpactExplanation,
			Confidence:        rec.Diagnosis.Confidence,
			Recommendations:   rec.Diagnosis.Recommendations,
		}
	}
	if rec.Remediation != nil {
		dto.Remediation = &remediationDTO{
			FilePath:    rec.Remediation.FilePath,
			Explanation: rec.Remediation.Explanation,
			PRNumber:    rec.Remediation.PRNumber,
			PRURL:       rec.Remediation.PRURL,
			Branch:      rec.Remediation.Branch,
			TicketID:    rec.Remediation.TicketID,
		}
	}
	for _, entry := range rec.Timeline {
		dto.Timeline = append(dto.Timeline, timelineEntryDTO{
			Time:   entry.Time,
			Event:  entry.Event,
			Detail: entry.Detail,
			Status: entry.Status,
		})
	}
	return dto
}

type workflowDTO struct {
	ID              string     `json:"id"`
	IncidentID      string     `json:"incident_id"`
	Status          string     `json:"status"`
	Anomaly         anomalyDTO `json:"anomaly"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

func toWorkflowDTO(wf models.PendingWorkflow) workflowDTO {
	return workflowDTO{
		ID:              wf.ID,
		IncidentID:      wf.IncidentID,
		Status:          string(wf.Status),
		Anomaly:         toAnomalyDTO(wf.Anomaly),
		CreatedAt:       wf.CreatedAt,
		ApprovedAt:      wf.ApprovedAt,
		RejectedAt:      wf.RejectedAt,
		RejectionReason: wf.RejectionReason,
	}
}

type suspectCommitDTO struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url,omitempty"`
	Score     float64   `json:"score"`
}

type activityDTO struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	User      string            `json:"user"`
	Summary   string            `json:"summary"`
	Details   map[string]string `json:"details,omitempty"`
	Status    string            `json:"status,omitempty"`
}
