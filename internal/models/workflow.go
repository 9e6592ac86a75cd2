package models

import (
	"fmt"
	"time"
)

// WorkflowStatus enumerates the approval states of a pending workflow.
type WorkflowStatus string

const (
	WorkflowPendingApproval WorkflowStatus = "pending_approval"
	WorkflowApproved        WorkflowStatus = "approved"
	WorkflowRejected        WorkflowStatus = "rejected"
)

// PendingWorkflow is the approval gate created when an anomaly is detected.
// It is one-to-one with the incident it was created for and terminal once
// approved or rejected.
type PendingWorkflow struct {
	ID              string
	IncidentID      string
	Anomaly         AnomalyResult
	Status          WorkflowStatus
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string
}

// Terminal reports whether the workflow has been decided.
func (w PendingWorkflow) Terminal() bool {
	return w.Status == WorkflowApproved || w.Status == WorkflowRejected
}

// StepStatus is the terminal outcome of one remediation pipeline step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowStepResult records the independent outcome of a single pipeline
// step. Steps never abort the run; every step reports one of the three
// terminal statuses.
type WorkflowStepResult struct {
	StepIndex int
	Name      string
	Status    StepStatus
	Detail    string
}

// WorkflowSummary aggregates step outcomes for one pipeline execution.
type WorkflowSummary struct {
	TotalSteps int
	Completed  int
	Failed     int
	Skipped    int
}

// Summarize tallies step outcomes.
func Summarize(steps []WorkflowStepResult) WorkflowSummary {
	summary := WorkflowSummary{TotalSteps: len(steps)}
	for _, step := range steps {
		switch step.Status {
		case StepCompleted:
			summary.Completed++
		case StepFailed:
			summary.Failed++
		case StepSkipped:
			summary.Skipped++
		}
	}
	return summary
}

// AllCompleted reports whether every step in the run completed.
func (s WorkflowSummary) AllCompleted() bool {
	return s.TotalSteps > 0 && s.Completed == s.TotalSteps
}

// ExecutionPhase identifies which stage of a pipeline run is active.
type ExecutionPhase string

const (
	PhaseResearcher ExecutionPhase = "RESEARCHER"
	PhaseCorrelator ExecutionPhase = "CORRELATOR"
	PhaseDiagnoser  ExecutionPhase = "DIAGNOSER"
	PhaseRemediator ExecutionPhase = "REMEDIATOR"
)

// ExecutionStatus tracks the overall pipeline execution state.
type ExecutionStatus string

const (
	ExecResearching      ExecutionStatus = "RESEARCHING"
	ExecCorrelating      ExecutionStatus = "CORRELATING"
	ExecDiagnosing       ExecutionStatus = "DIAGNOSING"
	ExecRemediating      ExecutionStatus = "REMEDIATING"
	ExecAwaitingApproval ExecutionStatus = "AWAITING_APPROVAL"
	ExecCompleted        ExecutionStatus = "COMPLETED"
	ExecFailed           ExecutionStatus = "FAILED"
)

// phaseForStatus maps each active status to the single phase permitted to run
// under it. A mismatch is data corruption, not a recoverable condition.
var phaseForStatus = map[ExecutionStatus]ExecutionPhase{
	ExecResearching: PhaseResearcher,
	ExecCorrelating: PhaseCorrelator,
	ExecDiagnosing:  PhaseDiagnoser,
	ExecRemediating: PhaseRemediator,
}

// AgentState is the execution-phase tracker for a running pipeline.
type AgentState struct {
	WorkflowID   string
	CurrentPhase ExecutionPhase
	Status       ExecutionStatus
	UpdatedAt    time.Time
}

// NewAgentState validates the status/phase agreement before construction.
func NewAgentState(workflowID string, phase ExecutionPhase, status ExecutionStatus, at time.Time) (AgentState, error) {
	if required, active := phaseForStatus[status]; active && required != phase {
		return AgentState{}, &ConsistencyError{
			Field:  "current_phase",
			Reason: fmt.Sprintf("status %s requires phase %s, got %s", status, required, phase),
		}
	}
	return AgentState{WorkflowID: workflowID, CurrentPhase: phase, Status: status, UpdatedAt: at}, nil
}
