package models

import (
	"testing"
	"time"
)

func resolvedFixture(created, resolved time.Time, mttr float64) IncidentRecord {
	diag := PlaceholderDiagnosis("cache", "elevated latency")
	diag.RootCause = "connection pool exhaustion"
	return IncidentRecord{
		ID:          "INC-1001",
		Title:       "cache latency spike",
		Service:     "cache",
		Severity:    SeverityHigh,
		Status:      StatusResolved,
		Diagnosis:   &diag,
		Remediation: &Remediation{FilePath: "config/cache.go", PRURL: "https://example.com/pr/7", PRNumber: 7},
		CreatedAt:   created,
		ResolvedAt:  &resolved,
		MTTRSeconds: &mttr,
	}
}

func TestIncidentRecordResolvedInvariant(t *testing.T) {
	created := time.Now().UTC().Add(-30 * time.Minute)
	resolved := created.Add(30 * time.Minute)

	rec := resolvedFixture(created, resolved, 30*60)
	if err := rec.Validate(); err != nil {
		t.Fatalf("valid resolved record rejected: %v", err)
	}
}

func TestIncidentRecordMTTRTolerance(t *testing.T) {
	created := time.Now().UTC().Add(-10 * time.Minute)
	resolved := created.Add(10 * time.Minute)

	within := resolvedFixture(created, resolved, 600.9)
	if err := within.Validate(); err != nil {
		t.Fatalf("MTTR within 1s tolerance rejected: %v", err)
	}

	outside := resolvedFixture(created, resolved, 605)
	if err := outside.Validate(); err == nil {
		t.Fatalf("MTTR off by 5s must be rejected")
	}
}

func TestIncidentRecordResolvedRequiresFields(t *testing.T) {
	created := time.Now().UTC().Add(-time.Hour)
	resolved := created.Add(time.Hour)
	mttr := 3600.0

	missingResolvedAt := resolvedFixture(created, resolved, mttr)
	missingResolvedAt.ResolvedAt = nil
	if err := missingResolvedAt.Validate(); err == nil {
		t.Fatalf("RESOLVED without resolved_at must fail")
	}

	missingDiagnosis := resolvedFixture(created, resolved, mttr)
	missingDiagnosis.Diagnosis = nil
	if err := missingDiagnosis.Validate(); err == nil {
		t.Fatalf("RESOLVED without diagnosis must fail")
	}

	missingRemediation := resolvedFixture(created, resolved, mttr)
	missingRemediation.Remediation = nil
	if err := missingRemediation.Validate(); err == nil {
		t.Fatalf("RESOLVED without remediation must fail")
	}
}

func TestIncidentRecordNonResolvedSkipsResolutionChecks(t *testing.T) {
	rec := IncidentRecord{
		ID:        "INC-1002",
		Severity:  SeverityMedium,
		Status:    StatusDetected,
		CreatedAt: time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("DETECTED record without resolution fields rejected: %v", err)
	}
}

func TestNewAgentStatePhaseAgreement(t *testing.T) {
	now := time.Now().UTC()

	if _, err := NewAgentState("wf-1", PhaseResearcher, ExecResearching, now); err != nil {
		t.Fatalf("RESEARCHING/RESEARCHER should be valid: %v", err)
	}
	if _, err := NewAgentState("wf-1", PhaseRemediator, ExecResearching, now); err == nil {
		t.Fatalf("RESEARCHING with REMEDIATOR phase must be rejected")
	}
	if _, err := NewAgentState("wf-1", PhaseRemediator, ExecCompleted, now); err != nil {
		t.Fatalf("terminal status carries no phase requirement: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	steps := []WorkflowStepResult{
		{StepIndex: 0, Name: "CodeSearch", Status: StepCompleted},
		{StepIndex: 1, Name: "FixGeneration", Status: StepSkipped},
		{StepIndex: 2, Name: "PRCreation", Status: StepFailed},
		{StepIndex: 3, Name: "NotifyTeam", Status: StepCompleted},
	}
	summary := Summarize(steps)
	if summary.TotalSteps != 4 {
		t.Fatalf("expected 4 steps, got %d", summary.TotalSteps)
	}
	if summary.Completed+summary.Failed+summary.Skipped != summary.TotalSteps {
		t.Fatalf("summary counts do not add up: %+v", summary)
	}
	if summary.AllCompleted() {
		t.Fatalf("run with failures must not report all-completed")
	}
}
