package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seerstack/seer-observer/internal/audit"
	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/metrics"
	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/registry"
	"github.com/seerstack/seer-observer/internal/repo"
)

// Pipeline step names, in execution order.
const (
	StepCodeSearch     = "code_search"
	StepFixGeneration  = "fix_generation"
	StepPRCreation     = "pr_creation"
	StepNotifyTeam     = "notify_team"
	StepTicketCreation = "ticket_creation"
)

// ErrPipelineActive signals that an incident already has a running pipeline.
var ErrPipelineActive = errors.New("remediation pipeline already active for incident")

// DecisionError reports an approve/reject against a workflow that was already
// decided the other way.
type DecisionError struct {
	ID        string
	Status    models.WorkflowStatus
	Attempted string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("workflow %s: cannot %s, already %s", e.ID, e.Attempted, e.Status)
}

// CodeSearcher finds repository files related to a failing service.
type CodeSearcher interface {
	Search(ctx context.Context, service, metric string) ([]repo.CodeFile, error)
}

// FixGenerator proposes a code change for a diagnosed file.
type FixGenerator interface {
	Generate(ctx context.Context, req repo.FixRequest) (repo.FixResult, error)
}

// PRCreator opens a pull request carrying a generated fix.
type PRCreator interface {
	Create(ctx context.Context, req repo.PRRequest) (repo.PRResult, error)
}

// Notifier alerts the owning team about a remediation run.
type Notifier interface {
	Send(ctx context.Context, n repo.Notification) (repo.NotifyResult, error)
}

// Ticketer opens a tracking ticket for the incident.
type Ticketer interface {
	Create(ctx context.Context, req repo.TicketRequest) (repo.TicketResult, error)
}

// SuspectSource ranks recent commits against an anomaly timestamp.
type SuspectSource interface {
	Suspects(ctx context.Context, anomalyAt time.Time) ([]detect.SuspectCommit, error)
}

// Store is the workflow persistence surface.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (models.PendingWorkflow, error)
	PutWorkflow(ctx context.Context, wf models.PendingWorkflow) error
	ListWorkflows(ctx context.Context, status models.WorkflowStatus, limit int) ([]models.PendingWorkflow, error)
}

// Registry is the incident lifecycle surface the orchestrator drives.
type Registry interface {
	Register(ctx context.Context, input registry.RegisterInput) (models.IncidentRecord, error)
	Transition(ctx context.Context, id string, to models.IncidentStatus, detail string) (models.IncidentRecord, error)
	Resolve(ctx context.Context, id string, detail string) (models.IncidentRecord, error)
	AttachDiagnosis(ctx context.Context, id string, diagnosis models.Diagnosis) (models.IncidentRecord, error)
	AttachRemediation(ctx context.Context, id string, remediation models.Remediation) (models.IncidentRecord, error)
	Get(ctx context.Context, id string) (models.IncidentRecord, error)
}

// Collaborators bundles the remediation pipeline's external clients. Ticketer
// may be nil; the ticket step is then skipped.
type Collaborators struct {
	CodeSearch CodeSearcher
	Fixer      FixGenerator
	PRs        PRCreator
	Notifier   Notifier
	Ticketer   Ticketer
	Suspects   SuspectSource
}

// Orchestrator owns the approval gate and the remediation pipeline. At most
// one pipeline runs per incident at a time; steps never abort the run.
type Orchestrator struct {
	store       Store
	registry    Registry
	rules       *RuleEngine
	clients     Collaborators
	activity    *audit.Log
	logger      *slog.Logger
	now         func() time.Time
	stepTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	states   map[string]models.AgentState

	// decision read-modify-writes are serialized per workflow id, like the
	// registry does per incident id.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wg sync.WaitGroup
}

// NewOrchestrator constructs an orchestrator. stepTimeout bounds each pipeline
// step; non-positive values fall back to 30 seconds.
func NewOrchestrator(store Store, reg Registry, rules *RuleEngine, clients Collaborators, activity *audit.Log, stepTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:       store,
		registry:    reg,
		rules:       rules,
		clients:     clients,
		activity:    activity,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		stepTimeout: stepTimeout,
		inflight:    make(map[string]struct{}),
		states:      make(map[string]models.AgentState),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(workflowID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	mu, ok := o.locks[workflowID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[workflowID] = mu
	}
	return mu
}

// HandleAnomaly opens an incident for a detected anomaly, seeds its diagnosis
// from the rule pack, and parks a workflow at the approval gate. The incident
// sits in ANALYZING until an operator decides.
func (o *Orchestrator) HandleAnomaly(ctx context.Context, anomaly models.AnomalyResult) (models.IncidentRecord, models.PendingWorkflow, error) {
	title := fmt.Sprintf("%s %s anomaly (%s)", anomaly.Service, anomaly.Metric, anomaly.Severity)
	description := fmt.Sprintf("%s on %s deviated %.2fσ from baseline (current %.2f, expected %.2f)",
		anomaly.Metric, anomaly.Service, anomaly.DeviationSigma, anomaly.CurrentValue, anomaly.ExpectedValue)
	if anomaly.Unbounded {
		description = fmt.Sprintf("%s on %s broke a zero-variance baseline (current %.2f, expected %.2f)",
			anomaly.Metric, anomaly.Service, anomaly.CurrentValue, anomaly.ExpectedValue)
	}

	incident, err := o.registry.Register(ctx, registry.RegisterInput{
		Title:       title,
		Service:     anomaly.Service,
		Environment: anomaly.Environment,
		Severity:    anomaly.Severity,
		Description: description,
		Anomaly:     &anomaly,
	})
	if err != nil {
		return models.IncidentRecord{}, models.PendingWorkflow{}, err
	}
	metrics.ObserveAnomaly(string(anomaly.Severity))
	o.activity.Record(ctx, audit.TypeIncidentRegistered, "", title, audit.StatusSuccess, map[string]string{
		"incident_id": incident.ID,
		"service":     anomaly.Service,
		"severity":    string(anomaly.Severity),
	})

	if diagnosis, ok := o.rules.Diagnose(anomaly); ok {
		if updated, err := o.registry.AttachDiagnosis(ctx, incident.ID, diagnosis); err != nil {
			o.logger.Warn("rule diagnosis attach failed", "incident_id", incident.ID, "error", err)
		} else {
			incident = updated
		}
	}

	wf := models.PendingWorkflow{
		ID:         uuid.NewString(),
		IncidentID: incident.ID,
		Anomaly:    anomaly,
		Status:     models.WorkflowPendingApproval,
		CreatedAt:  o.now(),
	}
	if err := o.store.PutWorkflow(ctx, wf); err != nil {
		return incident, models.PendingWorkflow{}, err
	}

	incident, err = o.registry.Transition(ctx, incident.ID, models.StatusAnalyzing, "remediation workflow awaiting approval")
	if err != nil {
		return incident, wf, err
	}
	o.activity.Record(ctx, audit.TypeWorkflowCreated, "", "remediation workflow awaiting approval", audit.StatusSuccess, map[string]string{
		"workflow_id": wf.ID,
		"incident_id": incident.ID,
	})

	o.logger.Info("workflow created",
		"workflow_id", wf.ID, "incident_id", incident.ID, "severity", string(anomaly.Severity))
	return incident, wf, nil
}

// Approve accepts the remediation plan and launches the pipeline. Approving
// an already approved workflow is a no-op; approving a rejected one fails.
func (o *Orchestrator) Approve(ctx context.Context, workflowID, user string) (models.PendingWorkflow, error) {
	mu := o.lockFor(workflowID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return models.PendingWorkflow{}, err
	}
	switch wf.Status {
	case models.WorkflowApproved:
		return wf, nil
	case models.WorkflowRejected:
		return models.PendingWorkflow{}, &DecisionError{ID: workflowID, Status: wf.Status, Attempted: "approve"}
	}

	now := o.now()
	wf.Status = models.WorkflowApproved
	wf.ApprovedAt = &now
	if err := o.store.PutWorkflow(ctx, wf); err != nil {
		return models.PendingWorkflow{}, err
	}

	if _, err := o.registry.Transition(ctx, wf.IncidentID, models.StatusAwaitingApproval, "approval requested by "+user); err != nil {
		return wf, err
	}
	if _, err := o.registry.Transition(ctx, wf.IncidentID, models.StatusRemediating, "approved by "+user); err != nil {
		return wf, err
	}

	metrics.ObserveWorkflowDecision("approved")
	o.activity.Record(ctx, audit.TypeWorkflowApproved, user, "remediation approved", audit.StatusSuccess, map[string]string{
		"workflow_id": wf.ID,
		"incident_id": wf.IncidentID,
	})
	o.logger.Info("workflow approved", "workflow_id", wf.ID, "incident_id", wf.IncidentID, "user", user)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.RunPipeline(context.Background(), wf.ID); err != nil {
			o.logger.Error("pipeline run failed", "workflow_id", wf.ID, "error", err)
		}
	}()
	return wf, nil
}

// Reject declines the remediation plan. The incident stays in ANALYZING for
// manual follow-up. Rejecting an already rejected workflow is a no-op.
func (o *Orchestrator) Reject(ctx context.Context, workflowID, user, reason string) (models.PendingWorkflow, error) {
	mu := o.lockFor(workflowID)
	mu.Lock()
	defer mu.Unlock()

	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return models.PendingWorkflow{}, err
	}
	switch wf.Status {
	case models.WorkflowRejected:
		return wf, nil
	case models.WorkflowApproved:
		return models.PendingWorkflow{}, &DecisionError{ID: workflowID, Status: wf.Status, Attempted: "reject"}
	}

	now := o.now()
	wf.Status = models.WorkflowRejected
	wf.RejectedAt = &now
	wf.RejectionReason = reason
	if err := o.store.PutWorkflow(ctx, wf); err != nil {
		return models.PendingWorkflow{}, err
	}

	metrics.ObserveWorkflowDecision("rejected")
	o.activity.Record(ctx, audit.TypeWorkflowRejected, user, "remediation rejected: "+reason, audit.StatusSuccess, map[string]string{
		"workflow_id": wf.ID,
		"incident_id": wf.IncidentID,
	})
	o.logger.Info("workflow rejected", "workflow_id", wf.ID, "incident_id", wf.IncidentID, "user", user)
	return wf, nil
}

// Pending returns workflows still waiting at the approval gate.
func (o *Orchestrator) Pending(ctx context.Context) ([]models.PendingWorkflow, error) {
	return o.store.ListWorkflows(ctx, models.WorkflowPendingApproval, 0)
}

// State returns the execution-phase tracker for a workflow, if any.
func (o *Orchestrator) State(workflowID string) (models.AgentState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[workflowID]
	return state, ok
}

// Wait blocks until every pipeline launched by Approve has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) acquire(incidentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, active := o.inflight[incidentID]; active {
		return false
	}
	o.inflight[incidentID] = struct{}{}
	return true
}

func (o *Orchestrator) release(incidentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, incidentID)
}

func (o *Orchestrator) setState(workflowID string, phase models.ExecutionPhase, status models.ExecutionStatus) {
	state, err := models.NewAgentState(workflowID, phase, status, o.now())
	if err != nil {
		o.logger.Error("agent state rejected", "workflow_id", workflowID, "error", err)
		return
	}
	o.mu.Lock()
	o.states[workflowID] = state
	o.mu.Unlock()
}

// RunPipeline executes the remediation pipeline for an approved workflow.
// Every step runs to a terminal outcome; a failed step never aborts the run.
// The incident resolves only when no executed step failed and both a fix and
// a pull request exist; otherwise it stays in REMEDIATING.
func (o *Orchestrator) RunPipeline(ctx context.Context, workflowID string) (models.WorkflowSummary, error) {
	mu := o.lockFor(workflowID)
	mu.Lock()
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		mu.Unlock()
		return models.WorkflowSummary{}, err
	}
	if wf.Status != models.WorkflowApproved {
		mu.Unlock()
		return models.WorkflowSummary{}, &DecisionError{ID: workflowID, Status: wf.Status, Attempted: "execute"}
	}
	mu.Unlock()
	if !o.acquire(wf.IncidentID) {
		return models.WorkflowSummary{}, fmt.Errorf("%w: %s", ErrPipelineActive, wf.IncidentID)
	}
	defer o.release(wf.IncidentID)

	incident, err := o.registry.Get(ctx, wf.IncidentID)
	if err != nil {
		return models.WorkflowSummary{}, err
	}

	started := o.now()
	steps := o.executeSteps(ctx, wf, incident)
	summary := models.Summarize(steps)
	metrics.ObservePipelineRun(o.now().Sub(started))

	resolved := o.finish(ctx, wf, steps, summary)
	status := models.ExecCompleted
	if !resolved {
		status = models.ExecFailed
	}
	o.setState(wf.ID, models.PhaseRemediator, status)

	o.logger.Info("pipeline finished",
		"workflow_id", wf.ID,
		"incident_id", wf.IncidentID,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"resolved", resolved)
	return summary, nil
}

type pipelineState struct {
	files    []repo.CodeFile
	suspects []detect.SuspectCommit
	fix      *repo.FixResult
	pr       *repo.PRResult
	ticket   *repo.TicketResult
}

func (o *Orchestrator) executeSteps(ctx context.Context, wf models.PendingWorkflow, incident models.IncidentRecord) []models.WorkflowStepResult {
	var state pipelineState
	steps := make([]models.WorkflowStepResult, 0, 5)

	run := func(index int, name string, fn func(context.Context) (models.StepStatus, string)) {
		stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()

		status, detail := fn(stepCtx)
		result := models.WorkflowStepResult{StepIndex: index, Name: name, Status: status, Detail: detail}
		steps = append(steps, result)

		metrics.ObservePipelineStep(name, string(status))
		auditStatus := audit.StatusSuccess
		switch status {
		case models.StepFailed:
			auditStatus = audit.StatusFailure
		case models.StepSkipped:
			auditStatus = audit.StatusSkipped
		}
		o.activity.Record(ctx, audit.TypePipelineStep, "", name+": "+detail, auditStatus, map[string]string{
			"workflow_id": wf.ID,
			"incident_id": wf.IncidentID,
			"step":        name,
		})
	}

	o.setState(wf.ID, models.PhaseResearcher, models.ExecResearching)
	run(0, StepCodeSearch, func(ctx context.Context) (models.StepStatus, string) {
		return o.stepCodeSearch(ctx, wf, &state)
	})

	o.setState(wf.ID, models.PhaseDiagnoser, models.ExecDiagnosing)
	run(1, StepFixGeneration, func(ctx context.Context) (models.StepStatus, string) {
		return o.stepFixGeneration(ctx, incident, &state)
	})

	o.setState(wf.ID, models.PhaseRemediator, models.ExecRemediating)
	run(2, StepPRCreation, func(ctx context.Context) (models.StepStatus, string) {
		return o.stepPRCreation(ctx, wf, incident, &state)
	})
	run(3, StepNotifyTeam, func(ctx context.Context) (models.StepStatus, string) {
		return o.stepNotifyTeam(ctx, wf, incident, &state)
	})
	run(4, StepTicketCreation, func(ctx context.Context) (models.StepStatus, string) {
		return o.stepTicketCreation(ctx, wf, incident, &state)
	})

	return steps
}

func (o *Orchestrator) stepCodeSearch(ctx context.Context, wf models.PendingWorkflow, state *pipelineState) (models.StepStatus, string) {
	if o.clients.CodeSearch == nil {
		return models.StepSkipped, "code search not configured"
	}

	files, err := o.clients.CodeSearch.Search(ctx, wf.Anomaly.Service, wf.Anomaly.Metric)
	if err != nil {
		return models.StepFailed, err.Error()
	}
	state.files = files

	detail := fmt.Sprintf("%d candidate files", len(files))
	if o.clients.Suspects != nil {
		o.setState(wf.ID, models.PhaseCorrelator, models.ExecCorrelating)
		suspects, err := o.clients.Suspects.Suspects(ctx, wf.Anomaly.DetectedAt)
		if err != nil {
			o.logger.Warn("suspect correlation failed", "workflow_id", wf.ID, "error", err)
		} else if len(suspects) > 0 {
			state.suspects = suspects
			detail = fmt.Sprintf("%s, top suspect commit %s (score %.0f)",
				detail, suspects[0].Commit.SHA, suspects[0].Score)
		}
	}
	return models.StepCompleted, detail
}

func (o *Orchestrator) stepFixGeneration(ctx context.Context, incident models.IncidentRecord, state *pipelineState) (models.StepStatus, string) {
	if o.clients.Fixer == nil {
		return models.StepSkipped, "fix generator not configured"
	}
	if len(state.files) == 0 {
		return models.StepSkipped, "no candidate files from code search"
	}

	rootCause := "Under investigation"
	if incident.Diagnosis != nil {
		rootCause = incident.Diagnosis.RootCause
	}
	target := state.files[0]
	fix, err := o.clients.Fixer.Generate(ctx, repo.FixRequest{
		FilePath:    target.Path,
		Diagnosis:   rootCause,
		CurrentCode: target.Content,
		Context:     incident.Description,
	})
	if err != nil {
		return models.StepFailed, err.Error()
	}
	state.fix = &fix
	return models.StepCompleted, "fix proposed for " + target.Path
}

func (o *Orchestrator) stepPRCreation(ctx context.Context, wf models.PendingWorkflow, incident models.IncidentRecord, state *pipelineState) (models.StepStatus, string) {
	if o.clients.PRs == nil {
		return models.StepSkipped, "pull request creator not configured"
	}
	if state.fix == nil {
		return models.StepSkipped, "no fix to submit"
	}

	branch := "fix/" + strings.ToLower(incident.ID)
	pr, err := o.clients.PRs.Create(ctx, repo.PRRequest{
		Title:       fmt.Sprintf("Fix %s: %s", incident.ID, incident.Title),
		Description: state.fix.Explanation,
		Branch:      branch,
		Files:       []repo.PRFile{{Path: state.files[0].Path, Content: state.fix.FixedCode}},
		IncidentID:  incident.ID,
	})
	if err != nil {
		return models.StepFailed, err.Error()
	}
	state.pr = &pr

	remediation := models.Remediation{
		FilePath:    state.files[0].Path,
		Explanation: state.fix.Explanation,
		PRNumber:    pr.PRNumber,
		PRURL:       pr.PRURL,
		Branch:      pr.Branch,
	}
	if _, err := o.registry.AttachRemediation(ctx, incident.ID, remediation); err != nil {
		return models.StepFailed, fmt.Sprintf("pull request %s opened but not recorded: %v", pr.PRURL, err)
	}
	return models.StepCompleted, pr.PRURL
}

func (o *Orchestrator) stepNotifyTeam(ctx context.Context, wf models.PendingWorkflow, incident models.IncidentRecord, state *pipelineState) (models.StepStatus, string) {
	if o.clients.Notifier == nil {
		return models.StepSkipped, "notifier not configured"
	}

	message := fmt.Sprintf("Remediation pipeline ran for %s (%s).", incident.ID, incident.Title)
	if state.pr != nil {
		message += " Pull request: " + state.pr.PRURL
	} else {
		message += " No pull request was opened; manual follow-up needed."
	}

	result, err := o.clients.Notifier.Send(ctx, repo.Notification{
		Severity:       string(incident.Severity),
		IncidentID:     incident.ID,
		Title:          incident.Title,
		Message:        message,
		ActionRequired: state.pr == nil,
	})
	if err != nil {
		return models.StepFailed, err.Error()
	}
	return models.StepCompleted, "notified " + result.Channel
}

func (o *Orchestrator) stepTicketCreation(ctx context.Context, wf models.PendingWorkflow, incident models.IncidentRecord, state *pipelineState) (models.StepStatus, string) {
	if o.clients.Ticketer == nil {
		return models.StepSkipped, "ticketing not configured"
	}

	description := incident.Description
	if state.pr != nil {
		description += "\nPull request: " + state.pr.PRURL
	}
	ticket, err := o.clients.Ticketer.Create(ctx, repo.TicketRequest{
		Summary:     incident.Title,
		Description: description,
		Priority:    string(incident.Severity),
		IncidentID:  incident.ID,
	})
	if err != nil {
		return models.StepFailed, err.Error()
	}
	state.ticket = &ticket

	if state.pr != nil {
		remediation := models.Remediation{
			FilePath:    state.files[0].Path,
			Explanation: state.fix.Explanation,
			PRNumber:    state.pr.PRNumber,
			PRURL:       state.pr.PRURL,
			Branch:      state.pr.Branch,
			TicketID:    ticket.TicketID,
		}
		if _, err := o.registry.AttachRemediation(ctx, incident.ID, remediation); err != nil {
			o.logger.Warn("ticket id not recorded on incident", "incident_id", incident.ID, "error", err)
		}
	}
	return models.StepCompleted, ticket.TicketID
}

// finish applies the resolution policy and reports whether the incident
// resolved.
func (o *Orchestrator) finish(ctx context.Context, wf models.PendingWorkflow, steps []models.WorkflowStepResult, summary models.WorkflowSummary) bool {
	havePR := false
	haveFix := false
	for _, step := range steps {
		if step.Name == StepPRCreation && step.Status == models.StepCompleted {
			havePR = true
		}
		if step.Name == StepFixGeneration && step.Status == models.StepCompleted {
			haveFix = true
		}
	}

	if summary.Failed > 0 || !havePR || !haveFix {
		o.activity.Record(ctx, audit.TypePipelineStep, "", "pipeline incomplete, incident stays in remediation", audit.StatusFailure, map[string]string{
			"workflow_id": wf.ID,
			"incident_id": wf.IncidentID,
		})
		return false
	}

	detail := "remediation pipeline completed with skipped steps"
	if summary.AllCompleted() {
		detail = "remediation pipeline completed"
	}
	if _, err := o.registry.Resolve(ctx, wf.IncidentID, detail); err != nil {
		o.logger.Error("incident resolution failed", "incident_id", wf.IncidentID, "error", err)
		return false
	}
	o.activity.Record(ctx, audit.TypeIncidentResolved, "", "incident resolved by remediation pipeline", audit.StatusSuccess, map[string]string{
		"workflow_id": wf.ID,
		"incident_id": wf.IncidentID,
	})
	return true
}
