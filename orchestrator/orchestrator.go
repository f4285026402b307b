// Package orchestrator implements the Workflow Orchestrator (C10): the
// public entry point that drives an RFP through a template's stages,
// coordinating the communication manager (C6), conditional router and
// template manager (C7), approval manager (C8) and time estimator (C9).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/industrial-rfp/workflow-core/approval"
	"github.com/industrial-rfp/workflow-core/comm"
	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/estimator"
	"github.com/industrial-rfp/workflow-core/statestore"
	"github.com/industrial-rfp/workflow-core/workflow"
)

const orchestratorAgentID = "rfp_workflow_orchestrator"

// defaultApprovalTimeout mirrors the original's 5-minute human decision
// window (rfp_workflow.py's request_approval calls).
const defaultApprovalTimeout = 5 * time.Minute

// Orchestrator drives RFPs through a selected workflow template.
type Orchestrator struct {
	comm      *comm.Manager
	templates *workflow.TemplateManager
	router    *workflow.ConditionalRouter
	approvals *approval.Manager  // nil when approvals are disabled
	store     statestore.Store   // nil when durability snapshots are disabled
	estimator *estimator.Estimator
	logger    core.Logger
	clock     core.Clock

	mu        sync.RWMutex
	workflows map[string]*Context
	cancels   map[string]context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l core.Logger) Option           { return func(o *Orchestrator) { o.logger = l } }
func WithClock(c core.Clock) Option             { return func(o *Orchestrator) { o.clock = c } }
func WithApprovals(m *approval.Manager) Option  { return func(o *Orchestrator) { o.approvals = m } }
func WithTemplateManager(tm *workflow.TemplateManager) Option {
	return func(o *Orchestrator) { o.templates = tm }
}
func WithEstimator(e *estimator.Estimator) Option { return func(o *Orchestrator) { o.estimator = e } }

// WithStateStore opts in to the durability extension (spec.md §9's
// open question on persistence, resolved here): after every stage
// transition the workflow's Context is snapshotted under
// statestore.CategoryWorkflow. A restart does not attempt to resume a
// workflow from a snapshot or replay any late stage responses against
// it — the snapshot is observational only, for GetWorkflowStatus-style
// recovery after a process restart, per the original's own choice not
// to persist correlation IDs.
func WithStateStore(s statestore.Store) Option { return func(o *Orchestrator) { o.store = s } }

// New builds an Orchestrator on top of an already-connected comm.Manager.
func New(mgr *comm.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		comm:      mgr,
		templates: workflow.NewTemplateManager(),
		estimator: estimator.New(),
		logger:    core.NoOpLogger{},
		clock:     core.SystemClock{},
		workflows: make(map[string]*Context),
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.router = workflow.NewConditionalRouter(o.logger)
	return o
}

// workflowStateKey namespaces a workflow's durability snapshot in the
// state store, mirroring comm's agent:<id>:<key> convention.
func workflowStateKey(workflowID string) string {
	return fmt.Sprintf("workflow:%s:snapshot", workflowID)
}

// snapshot persists wfCtx's current state if a state store was wired via
// WithStateStore; a no-op otherwise.
func (o *Orchestrator) snapshot(ctx context.Context, wfCtx *Context) {
	if o.store == nil {
		return
	}
	data := map[string]interface{}{
		"workflow_id":      wfCtx.WorkflowID,
		"rfp_id":           wfCtx.RFPID,
		"template_id":      wfCtx.TemplateID,
		"current_stage":    string(wfCtx.CurrentStage),
		"status":           string(wfCtx.Status),
		"completed_stages": wfCtx.completedStageNames(),
		"errors":           wfCtx.Errors,
	}
	if err := o.store.Set(ctx, workflowStateKey(wfCtx.WorkflowID), data, statestore.CategoryWorkflow, 0); err != nil {
		o.logger.Warn("workflow snapshot failed", map[string]interface{}{"workflow_id": wfCtx.WorkflowID, "error": err.Error()})
	}
}

// Cancel requests cancellation of an in-flight workflow: any blocking
// send_request or request_approval call the workflow is currently
// suspended in observes ctx.Done() and unblocks immediately, failing the
// current stage, after which ProcessRFP records the workflow as
// cancelled rather than failed. Cancelling a workflow that has already
// reached a terminal state, or is unknown, returns
// core.ErrWorkflowNotFound.
func (o *Orchestrator) Cancel(workflowID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[workflowID]
	o.mu.Unlock()
	if !ok {
		return core.NewOpError("orchestrator.Cancel", "not_found", workflowID, core.ErrWorkflowNotFound)
	}
	cancel()
	return nil
}

// Register registers the orchestrator itself as an addressable agent so it
// can receive responses routed by correlation ID; this mirrors the
// original's initialize() but SendRequest's pending-future mechanism makes
// a dedicated response handler unnecessary here.
func (o *Orchestrator) Register(ctx context.Context) error {
	return o.comm.RegisterAgent(ctx, orchestratorAgentID, "orchestrator", []string{
		"workflow_management", "agent_coordination", "error_recovery",
	})
}

// ProcessRFP drives rfpData through the selected (or auto-selected)
// template and returns the final artifact, or a structured failure map
// when a required stage fails, is rejected on approval, or times out. A
// structured failure is a normal outcome (its "status" field reads
// "failed") and is returned with a nil error; a non-nil error indicates
// the orchestrator itself could not even begin the workflow (e.g. no
// template could be resolved).
func (o *Orchestrator) ProcessRFP(ctx context.Context, rfpData map[string]interface{}, templateID string) (map[string]interface{}, error) {
	snapshot := snapshotFromRFPData(rfpData)

	if templateID == "" {
		templateID = workflow.SelectTemplate(snapshot)
	}
	tpl, ok := o.templates.Get(templateID)
	if !ok {
		templateID = "standard_rfp"
		tpl, ok = o.templates.Get(templateID)
		if !ok {
			return nil, core.NewOpError("orchestrator.ProcessRFP", "config", templateID, core.ErrTemplateNotFound)
		}
	}

	wfID := uuid.NewString()
	wfCtx := newContext(
		wfID,
		stringOr(rfpData, "rfp_id", "unknown"),
		stringOr(rfpData, "customer_id", "unknown"),
		templateID,
		tpl.Name,
		stringOr(rfpData, "priority", "normal"),
		o.estimator.EstimateWorkflowTime(tpl.StageNames()),
		o.clock.Now(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.workflows[wfID] = wfCtx
	o.cancels[wfID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, wfID)
		o.mu.Unlock()
	}()

	o.logger.Info("starting rfp workflow", map[string]interface{}{
		"workflow_id": wfID, "rfp_id": wfCtx.RFPID, "template": templateID,
		"estimated_duration": wfCtx.EstimatedDuration.String(),
	})

	wfCtx.Status = StatusInProgress

	contextData := snapshot.ToContextData()

	for i := 0; i < len(tpl.Stages); {
		group := nextStageGroup(tpl.Stages, i)
		i += len(group)

		wfCtx.CurrentStage = Stage(group[0].Name)

		if len(group) == 1 {
			outcome := o.runStage(runCtx, wfCtx, group[0], rfpData, contextData)
			if outcome.failed != nil {
				return o.handleFailure(ctx, runCtx, wfCtx, *outcome.failed)
			}
			o.applyOutcome(ctx, wfCtx, outcome)
			continue
		}

		// Parallel group: issue every stage's send_request concurrently and
		// join before advancing (spec.md §9, "fan-in of parallel stages").
		// Any single failure in the group fails the whole workflow.
		outcomes := make([]stageOutcome, len(group))
		var wg sync.WaitGroup
		for gi, stage := range group {
			wg.Add(1)
			go func(gi int, stage workflow.StageConfig) {
				defer wg.Done()
				outcomes[gi] = o.runStage(runCtx, wfCtx, stage, rfpData, contextData)
			}(gi, stage)
		}
		wg.Wait()

		for _, outcome := range outcomes {
			if outcome.failed != nil {
				return o.handleFailure(ctx, runCtx, wfCtx, *outcome.failed)
			}
		}
		for _, outcome := range outcomes {
			o.applyOutcome(ctx, wfCtx, outcome)
		}
	}

	artifact := buildArtifact(wfCtx)

	wfCtx.Status = StatusCompleted
	wfCtx.CurrentStage = StageCompleted
	wfCtx.EndTime = o.clock.Now()
	o.estimator.RecordWorkflowTime(wfCtx.EndTime.Sub(wfCtx.StartTime))
	o.snapshot(ctx, wfCtx)

	o.comm.Broadcast(ctx, orchestratorAgentID, map[string]interface{}{
		"event":       "workflow_completed",
		"workflow_id": wfID,
		"rfp_id":      wfCtx.RFPID,
		"duration":    wfCtx.EndTime.Sub(wfCtx.StartTime).Seconds(),
	}, "")

	artifact["workflow_info"] = map[string]interface{}{
		"workflow_id":       wfID,
		"rfp_id":            wfCtx.RFPID,
		"customer_id":       wfCtx.CustomerID,
		"template_id":       templateID,
		"template_name":     tpl.Name,
		"status":            string(wfCtx.Status),
		"estimated_duration": wfCtx.EstimatedDuration.Seconds(),
		"actual_duration":    wfCtx.EndTime.Sub(wfCtx.StartTime).Seconds(),
	}

	o.logger.Info("rfp workflow completed", map[string]interface{}{"workflow_id": wfID})
	return artifact, nil
}

// stageOutcome is the result of attempting a single stage: exactly one of
// skipped, result (success) or failed is meaningful.
type stageOutcome struct {
	skipped bool
	result  StageResult
	failed  *StageResult
}

// nextStageGroup returns the stages to execute together starting at index
// start: a single stage, or — when stages[start] declares parallel_with —
// that stage plus every named sibling, to be joined before the workflow
// advances (spec.md §9's fan-in requirement).
func nextStageGroup(stages []workflow.StageConfig, start int) []workflow.StageConfig {
	first := stages[start]
	if len(first.ParallelWith) == 0 {
		return stages[start : start+1]
	}
	group := []workflow.StageConfig{first}
	for _, name := range first.ParallelWith {
		for j := start + 1; j < len(stages); j++ {
			if stages[j].Name == name {
				group = append(group, stages[j])
			}
		}
	}
	return group
}

// runStage executes a single stage's skip check, optional approval gate
// and agent request/response cycle, returning its outcome without
// mutating wfCtx.StageResults (so concurrent siblings in a parallel group
// can run without a shared-write race; the caller applies results after
// the whole group joins).
func (o *Orchestrator) runStage(ctx context.Context, wfCtx *Context, stage workflow.StageConfig, rfpData map[string]interface{}, contextData map[string]interface{}) stageOutcome {
	if o.router.ShouldSkip(stage, contextData) {
		o.logger.Info("stage skipped", map[string]interface{}{"workflow_id": wfCtx.WorkflowID, "stage": stage.Name})
		return stageOutcome{skipped: true, result: StageResult{Stage: stage.Name, Status: "skipped", Data: map[string]interface{}{}, At: o.clock.Now()}}
	}

	if stage.ApprovalRequired && o.approvals != nil {
		approved, err := o.approvals.RequestApproval(ctx, wfCtx.WorkflowID, stage.Name, stage.ApprovalRoles, map[string]interface{}{
			"rfp_id": wfCtx.RFPID, "customer_id": wfCtx.CustomerID,
		}, defaultApprovalTimeout)
		if err != nil || !approved {
			reason := "approval rejected or timed out"
			switch {
			case err != nil:
				reason = err.Error()
			default:
				if req, ok := o.approvals.Get(approval.ApprovalID(wfCtx.WorkflowID, stage.Name)); ok && req.RejectReason != "" {
					reason = req.RejectReason
				}
			}
			failed := StageResult{Stage: stage.Name, Status: "failed", Error: reason, At: o.clock.Now()}
			return stageOutcome{failed: &failed}
		}
	}

	start := o.clock.Now()
	payload := o.stagePayload(stage.Name, wfCtx, rfpData)

	resp, ok := o.comm.SendRequest(ctx, orchestratorAgentID, stage.AgentID, payload, stage.Timeout)
	duration := o.clock.Now().Sub(start)

	if !ok || resp == nil {
		reason := "stage timed out or was not acknowledged"
		if ctx.Err() == context.Canceled {
			reason = "workflow cancelled while awaiting agent response"
		}
		failed := StageResult{Stage: stage.Name, Status: "failed", Error: reason, Duration: duration, At: o.clock.Now()}
		return stageOutcome{failed: &failed}
	}

	if status, _ := resp.Payload["status"].(string); status != "success" {
		errMsg, _ := resp.Payload["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		failed := StageResult{Stage: stage.Name, Status: "failed", Error: errMsg, Duration: duration, At: o.clock.Now()}
		return stageOutcome{failed: &failed}
	}

	data := mapStageData(stage.Name, resp.Payload)
	return stageOutcome{result: StageResult{Stage: stage.Name, Status: "success", Data: data, Duration: duration, At: o.clock.Now()}}
}

// applyOutcome commits a resolved (non-failed) stage outcome into wfCtx and
// the time estimator, snapshotting the workflow if durability is enabled.
func (o *Orchestrator) applyOutcome(ctx context.Context, wfCtx *Context, outcome stageOutcome) {
	wfCtx.recordResult(outcome.result)
	if !outcome.skipped {
		o.estimator.RecordStageTime(outcome.result.Stage, outcome.result.Duration)
		o.logger.Info("stage completed", map[string]interface{}{
			"workflow_id": wfCtx.WorkflowID, "stage": outcome.result.Stage, "duration": outcome.result.Duration.String(),
		})
	}
	o.snapshot(ctx, wfCtx)
}

// handleFailure finalizes a workflow that failed a required stage. runCtx
// is the workflow's own cancellable context (distinct from ctx, the
// caller's context still used for the broadcast/snapshot writes below):
// if runCtx was cancelled via Cancel, the workflow is recorded as
// cancelled rather than failed.
func (o *Orchestrator) handleFailure(ctx, runCtx context.Context, wfCtx *Context, failed StageResult) (map[string]interface{}, error) {
	failedStage := failed.Stage
	cancelled := runCtx.Err() == context.Canceled

	wfCtx.EndTime = o.clock.Now()
	wfCtx.FailedStage = failedStage

	status := "failed"
	event := "workflow_failed"
	if cancelled {
		status = "cancelled"
		event = "workflow_cancelled"
		wfCtx.Status = StatusCancelled
		wfCtx.CurrentStage = StageCancelled
		wfCtx.Errors = append(wfCtx.Errors, fmt.Sprintf("workflow cancelled during stage %s", failedStage))
	} else {
		wfCtx.Status = StatusFailed
		wfCtx.CurrentStage = StageFailed
		wfCtx.Errors = append(wfCtx.Errors, fmt.Sprintf("stage %s failed: %s", failedStage, failed.Error))
	}

	o.comm.Broadcast(ctx, orchestratorAgentID, map[string]interface{}{
		"event":        event,
		"workflow_id":  wfCtx.WorkflowID,
		"rfp_id":       wfCtx.RFPID,
		"failed_stage": failedStage,
		"errors":       wfCtx.Errors,
	}, "")

	o.snapshot(ctx, wfCtx)
	o.logger.Error("rfp workflow did not complete", map[string]interface{}{"workflow_id": wfCtx.WorkflowID, "status": status, "errors": wfCtx.Errors})

	return map[string]interface{}{
		"workflow_id":      wfCtx.WorkflowID,
		"rfp_id":           wfCtx.RFPID,
		"status":           status,
		"failed_stage":     failedStage,
		"errors":           wfCtx.Errors,
		"completed_stages": wfCtx.completedStageNames(),
		"duration":         wfCtx.EndTime.Sub(wfCtx.StartTime).Seconds(),
	}, nil
}

func snapshotFromRFPData(rfpData map[string]interface{}) workflow.RFPSnapshot {
	snapshot := workflow.RFPSnapshot{
		Priority:   stringOr(rfpData, "priority", "normal"),
		Complexity: stringOr(rfpData, "complexity", "standard"),
	}
	if v, ok := rfpData["estimated_value"].(float64); ok {
		snapshot.EstimatedValue = v
	}
	if v, ok := rfpData["is_standard_product"].(bool); ok {
		snapshot.IsStandardProduct = v
	}
	return snapshot
}

func stringOr(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
