package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-rfp/workflow-core/agent"
	"github.com/industrial-rfp/workflow-core/approval"
	"github.com/industrial-rfp/workflow-core/broker"
	"github.com/industrial-rfp/workflow-core/comm"
	"github.com/industrial-rfp/workflow-core/statestore"
)

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *comm.Manager) {
	t.Helper()
	mgr := comm.NewManager(broker.NewInProcessBroker(), statestore.NewInMemoryStore())
	require.NoError(t, mgr.Connect(context.Background()))

	o := New(mgr, opts...)
	require.NoError(t, o.Register(context.Background()))
	return o, mgr
}

func registerAllStubs(t *testing.T, mgr *comm.Manager) {
	t.Helper()
	stubs := map[string]agent.Handler{
		"rfp_parser_agent":         agent.ParsingStub,
		"sales_agent":              agent.SalesAnalysisStub,
		"technical_agent":          agent.TechnicalValidationStub,
		"pricing_agent":            agent.PricingCalculationStub,
		"response_generator_agent": agent.ResponseGenerationStub,
	}
	for id, fn := range stubs {
		require.NoError(t, mgr.RegisterAgent(context.Background(), id, "worker", nil))
		agent.Register(mgr, id, fn, nil)
	}
}

func TestProcessRFPHappyPathStandardRFP(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	registerAllStubs(t, mgr)

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-1", "customer_id": "C-1", "priority": "normal",
		"complexity": "standard", "estimated_value": 250000.0, "is_standard_product": false,
		"document": "some rfp text",
	}, "")
	require.NoError(t, err)
	require.Equal(t, "completed", artifact["status"])

	info := artifact["workflow_info"].(map[string]interface{})
	assert.Equal(t, "standard_rfp", info["template_id"])

	status, ok := o.GetWorkflowStatus(info["workflow_id"].(string))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"parsing", "sales_analysis", "technical_validation", "pricing_calculation", "response_generation"}, status.CompletedStages)

	timeline := artifact["timeline"].(map[string]interface{})
	durations := timeline["stage_durations"].(map[string]interface{})
	assert.Len(t, durations, 5)
}

func TestProcessRFPFastTrackSkipsTechnicalValidation(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	registerAllStubs(t, mgr)

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-2", "priority": "urgent", "complexity": "simple",
		"estimated_value": 40000.0, "is_standard_product": true,
		"document": "fast track rfp",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "completed", artifact["status"])

	info := artifact["workflow_info"].(map[string]interface{})
	assert.Equal(t, "fast_track_rfp", info["template_id"])

	status, _ := o.GetWorkflowStatus(info["workflow_id"].(string))
	assert.Contains(t, status.CompletedStages, "technical_validation")

	wfID := info["workflow_id"].(string)
	o.mu.RLock()
	result := o.workflows[wfID].StageResults["technical_validation"]
	o.mu.RUnlock()
	assert.Equal(t, "skipped", result.Status)
	assert.Zero(t, result.Duration)
}

func TestProcessRFPComplexRFPApprovalRejectionFailsWorkflow(t *testing.T) {
	approvals := approval.NewManager()
	o, mgr := newTestOrchestrator(t, WithApprovals(approvals))
	registerAllStubs(t, mgr)

	done := make(chan map[string]interface{}, 1)
	go func() {
		artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
			"rfp_id": "R-3", "complexity": "complex", "estimated_value": 5_000_000.0,
			"document": "complex rfp",
		}, "")
		require.NoError(t, err)
		done <- artifact
	}()

	require.Eventually(t, func() bool {
		pending := approvals.PendingApprovals("")
		return len(pending) > 0
	}, time.Second, 5*time.Millisecond)

	pending := approvals.PendingApprovals("")
	require.Len(t, pending, 1)
	assert.Equal(t, "sales_analysis", pending[0].Stage)
	require.NoError(t, approvals.Reject(pending[0].ID, "manager-1", "budget review"))

	var artifact map[string]interface{}
	select {
	case artifact = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessRFP did not return after rejection")
	}

	assert.Equal(t, "failed", artifact["status"])
	assert.Equal(t, "sales_analysis", artifact["failed_stage"])
	errs := artifact["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "budget review")
	// parsing ran (and recorded) before the approval gate on sales_analysis
	// tripped; sales_analysis itself was rejected, not completed.
	assert.ElementsMatch(t, []string{"parsing"}, artifact["completed_stages"].([]string))
}

func TestProcessRFPTimeoutFailsStage(t *testing.T) {
	o, mgr := newTestOrchestrator(t)

	require.NoError(t, mgr.RegisterAgent(context.Background(), "rfp_parser_agent", "worker", nil))
	agent.Register(mgr, "rfp_parser_agent", agent.ParsingStub, nil)
	require.NoError(t, mgr.RegisterAgent(context.Background(), "sales_agent", "worker", nil))
	agent.Register(mgr, "sales_agent", agent.SalesAnalysisStub, nil)
	require.NoError(t, mgr.RegisterAgent(context.Background(), "technical_agent", "worker", nil))
	agent.Register(mgr, "technical_agent", agent.TechnicalValidationStub, nil)
	// pricing_agent deliberately never registers a handler, so send_request
	// to it always times out.
	require.NoError(t, mgr.RegisterAgent(context.Background(), "pricing_agent", "worker", nil))

	tm := o.templates
	tpl, _ := tm.Get("standard_rfp")
	tpl.Stages[3].Timeout = 20 * time.Millisecond // pricing_calculation

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-4", "document": "times out on pricing",
	}, "standard_rfp")
	require.NoError(t, err)

	assert.Equal(t, "failed", artifact["status"])
	assert.Equal(t, "pricing_calculation", artifact["failed_stage"])
	// pricing_calculation itself timed out, so it never completed.
	assert.ElementsMatch(t, []string{"parsing", "sales_analysis", "technical_validation"}, artifact["completed_stages"])
}

func TestProcessRFPUnknownTemplateIDFallsBackToStandard(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	registerAllStubs(t, mgr)

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-5", "document": "x",
	}, "does_not_exist")
	require.NoError(t, err)
	info := artifact["workflow_info"].(map[string]interface{})
	assert.Equal(t, "standard_rfp", info["template_id"])
}

func TestGetAvailableTemplatesListsAllFour(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	templates := o.GetAvailableTemplates()
	assert.Len(t, templates, 4)
}

func TestCancelUnblocksInFlightStageAndMarksWorkflowCancelled(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	require.NoError(t, mgr.RegisterAgent(context.Background(), "rfp_parser_agent", "worker", nil))
	agent.Register(mgr, "rfp_parser_agent", agent.ParsingStub, nil)
	require.NoError(t, mgr.RegisterAgent(context.Background(), "sales_agent", "worker", nil))
	// sales_agent deliberately never registers a handler, so once parsing
	// completes the workflow sits blocked in send_request to sales_agent
	// until it is either timed out or cancelled.

	tm := o.templates
	tpl, _ := tm.Get("standard_rfp")
	tpl.Stages[1].Timeout = 5 * time.Second // sales_analysis: long enough that Cancel wins the race

	done := make(chan map[string]interface{}, 1)
	go func() {
		artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
			"rfp_id": "R-7", "document": "cancel me",
		}, "standard_rfp")
		require.NoError(t, err)
		done <- artifact
	}()

	require.Eventually(t, func() bool {
		status, ok := o.GetWorkflowStatus(workflowIDFromDone(o))
		return ok && status.CurrentStage == "sales_analysis"
	}, time.Second, 5*time.Millisecond)

	wfID := workflowIDFromDone(o)
	require.NoError(t, o.Cancel(wfID))

	var artifact map[string]interface{}
	select {
	case artifact = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessRFP did not return after Cancel")
	}

	assert.Equal(t, "cancelled", artifact["status"])
	assert.Equal(t, "sales_analysis", artifact["failed_stage"])

	status, ok := o.GetWorkflowStatus(wfID)
	require.True(t, ok)
	assert.Equal(t, "cancelled", status.Status)
}

func TestCancelUnknownWorkflowReturnsNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	err := o.Cancel("does-not-exist")
	require.Error(t, err)
}

// workflowIDFromDone returns the single in-flight workflow's ID; used by
// TestCancelUnblocksInFlightStageAndMarksWorkflowCancelled, which only ever
// has one workflow active at a time.
func workflowIDFromDone(o *Orchestrator) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for id := range o.workflows {
		return id
	}
	return ""
}

func TestProcessRFPSnapshotsWorkflowStateWhenStateStoreWired(t *testing.T) {
	store := statestore.NewInMemoryStore()
	o, mgr := newTestOrchestrator(t, WithStateStore(store))
	registerAllStubs(t, mgr)

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-8", "document": "x",
	}, "simple_quote")
	require.NoError(t, err)
	require.Equal(t, "completed", artifact["status"])

	info := artifact["workflow_info"].(map[string]interface{})
	wfID := info["workflow_id"].(string)

	entry, ok := store.Get(context.Background(), "workflow:"+wfID+":snapshot")
	require.True(t, ok)
	data := entry.Value.(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
}

func TestVisualizeWorkflowRendersCompletedStages(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	registerAllStubs(t, mgr)

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-6", "document": "x",
	}, "simple_quote")
	require.NoError(t, err)
	info := artifact["workflow_info"].(map[string]interface{})

	viz := o.VisualizeWorkflow(info["workflow_id"].(string))
	assert.Contains(t, viz, "PARSING")

	mermaid := o.GenerateMermaidDiagram(info["workflow_id"].(string))
	assert.Contains(t, mermaid, "graph TD")
}

func TestVisualizeWorkflowMarksFailedStageRedNotDone(t *testing.T) {
	o, mgr := newTestOrchestrator(t)

	require.NoError(t, mgr.RegisterAgent(context.Background(), "rfp_parser_agent", "worker", nil))
	agent.Register(mgr, "rfp_parser_agent", agent.ParsingStub, nil)
	// sales_agent never registers a handler, so sales_analysis always times out.
	require.NoError(t, mgr.RegisterAgent(context.Background(), "sales_agent", "worker", nil))

	tm := o.templates
	tpl, _ := tm.Get("standard_rfp")
	tpl.Stages[1].Timeout = 20 * time.Millisecond // sales_analysis

	artifact, err := o.ProcessRFP(context.Background(), map[string]interface{}{
		"rfp_id": "R-9", "document": "fails on sales_analysis",
	}, "standard_rfp")
	require.NoError(t, err)
	require.Equal(t, "failed", artifact["status"])

	mermaid := o.GenerateMermaidDiagram(artifact["workflow_id"].(string))

	assert.Contains(t, mermaid, "Failed: Sales Analysis")
	assert.NotContains(t, mermaid, "Done: Sales Analysis")
}
