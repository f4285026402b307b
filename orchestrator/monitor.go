package orchestrator

// WorkflowStatus is the shape returned by GetWorkflowStatus /
// GetAllActiveWorkflows (spec.md §6's monitoring surface).
type WorkflowStatus struct {
	WorkflowID      string   `json:"workflow_id"`
	RFPID           string   `json:"rfp_id"`
	CurrentStage    string   `json:"current_stage"`
	Status          string   `json:"status"`
	CompletedStages []string `json:"completed_stages"`
	Errors          []string `json:"errors"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time,omitempty"`
}

// GetWorkflowStatus returns the current state of a single workflow, or
// false if no such workflow is (or ever was) active in this process.
func (o *Orchestrator) GetWorkflowStatus(workflowID string) (WorkflowStatus, bool) {
	o.mu.RLock()
	wfCtx, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return WorkflowStatus{}, false
	}

	status := WorkflowStatus{
		WorkflowID:      wfCtx.WorkflowID,
		RFPID:           wfCtx.RFPID,
		CurrentStage:    string(wfCtx.CurrentStage),
		Status:          string(wfCtx.Status),
		CompletedStages: wfCtx.completedStageNames(),
		Errors:          wfCtx.Errors,
		StartTime:       wfCtx.StartTime.Format(timeFormat),
	}
	if !wfCtx.EndTime.IsZero() {
		status.EndTime = wfCtx.EndTime.Format(timeFormat)
	}
	return status, true
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// GetAllActiveWorkflows returns a status snapshot for every workflow this
// orchestrator has ever started in the current process.
func (o *Orchestrator) GetAllActiveWorkflows() []WorkflowStatus {
	o.mu.RLock()
	ids := make([]string, 0, len(o.workflows))
	for id := range o.workflows {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	statuses := make([]WorkflowStatus, 0, len(ids))
	for _, id := range ids {
		if s, ok := o.GetWorkflowStatus(id); ok {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

// StageEstimate is a single stage's entry in GetTimeEstimates' response.
type StageEstimate struct {
	EstimatedSeconds float64 `json:"estimated_seconds"`
	Confidence       float64 `json:"confidence"`
	SampleCount      int     `json:"sample_count"`
}

// GetTimeEstimates reports current duration estimates for the five known
// stages plus the overall workflow.
func (o *Orchestrator) GetTimeEstimates() map[string]interface{} {
	stages := []string{"parsing", "sales_analysis", "technical_validation", "pricing_calculation", "response_generation"}

	estimates := make(map[string]interface{}, len(stages)+1)
	for _, stage := range stages {
		estimates[stage] = StageEstimate{
			EstimatedSeconds: o.estimator.EstimateStageTime(stage).Seconds(),
			Confidence:       o.estimator.ConfidenceLevel(stage),
		}
	}
	estimates["total_workflow"] = map[string]interface{}{
		"estimated_seconds": o.estimator.EstimateWorkflowTime(stages).Seconds(),
	}
	return estimates
}

// TemplateSummary is a single entry in GetAvailableTemplates.
type TemplateSummary struct {
	TemplateID        string   `json:"template_id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Stages            []string `json:"stages"`
	EstimatedDuration float64  `json:"estimated_duration_seconds"`
}

// GetAvailableTemplates lists every registered workflow template.
func (o *Orchestrator) GetAvailableTemplates() []TemplateSummary {
	templates := o.templates.List()
	summaries := make([]TemplateSummary, 0, len(templates))
	for _, t := range templates {
		summaries = append(summaries, TemplateSummary{
			TemplateID:        t.ID,
			Name:              t.Name,
			Description:       t.Description,
			Stages:            t.StageNames(),
			EstimatedDuration: t.EstimatedDuration.Seconds(),
		})
	}
	return summaries
}

// VisualizeWorkflow renders an ASCII flow diagram of a workflow's current
// progress through its template's stages.
func (o *Orchestrator) VisualizeWorkflow(workflowID string) string {
	o.mu.RLock()
	wfCtx, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return "workflow not found"
	}

	tpl, ok := o.templates.Get(wfCtx.TemplateID)
	if !ok {
		return "workflow not found"
	}

	var current string
	if wfCtx.Status == StatusInProgress {
		current = string(wfCtx.CurrentStage)
	}
	return GenerateASCIIFlow(tpl.StageNames(), current, wfCtx.completedStageNames())
}

// GenerateMermaidDiagram renders a Mermaid flowchart of a workflow's
// progress, highlighting the failed stage (if any).
func (o *Orchestrator) GenerateMermaidDiagram(workflowID string) string {
	o.mu.RLock()
	wfCtx, ok := o.workflows[workflowID]
	o.mu.RUnlock()
	if !ok {
		return "workflow not found"
	}

	tpl, ok := o.templates.Get(wfCtx.TemplateID)
	if !ok {
		return "workflow not found"
	}

	var failed string
	if wfCtx.Status == StatusFailed {
		failed = wfCtx.FailedStage
	}
	return GenerateMermaidDiagram(tpl.StageNames(), wfCtx.completedStageNames(), failed)
}
