package orchestrator

import (
	"time"
)

// Stage is one step of the workflow state machine (spec.md §4.9).
type Stage string

const (
	StageReceived             Stage = "received"
	StageParsing              Stage = "parsing"
	StageSalesAnalysis        Stage = "sales_analysis"
	StageTechnicalValidation  Stage = "technical_validation"
	StagePricingCalculation   Stage = "pricing_calculation"
	StageResponseGeneration   Stage = "response_generation"
	StageReview               Stage = "review"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
	StageCancelled            Stage = "cancelled"
)

// Status is the lifecycle status of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// StageResult records the outcome of a single stage execution (or skip).
type StageResult struct {
	Stage    string
	Status   string // "success", "failed", or "skipped"
	Data     map[string]interface{}
	Error    string
	Duration time.Duration
	At       time.Time
}

// Context is maintained for the lifetime of a single workflow run.
type Context struct {
	WorkflowID   string
	RFPID        string
	CustomerID   string
	TemplateID   string
	TemplateName string

	CurrentStage Stage
	Status       Status

	StageResults map[string]StageResult
	StageOrder   []string // preserves insertion order for deterministic reporting
	FailedStage  string   // name of the stage that failed or was cancelled, if any

	Errors []string

	StartTime time.Time
	EndTime   time.Time

	EstimatedDuration time.Duration
	Priority          string
}

func newContext(workflowID, rfpID, customerID, templateID, templateName, priority string, estimated time.Duration, startedAt time.Time) *Context {
	return &Context{
		WorkflowID:        workflowID,
		RFPID:             rfpID,
		CustomerID:        customerID,
		TemplateID:        templateID,
		TemplateName:      templateName,
		CurrentStage:      StageReceived,
		Status:            StatusPending,
		StageResults:      make(map[string]StageResult),
		Priority:          priority,
		EstimatedDuration: estimated,
		StartTime:         startedAt,
	}
}

func (c *Context) recordResult(r StageResult) {
	if _, exists := c.StageResults[r.Stage]; !exists {
		c.StageOrder = append(c.StageOrder, r.Stage)
	}
	c.StageResults[r.Stage] = r
}

func (c *Context) completedStageNames() []string {
	names := make([]string, 0, len(c.StageOrder))
	names = append(names, c.StageOrder...)
	return names
}
