package workflow

import "github.com/industrial-rfp/workflow-core/core"

// ConditionalRouter evaluates stage skip rules and next-stage fan-out
// (spec.md §4.6). It is stateless; every method is a pure function of its
// arguments.
type ConditionalRouter struct {
	logger core.Logger
}

// NewConditionalRouter constructs a ConditionalRouter. logger may be nil.
func NewConditionalRouter(logger core.Logger) *ConditionalRouter {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &ConditionalRouter{logger: logger}
}

// ShouldSkip reports whether stage should be skipped given contextData.
// RequiresApproval and ComplexValidation never cause a skip; they are
// read elsewhere (approval gating, validation depth).
func (r *ConditionalRouter) ShouldSkip(stage StageConfig, contextData map[string]interface{}) bool {
	for _, cond := range stage.SkipConditions {
		switch cond {
		case SkipIfLowValue:
			if value, ok := floatField(contextData, "estimated_value"); ok && value < 10_000 {
				return true
			}
		case SkipIfStandardProduct:
			if truthy(contextData["is_standard_product"]) {
				return true
			}
		case FastTrack:
			if s, ok := contextData["priority"].(string); ok && s == "urgent" {
				return true
			}
		}
	}
	return false
}

// NextStages returns the names of the stages that follow currentStage and
// may execute concurrently with one another: starting immediately after
// currentStage, stages are collected (skipping any whose ShouldSkip holds)
// until one is reached that does not declare ParallelWith, which is
// included and then stops the scan. A currentStage that is last, or not
// found, yields nil.
func (r *ConditionalRouter) NextStages(currentStage string, stages []StageConfig, contextData map[string]interface{}) []string {
	idx := -1
	for i, s := range stages {
		if s.Name == currentStage {
			idx = i
			break
		}
	}
	if idx == -1 || idx >= len(stages)-1 {
		return nil
	}

	var next []string
	for i := idx + 1; i < len(stages); i++ {
		stage := stages[i]
		if r.ShouldSkip(stage, contextData) {
			r.logger.Info("stage skipped", map[string]interface{}{
				"stage": stage.Name, "conditions": stage.SkipConditions,
			})
			continue
		}
		next = append(next, stage.Name)
		if len(stage.ParallelWith) == 0 {
			break
		}
	}
	return next
}

func floatField(data map[string]interface{}, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
