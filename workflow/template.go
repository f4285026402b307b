// Package workflow implements the Workflow Template Manager and
// Conditional Router (C7): bundled and custom templates, stage skip rules,
// and auto-selection by RFP characteristics.
package workflow

import (
	"sync"
	"time"
)

// SkipCondition is one of the closed set of conditions a stage can carry;
// a stage is skipped when any of its conditions holds against the
// workflow's context data.
type SkipCondition string

const (
	// SkipIfLowValue skips the stage when estimated_value < 10,000.
	SkipIfLowValue SkipCondition = "skip_if_low_value"
	// SkipIfStandardProduct skips the stage when is_standard_product is
	// truthy.
	SkipIfStandardProduct SkipCondition = "skip_if_standard_product"
	// FastTrack skips the stage when priority = urgent.
	FastTrack SkipCondition = "fast_track"
	// RequiresApproval does not skip; it marks that the stage's approval
	// gate (configured separately via StageConfig.ApprovalRequired) applies.
	RequiresApproval SkipCondition = "requires_approval"
	// ComplexValidation does not skip; it influences validation depth for
	// agents that read it off the stage config, not the router.
	ComplexValidation SkipCondition = "complex_validation"
)

// StageConfig is one stage of a WorkflowTemplate (spec.md §3).
type StageConfig struct {
	Name             string          `yaml:"name" json:"name"`
	AgentID          string          `yaml:"agent_id" json:"agent_id"`
	Timeout          time.Duration   `yaml:"timeout" json:"timeout"`
	Required         bool            `yaml:"required" json:"required"`
	SkipConditions   []SkipCondition `yaml:"skip_conditions,omitempty" json:"skip_conditions,omitempty"`
	ApprovalRequired bool            `yaml:"approval_required,omitempty" json:"approval_required,omitempty"`
	ApprovalRoles    []string        `yaml:"approval_roles,omitempty" json:"approval_roles,omitempty"`
	ParallelWith     []string        `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`
}

// WorkflowTemplate is an ordered sequence of stages plus metadata
// (spec.md §3).
type WorkflowTemplate struct {
	ID                string                 `yaml:"id" json:"id"`
	Name              string                 `yaml:"name" json:"name"`
	Description       string                 `yaml:"description" json:"description"`
	Stages            []StageConfig          `yaml:"stages" json:"stages"`
	EstimatedDuration time.Duration          `yaml:"estimated_duration" json:"estimated_duration"`
	Metadata          map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// StageNames returns the ordered list of stage names in t.
func (t *WorkflowTemplate) StageNames() []string {
	names := make([]string, len(t.Stages))
	for i, s := range t.Stages {
		names[i] = s.Name
	}
	return names
}

// Stage returns the StageConfig named name, or (zero, false) if absent.
func (t *WorkflowTemplate) Stage(name string) (StageConfig, bool) {
	for _, s := range t.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageConfig{}, false
}

// RFPSnapshot is the subset of an RFP's fields the template selection
// predicate table (spec.md §4.6) and the skip rules consult.
type RFPSnapshot struct {
	Priority          string
	Complexity        string
	EstimatedValue    float64
	IsStandardProduct bool
}

// ToContextData flattens the snapshot into the generic map shape the
// ConditionalRouter's skip predicates read (spec.md expresses skip
// conditions against "the workflow context data", a plain map, not a typed
// struct — this keeps the router decoupled from the RFP's typed shape).
func (s RFPSnapshot) ToContextData() map[string]interface{} {
	return map[string]interface{}{
		"priority":            s.Priority,
		"complexity":          s.Complexity,
		"estimated_value":     s.EstimatedValue,
		"is_standard_product": s.IsStandardProduct,
	}
}

// TemplateManager holds the set of registered templates: the four bundled
// defaults plus any custom templates registered at runtime or loaded from
// YAML.
type TemplateManager struct {
	mu        sync.RWMutex
	templates map[string]*WorkflowTemplate
}

// NewTemplateManager constructs a TemplateManager preloaded with the four
// bundled default templates (spec.md §6).
func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{templates: make(map[string]*WorkflowTemplate)}
	for _, t := range DefaultTemplates() {
		tm.templates[t.ID] = t
	}
	return tm
}

// Register adds or replaces a template.
func (tm *TemplateManager) Register(t *WorkflowTemplate) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.templates[t.ID] = t
}

// Get returns the template named id, or (nil, false) if unknown.
func (tm *TemplateManager) Get(id string) (*WorkflowTemplate, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[id]
	return t, ok
}

// List returns every registered template.
func (tm *TemplateManager) List() []*WorkflowTemplate {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	out := make([]*WorkflowTemplate, 0, len(tm.templates))
	for _, t := range tm.templates {
		out = append(out, t)
	}
	return out
}

// SelectTemplate auto-selects a template identifier for snapshot per the
// predicate table in spec.md §4.6, evaluated in priority order.
func SelectTemplate(snapshot RFPSnapshot) string {
	switch {
	case snapshot.Priority == "urgent" && snapshot.Complexity == "simple":
		return "fast_track_rfp"
	case snapshot.Complexity == "complex" || snapshot.EstimatedValue > 1_000_000:
		return "complex_rfp"
	case snapshot.Complexity == "simple" && snapshot.EstimatedValue < 50_000:
		return "simple_quote"
	default:
		return "standard_rfp"
	}
}
