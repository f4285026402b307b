package workflow

import "time"

// DefaultTemplates returns the four bundled workflow templates
// (spec.md §6), mirroring the original's WorkflowTemplateManager
// defaults: standard_rfp, fast_track_rfp, complex_rfp, simple_quote.
func DefaultTemplates() []*WorkflowTemplate {
	return []*WorkflowTemplate{
		standardRFP(),
		fastTrackRFP(),
		complexRFP(),
		simpleQuote(),
	}
}

func standardRFP() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:          "standard_rfp",
		Name:        "Standard RFP Processing",
		Description: "Complete RFP processing with all validation steps",
		Stages: []StageConfig{
			{Name: "parsing", AgentID: "rfp_parser_agent", Timeout: 60 * time.Second, Required: true},
			{Name: "sales_analysis", AgentID: "sales_agent", Timeout: 90 * time.Second, Required: true},
			{Name: "technical_validation", AgentID: "technical_agent", Timeout: 120 * time.Second, Required: true},
			{Name: "pricing_calculation", AgentID: "pricing_agent", Timeout: 60 * time.Second, Required: true},
			{Name: "response_generation", AgentID: "response_generator_agent", Timeout: 90 * time.Second, Required: true},
		},
		EstimatedDuration: 7 * time.Second,
	}
}

func fastTrackRFP() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:          "fast_track_rfp",
		Name:        "Fast Track RFP",
		Description: "Expedited processing for standard products",
		Stages: []StageConfig{
			{Name: "parsing", AgentID: "rfp_parser_agent", Timeout: 30 * time.Second, Required: true},
			{Name: "sales_analysis", AgentID: "sales_agent", Timeout: 45 * time.Second, Required: true},
			{
				Name: "technical_validation", AgentID: "technical_agent", Timeout: 60 * time.Second, Required: true,
				SkipConditions: []SkipCondition{SkipIfStandardProduct},
			},
			{Name: "pricing_calculation", AgentID: "pricing_agent", Timeout: 30 * time.Second, Required: true},
			{Name: "response_generation", AgentID: "response_generator_agent", Timeout: 45 * time.Second, Required: true},
		},
		EstimatedDuration: 3500 * time.Millisecond,
	}
}

func complexRFP() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:          "complex_rfp",
		Name:        "Complex RFP with Approvals",
		Description: "Detailed processing with manual approval checkpoints",
		Stages: []StageConfig{
			{Name: "parsing", AgentID: "rfp_parser_agent", Timeout: 90 * time.Second, Required: true},
			{
				Name: "sales_analysis", AgentID: "sales_agent", Timeout: 120 * time.Second, Required: true,
				ApprovalRequired: true, ApprovalRoles: []string{"sales_manager"},
			},
			{
				Name: "technical_validation", AgentID: "technical_agent", Timeout: 180 * time.Second, Required: true,
				ApprovalRequired: true, ApprovalRoles: []string{"technical_lead", "compliance_officer"},
				SkipConditions: []SkipCondition{ComplexValidation},
			},
			{
				Name: "pricing_calculation", AgentID: "pricing_agent", Timeout: 90 * time.Second, Required: true,
				ApprovalRequired: true, ApprovalRoles: []string{"pricing_manager"},
			},
			{Name: "response_generation", AgentID: "response_generator_agent", Timeout: 120 * time.Second, Required: true},
		},
		EstimatedDuration: 12 * time.Second,
	}
}

func simpleQuote() *WorkflowTemplate {
	return &WorkflowTemplate{
		ID:          "simple_quote",
		Name:        "Simple Quote Generation",
		Description: "Basic quote for standard products without technical validation",
		Stages: []StageConfig{
			{Name: "parsing", AgentID: "rfp_parser_agent", Timeout: 30 * time.Second, Required: true},
			{Name: "sales_analysis", AgentID: "sales_agent", Timeout: 45 * time.Second, Required: true},
			{Name: "pricing_calculation", AgentID: "pricing_agent", Timeout: 30 * time.Second, Required: true},
			{Name: "response_generation", AgentID: "response_generator_agent", Timeout: 30 * time.Second, Required: true},
		},
		EstimatedDuration: 2500 * time.Millisecond,
	}
}
