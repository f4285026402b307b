package workflow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlStage mirrors StageConfig with durations expressed in seconds, since
// a human-authored YAML file is the natural place for operators to add
// custom templates without reaching for Go duration syntax.
type yamlStage struct {
	Name             string          `yaml:"name"`
	AgentID          string          `yaml:"agent_id"`
	TimeoutSeconds   float64         `yaml:"timeout_seconds"`
	Required         bool            `yaml:"required"`
	SkipConditions   []SkipCondition `yaml:"skip_conditions,omitempty"`
	ApprovalRequired bool            `yaml:"approval_required,omitempty"`
	ApprovalRoles    []string        `yaml:"approval_roles,omitempty"`
	ParallelWith     []string        `yaml:"parallel_with,omitempty"`
}

type yamlTemplate struct {
	ID                        string                 `yaml:"id"`
	Name                      string                 `yaml:"name"`
	Description               string                 `yaml:"description"`
	Stages                    []yamlStage            `yaml:"stages"`
	EstimatedDurationSeconds  float64                `yaml:"estimated_duration_seconds"`
	Metadata                  map[string]interface{} `yaml:"metadata,omitempty"`
}

type yamlTemplateFile struct {
	Templates []yamlTemplate `yaml:"templates"`
}

// LoadTemplatesFromYAML parses data into a slice of custom templates,
// supplementing (not replacing) the four bundled defaults.
func LoadTemplatesFromYAML(data []byte) ([]*WorkflowTemplate, error) {
	var file yamlTemplateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflow templates yaml: %w", err)
	}

	templates := make([]*WorkflowTemplate, 0, len(file.Templates))
	for _, yt := range file.Templates {
		if yt.ID == "" {
			return nil, fmt.Errorf("template missing id")
		}
		stages := make([]StageConfig, 0, len(yt.Stages))
		for _, ys := range yt.Stages {
			stages = append(stages, StageConfig{
				Name:             ys.Name,
				AgentID:          ys.AgentID,
				Timeout:          time.Duration(ys.TimeoutSeconds * float64(time.Second)),
				Required:         ys.Required,
				SkipConditions:   ys.SkipConditions,
				ApprovalRequired: ys.ApprovalRequired,
				ApprovalRoles:    ys.ApprovalRoles,
				ParallelWith:     ys.ParallelWith,
			})
		}
		templates = append(templates, &WorkflowTemplate{
			ID:                yt.ID,
			Name:              yt.Name,
			Description:       yt.Description,
			Stages:            stages,
			EstimatedDuration: time.Duration(yt.EstimatedDurationSeconds * float64(time.Second)),
			Metadata:          yt.Metadata,
		})
	}
	return templates, nil
}

// LoadFromYAML parses data and registers every template it contains,
// supplementing whatever is already in tm (including the bundled
// defaults).
func (tm *TemplateManager) LoadFromYAML(data []byte) error {
	templates, err := LoadTemplatesFromYAML(data)
	if err != nil {
		return err
	}
	for _, t := range templates {
		tm.Register(t)
	}
	return nil
}
