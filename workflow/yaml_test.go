package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
templates:
  - id: rush_quote
    name: Rush Quote
    description: A custom same-day template
    estimated_duration_seconds: 90
    stages:
      - name: parsing
        agent_id: rfp_parser_agent
        timeout_seconds: 15
        required: true
      - name: pricing_calculation
        agent_id: pricing_agent
        timeout_seconds: 20
        required: true
        skip_conditions: [skip_if_low_value]
`

func TestLoadTemplatesFromYAML(t *testing.T) {
	templates, err := LoadTemplatesFromYAML([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tpl := templates[0]
	assert.Equal(t, "rush_quote", tpl.ID)
	assert.Equal(t, 90*time.Second, tpl.EstimatedDuration)
	require.Len(t, tpl.Stages, 2)
	assert.Equal(t, 15*time.Second, tpl.Stages[0].Timeout)
	assert.Equal(t, []SkipCondition{SkipIfLowValue}, tpl.Stages[1].SkipConditions)
}

func TestLoadFromYAMLSupplementsDefaults(t *testing.T) {
	tm := NewTemplateManager()
	require.NoError(t, tm.LoadFromYAML([]byte(sampleYAML)))

	assert.Len(t, tm.List(), 5)
	_, ok := tm.Get("standard_rfp")
	assert.True(t, ok)
	_, ok = tm.Get("rush_quote")
	assert.True(t, ok)
}

func TestLoadTemplatesFromYAMLRejectsMissingID(t *testing.T) {
	_, err := LoadTemplatesFromYAML([]byte("templates:\n  - name: no id\n"))
	assert.Error(t, err)
}
