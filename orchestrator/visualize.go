package orchestrator

import (
	"fmt"
	"strings"
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func titleCase(stage string) string {
	words := strings.Split(stage, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// GenerateASCIIFlow renders a top-to-bottom ASCII diagram of a stage
// sequence, marking completed stages and the current stage, grounded on
// the original's WorkflowVisualizer.generate_ascii_flow.
func GenerateASCIIFlow(stages []string, currentStage string, completedStages []string) string {
	var b strings.Builder
	b.WriteString("+" + strings.Repeat("-", 60) + "+\n")
	b.WriteString(fmt.Sprintf("|%s|\n", center("WORKFLOW EXECUTION FLOW", 60)))
	b.WriteString("+" + strings.Repeat("-", 60) + "+\n\n")

	for i, stage := range stages {
		marker, status := "o", " "
		switch {
		case contains(completedStages, stage):
			marker, status = "*", "x"
		case stage == currentStage:
			marker, status = "@", ">"
		}
		b.WriteString(fmt.Sprintf("  %s [%s] %d. %s\n", marker, status, i+1, strings.ToUpper(strings.ReplaceAll(stage, "_", " "))))
		if i < len(stages)-1 {
			b.WriteString("      |\n      v\n")
		}
	}
	return b.String()
}

// GenerateMermaidDiagram renders a Mermaid flowchart definition for a
// stage sequence, highlighting completed stages green and a failed stage
// red, grounded on the original's generate_mermaid_diagram.
func GenerateMermaidDiagram(stages []string, completedStages []string, failedStage string) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("    Start([Start]) --> Stage1\n")

	for i, stage := range stages {
		stageID := fmt.Sprintf("Stage%d", i+1)

		label := titleCase(stage)
		switch {
		case stage == failedStage:
			b.WriteString(fmt.Sprintf("    %s[Failed: %s]\n", stageID, label))
			b.WriteString(fmt.Sprintf("    style %s fill:#FFB6C6\n", stageID))
		case contains(completedStages, stage):
			b.WriteString(fmt.Sprintf("    %s[Done: %s]\n", stageID, label))
			b.WriteString(fmt.Sprintf("    style %s fill:#90EE90\n", stageID))
		default:
			b.WriteString(fmt.Sprintf("    %s[%s]\n", stageID, label))
		}
		if i < len(stages)-1 {
			b.WriteString(fmt.Sprintf("    %s --> Stage%d\n", stageID, i+2))
		}
	}
	b.WriteString(fmt.Sprintf("    Stage%d --> End([End])\n", len(stages)))
	return b.String()
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	total := width - len(s)
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}
