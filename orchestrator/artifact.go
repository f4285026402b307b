package orchestrator

// buildArtifact assembles the final response document per spec.md §6's
// final_artifact shape, directly grounded on rfp_workflow.py's
// _stage_review compiled final_response dict.
func buildArtifact(wfCtx *Context) map[string]interface{} {
	responseGen := wfCtx.StageResults["response_generation"].Data
	pricing := wfCtx.StageResults["pricing_calculation"].Data
	technical := wfCtx.StageResults["technical_validation"].Data
	parsing := wfCtx.StageResults["parsing"].Data
	sales := wfCtx.StageResults["sales_analysis"].Data

	stageDurations := make(map[string]interface{}, len(wfCtx.StageResults))
	for name, result := range wfCtx.StageResults {
		stageDurations[name] = result.Duration.Seconds()
	}

	return map[string]interface{}{
		"workflow_id":        wfCtx.WorkflowID,
		"rfp_id":             wfCtx.RFPID,
		"customer_id":        wfCtx.CustomerID,
		"status":             "completed",
		"response_document":  valueOrNil(responseGen, "response_document"),
		"executive_summary":  valueOrNil(responseGen, "executive_summary"),
		"quote": map[string]interface{}{
			"quote_id":      valueOrNil(pricing, "quote_id"),
			"total":         valueOrNil(pricing, "total"),
			"line_items":    valueOrNil(pricing, "line_item_prices"),
			"validity_days": valueOrNil(pricing, "validity_period"),
		},
		"compliance": map[string]interface{}{
			"score":          valueOrNil(technical, "compliance_score"),
			"standards_met":  valueOrNil(technical, "standards_met"),
			"certifications": valueOrNil(technical, "certifications"),
		},
		"timeline": map[string]interface{}{
			"processing_started":     wfCtx.StartTime,
			"processing_completed":   wfCtx.EndTime,
			"total_duration_seconds": wfCtx.EndTime.Sub(wfCtx.StartTime).Seconds(),
			"stage_durations":        stageDurations,
		},
		"metadata": map[string]interface{}{
			"workflow_stages_completed": len(wfCtx.StageResults),
			"confidence_scores": map[string]interface{}{
				"parsing":     valueOrZero(parsing, "confidence_score"),
				"opportunity": valueOrZero(sales, "opportunity_score"),
				"compliance":  valueOrZero(technical, "compliance_score"),
			},
		},
	}
}

func valueOrNil(m map[string]interface{}, key string) interface{} {
	if m == nil {
		return nil
	}
	return m[key]
}

func valueOrZero(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0.0
	}
	v, _ := m[key].(float64)
	return v
}
