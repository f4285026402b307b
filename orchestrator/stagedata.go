package orchestrator

// stagePayload builds the request payload sent to a stage's agent, per
// spec.md §6's per-stage contract table. Stage names outside the five
// known contracts (custom templates) get a generic payload carrying the
// full accumulated stage data, so a new agent can still make progress
// without a bespoke mapping.
func (o *Orchestrator) stagePayload(stageName string, wfCtx *Context, rfpData map[string]interface{}) map[string]interface{} {
	base := map[string]interface{}{
		"workflow_id": wfCtx.WorkflowID,
		"rfp_id":      wfCtx.RFPID,
	}

	switch stageName {
	case "parsing":
		base["document"] = rfpData["document"]
		base["document_type"] = stringOr(rfpData, "document_type", "pdf")

	case "sales_analysis":
		parsing := wfCtx.StageResults["parsing"].Data
		base["customer_id"] = wfCtx.CustomerID
		base["requirements"] = fieldOrEmptySlice(parsing, "extracted_requirements")
		base["sections"] = fieldOrEmptySlice(parsing, "parsed_sections")

	case "technical_validation":
		sales := wfCtx.StageResults["sales_analysis"].Data
		base["line_items"] = fieldOrEmptySlice(sales, "line_items")
		base["recommended_products"] = fieldOrEmptySlice(sales, "recommended_products")

	case "pricing_calculation":
		sales := wfCtx.StageResults["sales_analysis"].Data
		technical := wfCtx.StageResults["technical_validation"].Data
		base["customer_id"] = wfCtx.CustomerID
		base["line_items"] = fieldOrEmptySlice(sales, "line_items")
		base["validated_products"] = fieldOrEmptySlice(technical, "validated_products")
		base["customer_context"] = fieldOrEmptyMap(sales, "customer_context")

	case "response_generation":
		base["customer_id"] = wfCtx.CustomerID
		base["parsed_content"] = wfCtx.StageResults["parsing"].Data
		base["sales_analysis"] = wfCtx.StageResults["sales_analysis"].Data
		base["technical_validation"] = wfCtx.StageResults["technical_validation"].Data
		base["pricing"] = wfCtx.StageResults["pricing_calculation"].Data
		base["deadline"] = rfpData["deadline"]

	default:
		accumulated := make(map[string]interface{}, len(wfCtx.StageResults))
		for name, result := range wfCtx.StageResults {
			accumulated[name] = result.Data
		}
		base["accumulated"] = accumulated
	}

	return base
}

// mapStageData extracts the canonical, per-stage data fields out of an
// agent's raw response payload, applying the same defaults the original
// stage methods apply.
func mapStageData(stageName string, resp map[string]interface{}) map[string]interface{} {
	switch stageName {
	case "parsing":
		return map[string]interface{}{
			"parsed_sections":        fieldOrEmptySlice(resp, "sections"),
			"extracted_requirements": fieldOrEmptySlice(resp, "requirements"),
			"metadata":               fieldOrEmptyMap(resp, "metadata"),
			"confidence_score":       floatOr(resp, "confidence_score", 0.0),
		}
	case "sales_analysis":
		return map[string]interface{}{
			"line_items":            fieldOrEmptySlice(resp, "line_items"),
			"customer_context":      fieldOrEmptyMap(resp, "customer_context"),
			"opportunity_score":     floatOr(resp, "opportunity_score", 0.0),
			"recommended_products":  fieldOrEmptySlice(resp, "recommended_products"),
			"delivery_terms":        resp["delivery_terms"],
			"payment_terms":         resp["payment_terms"],
		}
	case "technical_validation":
		return map[string]interface{}{
			"validated_products": fieldOrEmptySlice(resp, "validated_products"),
			"compliance_report":  resp["compliance_report"],
			"standards_met":      fieldOrEmptySlice(resp, "standards_met"),
			"certifications":     fieldOrEmptySlice(resp, "certifications"),
			"technical_notes":    resp["technical_notes"],
			"compliance_score":   floatOr(resp, "compliance_score", 0.0),
		}
	case "pricing_calculation":
		return map[string]interface{}{
			"quote_id":           resp["quote_id"],
			"line_item_prices":   fieldOrEmptySlice(resp, "line_item_prices"),
			"subtotal":           floatOr(resp, "subtotal", 0.0),
			"taxes":              floatOr(resp, "taxes", 0.0),
			"total":              floatOr(resp, "total", 0.0),
			"discounts_applied":  fieldOrEmptySlice(resp, "discounts_applied"),
			"payment_terms":      resp["payment_terms"],
			"validity_period":    intOr(resp, "validity_period", 30),
		}
	case "response_generation":
		return map[string]interface{}{
			"response_document":  resp["document"],
			"executive_summary":  resp["executive_summary"],
			"technical_section":  resp["technical_section"],
			"pricing_section":    resp["pricing_section"],
			"terms_conditions":   resp["terms_conditions"],
			"document_format":    stringOr(resp, "format", "pdf"),
		}
	default:
		data := make(map[string]interface{}, len(resp))
		for k, v := range resp {
			if k == "status" {
				continue
			}
			data[k] = v
		}
		return data
	}
}

func fieldOrEmptySlice(m map[string]interface{}, key string) interface{} {
	if m == nil {
		return []interface{}{}
	}
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return []interface{}{}
}

func fieldOrEmptyMap(m map[string]interface{}, key string) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return map[string]interface{}{}
}

func floatOr(m map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}

func intOr(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
