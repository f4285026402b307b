package agent

import "context"

// ParsingStub is a minimal parsing agent: it reports a fixed set of
// document sections/requirements and a fixed confidence score. Useful for
// local wiring and orchestrator tests; production deployments replace
// this with a real document-understanding service behind the same
// contract.
func ParsingStub(ctx context.Context, payload map[string]interface{}) map[string]interface{} {
	document := stringField(payload, "document")
	if document == "" {
		return failure("document missing or empty")
	}
	return success(map[string]interface{}{
		"sections":         []string{"scope", "requirements", "evaluation_criteria", "timeline"},
		"requirements":     []string{"on-site support", "24x7 SLA", "ISO 27001 compliance"},
		"metadata":         map[string]interface{}{"page_count": 12, "language": "en"},
		"confidence_score": 0.92,
	})
}

// SalesAnalysisStub reports a fixed line-item list and opportunity score;
// the parsed requirements in the payload are not read.
func SalesAnalysisStub(ctx context.Context, payload map[string]interface{}) map[string]interface{} {
	return success(map[string]interface{}{
		"line_items": []map[string]interface{}{
			{"sku": "SVC-STD-01", "description": "Standard deployment", "quantity": 1},
		},
		"customer_context":    map[string]interface{}{"tier": "enterprise", "repeat_customer": true},
		"opportunity_score":   0.78,
		"recommended_products": []string{"platform-core", "premium-support"},
		"delivery_terms":      "45 days from contract signature",
		"payment_terms":       "net-30",
	})
}

// TechnicalValidationStub echoes the payload's line items back as the
// validated products and reports a fixed compliance baseline; no product
// is actually checked.
func TechnicalValidationStub(ctx context.Context, payload map[string]interface{}) map[string]interface{} {
	lineItems, _ := payload["line_items"].([]map[string]interface{})
	return success(map[string]interface{}{
		"validated_products": lineItems,
		"compliance_report":  "all requested products meet stated technical requirements",
		"standards_met":      []string{"ISO 27001", "SOC 2 Type II"},
		"certifications":     []string{"ISO 27001:2013"},
		"technical_notes":    "no deviations from customer specification",
		"compliance_score":   0.95,
	})
}

// PricingCalculationStub returns a flat quote (a fixed 48000 subtotal plus
// 8% tax) regardless of the line items in the payload.
func PricingCalculationStub(ctx context.Context, payload map[string]interface{}) map[string]interface{} {
	subtotal := 48000.0
	taxes := subtotal * 0.08
	return success(map[string]interface{}{
		"quote_id":          "Q-" + stringField(payload, "rfp_id"),
		"line_item_prices":  []map[string]interface{}{{"sku": "SVC-STD-01", "unit_price": subtotal}},
		"subtotal":          subtotal,
		"taxes":             taxes,
		"total":             subtotal + taxes,
		"discounts_applied": []string{},
		"payment_terms":     "net-30",
		"validity_period":   30,
	})
}

// ResponseGenerationStub returns a fixed customer-facing response document
// that names the payload's rfp_id; the upstream stage outputs are not read.
func ResponseGenerationStub(ctx context.Context, payload map[string]interface{}) map[string]interface{} {
	return success(map[string]interface{}{
		"document":           "Proposal generated for RFP " + stringField(payload, "rfp_id"),
		"executive_summary":  "We are pleased to submit our proposal for your requirements.",
		"technical_section":  "See attached compliance report for full technical detail.",
		"pricing_section":    "See attached quote for full pricing breakdown.",
		"terms_conditions":   "Standard terms and conditions apply; net-30 payment.",
		"format":             "pdf",
	})
}
