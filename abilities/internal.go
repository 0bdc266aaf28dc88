package abilities

import (
	"context"
	"math"
	"strings"

	"github.com/invoiceflow/invoiceflow/core"
)

// InternalBackend serves the ten internal abilities as pure functions
// over the parameter map. It holds no state and is safe for concurrent
// use.
type InternalBackend struct{}

// NewInternalBackend creates the internal backend.
func NewInternalBackend() *InternalBackend {
	return &InternalBackend{}
}

var _ Backend = (*InternalBackend)(nil)

// Execute dispatches an internal ability.
func (b *InternalBackend) Execute(_ context.Context, ability string, params map[string]interface{}) map[string]interface{} {
	switch ability {
	case "validate_schema":
		return b.validateSchema(params)
	case "persist_raw_invoice":
		return b.persistRawInvoice(params)
	case "parse_line_items":
		return b.parseLineItems(params)
	case "normalize_vendor":
		return b.normalizeVendor(params)
	case "compute_flags":
		return b.computeFlags(params)
	case "compute_match_score":
		return b.computeMatchScore(params)
	case "save_checkpoint":
		return b.saveCheckpoint(params)
	case "build_accounting_entries":
		return b.buildAccountingEntries(params)
	case "apply_approval_policy":
		return b.applyApprovalPolicy(params)
	case "output_final_payload":
		return b.outputFinalPayload(params)
	}
	return map[string]interface{}{"error": "Unknown ability: " + ability}
}

func (b *InternalBackend) validateSchema(params map[string]interface{}) map[string]interface{} {
	missing := []string{}
	for _, field := range []string{"invoice_id", "vendor_name", "amount"} {
		v, ok := params[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, field)
		}
	}
	return map[string]interface{}{
		"valid":          len(missing) == 0,
		"missing_fields": missing,
	}
}

func (b *InternalBackend) persistRawInvoice(params map[string]interface{}) map[string]interface{} {
	rawID := paramString(params, "raw_id")
	if rawID == "" {
		rawID = core.NewRawRef()
	}
	return map[string]interface{}{
		"raw_id":     rawID,
		"invoice_id": paramString(params, "invoice_id"),
		"persisted":  true,
	}
}

// parseLineItems passes provided line items through and extracts purchase
// order references from OCR text by simple "PO"-token matching.
func (b *InternalBackend) parseLineItems(params map[string]interface{}) map[string]interface{} {
	text := paramString(params, "extracted_text")

	detected := []string{}
	seen := map[string]bool{}
	for _, token := range strings.Fields(text) {
		token = strings.Trim(token, ".,;:()[]")
		if strings.HasPrefix(token, "PO-") && len(token) > 3 && !seen[token] {
			detected = append(detected, token)
			seen[token] = true
		}
	}

	lineItems := params["line_items"]
	if lineItems == nil {
		lineItems = []interface{}{}
	}
	return map[string]interface{}{
		"line_items":   lineItems,
		"detected_pos": detected,
	}
}

// NormalizeVendorName trims, collapses internal whitespace and
// upper-cases. Idempotent.
func NormalizeVendorName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

func (b *InternalBackend) normalizeVendor(params map[string]interface{}) map[string]interface{} {
	name := paramString(params, "vendor_name")
	return map[string]interface{}{
		"normalized_name": NormalizeVendorName(name),
		"original_name":   name,
	}
}

func (b *InternalBackend) computeFlags(params map[string]interface{}) map[string]interface{} {
	missing := []string{}
	for _, field := range []string{"vendor_tax_id", "due_date"} {
		if paramString(params, field) == "" {
			missing = append(missing, field)
		}
	}
	amount, _ := paramFloat(params, "amount")
	risk := 0.2 * float64(len(missing))
	if amount > 50000 {
		risk += 0.3
	}
	risk = math.Min(1.0, risk)
	return map[string]interface{}{
		"missing_info": missing,
		"risk_score":   risk,
	}
}

// MatchScore implements the two-way match curve. A zero-PO situation is
// an automatic miss unless the invoice amount is also zero.
func MatchScore(invoiceAmount, poTotal float64, posCount int, tolerancePct float64) float64 {
	if posCount == 0 {
		return 0.0
	}
	if poTotal == 0 {
		if invoiceAmount == 0 {
			return 1.0
		}
		return 0.0
	}
	diffPct := math.Abs(invoiceAmount-poTotal) / poTotal * 100
	if diffPct <= tolerancePct {
		return 1.0 - (diffPct/tolerancePct)*0.1
	}
	return math.Max(0.0, 1.0-diffPct/100)
}

func (b *InternalBackend) computeMatchScore(params map[string]interface{}) map[string]interface{} {
	invoiceAmount, _ := paramFloat(params, "invoice_amount")
	poAmounts := paramFloatSlice(params, "po_amounts")
	tolerance, ok := paramFloat(params, "tolerance_pct")
	if !ok {
		tolerance = 5.0
	}
	threshold, ok := paramFloat(params, "threshold")
	if !ok {
		threshold = 0.90
	}

	var poTotal float64
	for _, a := range poAmounts {
		poTotal += a
	}
	score := MatchScore(invoiceAmount, poTotal, len(poAmounts), tolerance)

	var diffPct float64
	if poTotal != 0 {
		diffPct = math.Abs(invoiceAmount-poTotal) / poTotal * 100
	}

	result := string(core.MatchFailed)
	if score >= threshold {
		result = string(core.MatchMatched)
	}
	return map[string]interface{}{
		"match_score":    score,
		"match_result":   result,
		"po_total":       poTotal,
		"pos_count":      len(poAmounts),
		"difference_pct": diffPct,
		"threshold_used": threshold,
	}
}

func (b *InternalBackend) saveCheckpoint(params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"workflow_id": paramString(params, "workflow_id"),
		"stage":       paramString(params, "stage"),
		"saved":       true,
	}
}

func (b *InternalBackend) buildAccountingEntries(params map[string]interface{}) map[string]interface{} {
	invoiceID := paramString(params, "invoice_id")
	amount, _ := paramFloat(params, "amount")
	currency := paramString(params, "currency")
	if currency == "" {
		currency = "USD"
	}

	entries := []map[string]interface{}{
		{
			"entry_id": core.JournalEntryID(invoiceID, 1),
			"account":  "2100-Accounts Payable",
			"type":     "debit",
			"amount":   amount,
			"currency": currency,
		},
		{
			"entry_id": core.JournalEntryID(invoiceID, 2),
			"account":  "5000-Expenses",
			"type":     "credit",
			"amount":   amount,
			"currency": currency,
		},
	}
	return map[string]interface{}{
		"entries":       entries,
		"total_debits":  amount,
		"total_credits": amount,
		"balanced":      true,
	}
}

func (b *InternalBackend) applyApprovalPolicy(params map[string]interface{}) map[string]interface{} {
	amount, _ := paramFloat(params, "amount")
	risk, _ := paramFloat(params, "risk_score")
	threshold, ok := paramFloat(params, "auto_approve_threshold")
	if !ok {
		threshold = 10000
	}

	if amount <= threshold && risk < 0.5 {
		return map[string]interface{}{
			"approval_status": string(core.ApprovalAutoApproved),
			"approver_id":     "SYSTEM",
			"auto_approved":   true,
		}
	}
	return map[string]interface{}{
		"approval_status": string(core.ApprovalEscalated),
		"approver_id":     "finance_manager",
		"auto_approved":   false,
	}
}

func (b *InternalBackend) outputFinalPayload(params map[string]interface{}) map[string]interface{} {
	summary, ok := params["summary"].(map[string]interface{})
	if !ok {
		summary = params
	}
	return map[string]interface{}{
		"final_payload": summary,
		"generated_at":  core.UTCNow(),
	}
}
