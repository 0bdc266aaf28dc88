package abilities

import (
	"context"
	"fmt"

	"github.com/invoiceflow/invoiceflow/core"
)

// ExternalBackend simulates the ten provider-facing abilities. Responses
// are fabricated but structurally correct; the workflow core depends only
// on the shapes. Tests usually inject their own Backend instead.
type ExternalBackend struct{}

// NewExternalBackend creates the simulated external backend.
func NewExternalBackend() *ExternalBackend {
	return &ExternalBackend{}
}

var _ Backend = (*ExternalBackend)(nil)

// Execute dispatches an external ability.
func (b *ExternalBackend) Execute(ctx context.Context, ability string, params map[string]interface{}) map[string]interface{} {
	if err := ctx.Err(); err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	switch ability {
	case "ocr_extract":
		return b.ocrExtract(params)
	case "enrich_vendor":
		return b.enrichVendor(params)
	case "fetch_po":
		return b.fetchPO(params)
	case "fetch_grn":
		return b.fetchGRN(params)
	case "fetch_history":
		return b.fetchHistory(params)
	case "human_review_action":
		return b.humanReviewAction(params)
	case "post_to_erp":
		return b.postToERP(params)
	case "schedule_payment":
		return b.schedulePayment(params)
	case "notify_vendor":
		return b.notifyVendor(params)
	case "notify_finance_team":
		return b.notifyFinanceTeam(params)
	}
	return map[string]interface{}{"error": "Unknown ability: " + ability}
}

func (b *ExternalBackend) ocrExtract(params map[string]interface{}) map[string]interface{} {
	vendor := paramString(params, "vendor_name")
	amount, _ := paramFloat(params, "amount")
	attachments := paramStringSlice(params, "attachments")
	pages := len(attachments)
	if pages == 0 {
		pages = 1
	}

	text := fmt.Sprintf(
		"INVOICE\nVendor: %s\nAmount: %.2f\nPO Reference: PO-2024-001\nPayment due within 30 days.",
		vendor, amount,
	)
	return map[string]interface{}{
		"extracted_text":  text,
		"confidence":      0.95,
		"provider":        paramString(params, "provider"),
		"pages_processed": pages,
	}
}

func (b *ExternalBackend) enrichVendor(params map[string]interface{}) map[string]interface{} {
	name := paramString(params, "vendor_name")
	return map[string]interface{}{
		"vendor": map[string]interface{}{
			"name":        name,
			"tax_id":      "TAX-" + core.DeterministicHex("vendor:"+name, 8),
			"industry":    "Manufacturing",
			"risk_rating": "low",
		},
		"provider": paramString(params, "provider"),
		"enriched": true,
	}
}

// fetchPO returns one purchase order per requested number. When no
// numbers are given it synthesizes a single PO tracking the invoice
// amount, which is what lets an unreferenced invoice still match.
func (b *ExternalBackend) fetchPO(params map[string]interface{}) map[string]interface{} {
	vendor := paramString(params, "vendor_name")
	connector := paramString(params, "connector")
	poNumbers := paramStringSlice(params, "po_numbers")
	invoiceAmount, hasAmount := paramFloat(params, "invoice_amount")

	if len(poNumbers) == 0 {
		poNumbers = []string{"PO-2024-001"}
	}
	amount := 10000.0
	if hasAmount {
		amount = invoiceAmount
	}

	orders := make([]map[string]interface{}, 0, len(poNumbers))
	per := amount / float64(len(poNumbers))
	for _, num := range poNumbers {
		orders = append(orders, map[string]interface{}{
			"po_id":        num,
			"vendor":       vendor,
			"amount":       per,
			"currency":     "USD",
			"status":       "open",
			"created_date": core.UTCNow(),
		})
	}
	return map[string]interface{}{
		"purchase_orders": orders,
		"total_count":     len(orders),
		"connector":       connector,
	}
}

func (b *ExternalBackend) fetchGRN(params map[string]interface{}) map[string]interface{} {
	poIDs := paramStringSlice(params, "po_ids")
	receipts := make([]map[string]interface{}, 0, len(poIDs))
	for _, poID := range poIDs {
		receipts = append(receipts, map[string]interface{}{
			"grn_id":        "GRN-" + poID,
			"po_id":         poID,
			"received_date": core.UTCNow(),
			"status":        "received",
		})
	}
	return map[string]interface{}{
		"goods_receipts": receipts,
		"total_count":    len(receipts),
		"connector":      paramString(params, "connector"),
	}
}

func (b *ExternalBackend) fetchHistory(params map[string]interface{}) map[string]interface{} {
	vendor := paramString(params, "vendor_name")
	return map[string]interface{}{
		"vendor_name": vendor,
		"invoices": []map[string]interface{}{
			{"invoice_id": "HIST-001", "amount": 8200.0, "status": "paid"},
			{"invoice_id": "HIST-002", "amount": 4750.5, "status": "paid"},
		},
		"payments": []map[string]interface{}{
			{"payment_id": "PAY-HIST-001", "amount": 8200.0, "on_time": true},
		},
		"total_count": 2,
	}
}

func (b *ExternalBackend) humanReviewAction(params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"processed":     true,
		"checkpoint_id": paramString(params, "checkpoint_id"),
		"decision":      paramString(params, "decision"),
		"reviewer_id":   paramString(params, "reviewer_id"),
		"processed_at":  core.UTCNow(),
	}
}

func (b *ExternalBackend) postToERP(params map[string]interface{}) map[string]interface{} {
	workflowID := paramString(params, "workflow_id")
	return map[string]interface{}{
		"posted":     true,
		"erp_txn_id": core.ERPTxnIDFor(workflowID),
		"erp_system": paramString(params, "connector"),
		"posted_at":  core.UTCNow(),
	}
}

func (b *ExternalBackend) schedulePayment(params map[string]interface{}) map[string]interface{} {
	workflowID := paramString(params, "workflow_id")
	return map[string]interface{}{
		"scheduled":   true,
		"payment_id":  core.PaymentIDFor(workflowID),
		"pay_by_date": paramString(params, "due_date"),
	}
}

func (b *ExternalBackend) notifyVendor(params map[string]interface{}) map[string]interface{} {
	vendor := paramString(params, "vendor_name")
	return map[string]interface{}{
		"sent":       true,
		"recipient":  "ap@" + core.DeterministicHex("email:"+vendor, 6) + ".example.com",
		"provider":   paramString(params, "provider"),
		"message_id": "msg_" + core.DeterministicHex("vendor-msg:"+paramString(params, "workflow_id"), 12),
	}
}

func (b *ExternalBackend) notifyFinanceTeam(params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"sent":       true,
		"recipient":  "finance-team@company.example.com",
		"provider":   paramString(params, "provider"),
		"message_id": "msg_" + core.DeterministicHex("finance-msg:"+paramString(params, "workflow_id"), 12),
	}
}
