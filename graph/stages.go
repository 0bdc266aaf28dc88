package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/invoiceflow/invoiceflow/abilities"
	"github.com/invoiceflow/invoiceflow/bigtool"
	"github.com/invoiceflow/invoiceflow/core"
	"github.com/invoiceflow/invoiceflow/store"
)

// Deps bundles what stage functions need. The engine threads one Deps
// through every stage of a run.
type Deps struct {
	Router *abilities.Router
	Picker *bigtool.Picker
	Store  store.Store
	Config *core.Config
	Logger core.Logger
}

// abilityErr surfaces an error map returned by an ability call.
func abilityErr(ability string, res map[string]interface{}) error {
	if msg, ok := res["error"].(string); ok && msg != "" {
		return fmt.Errorf("%s: %s", ability, msg)
	}
	return nil
}

func resString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func resBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func resFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func resStringSlice(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func resMapSlice(m map[string]interface{}, key string) []map[string]interface{} {
	switch v := m[key].(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if mm, ok := item.(map[string]interface{}); ok {
				out = append(out, mm)
			}
		}
		return out
	}
	return nil
}

func resMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// stageIntake validates the payload, persists the raw document and
// moves the workflow to RUNNING.
func stageIntake(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	inv := s.RawPayload

	validated := deps.Router.Call(ctx, "validate_schema", map[string]interface{}{
		"invoice_id":  inv.InvoiceID,
		"vendor_name": inv.VendorName,
		"amount":      inv.Amount,
	})
	missing := resStringSlice(validated, "missing_fields")
	if !resBool(validated, "valid") {
		return nil, fmt.Errorf("schema validation failed, missing fields: %s", strings.Join(missing, ", "))
	}

	drift, drifted := inv.LineTotalDrift()
	if drifted {
		deps.Logger.Warn("Line item totals drift from invoice amount", map[string]interface{}{
			"invoice_id": inv.InvoiceID,
			"drift":      drift,
			"amount":     inv.Amount,
		})
	}

	rawID := core.NewRawRef()
	persisted := deps.Router.Call(ctx, "persist_raw_invoice", map[string]interface{}{
		"raw_id":     rawID,
		"invoice_id": inv.InvoiceID,
	})
	if err := abilityErr("persist_raw_invoice", persisted); err != nil {
		return nil, err
	}

	dbTool := deps.Picker.Select(ctx, bigtool.CapabilityDB, map[string]interface{}{
		"workload": "invoice_rows",
	})
	if res := deps.Picker.ExecuteTool(ctx, bigtool.CapabilityDB, dbTool, map[string]interface{}{
		"raw_id":     rawID,
		"invoice_id": inv.InvoiceID,
	}); !res.Success {
		return nil, fmt.Errorf("db tool %s: %s", dbTool, res.Error)
	}

	storageTool := deps.Picker.Select(ctx, bigtool.CapabilityStorage, map[string]interface{}{
		"document_count": len(inv.Attachments),
	})
	stored := deps.Picker.ExecuteTool(ctx, bigtool.CapabilityStorage, storageTool, map[string]interface{}{
		"raw_id": rawID,
	})
	if !stored.Success {
		return nil, fmt.Errorf("storage tool %s: %s", storageTool, stored.Error)
	}

	return &Delta{
		Stage:  core.StageIntake,
		Status: core.StatusRunning,
		Intake: &IntakeResult{
			RawID:            rawID,
			SchemaValid:      true,
			MissingFields:    missing,
			LineTotalDrift:   drift,
			LineTotalWarning: drifted,
			StorageTool:      storageTool,
			StoredRef:        resString(stored.Data, "stored_ref"),
			IngestTS:         core.UTCNow(),
		},
	}, nil
}

// stageUnderstand runs OCR over the document and lifts purchase order
// references out of the text.
func stageUnderstand(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	inv := s.RawPayload

	ocrTool := deps.Picker.Select(ctx, bigtool.CapabilityOCR, map[string]interface{}{
		"document_type": "invoice",
		"quality":       "high",
		"page_count":    len(inv.Attachments),
	})

	extracted := deps.Router.Call(ctx, "ocr_extract", map[string]interface{}{
		"provider":    ocrTool,
		"vendor_name": inv.VendorName,
		"amount":      inv.Amount,
		"attachments": inv.Attachments,
	})
	if err := abilityErr("ocr_extract", extracted); err != nil {
		return nil, err
	}
	text := resString(extracted, "extracted_text")

	parsed := deps.Router.Call(ctx, "parse_line_items", map[string]interface{}{
		"extracted_text": text,
		"line_items":     inv.LineItems,
	})
	if err := abilityErr("parse_line_items", parsed); err != nil {
		return nil, err
	}

	parsedInvoice := map[string]interface{}{
		"invoice_id":   inv.InvoiceID,
		"vendor_name":  inv.VendorName,
		"amount":       inv.Amount,
		"currency":     inv.CurrencyOrDefault(),
		"line_items":   parsed["line_items"],
		"detected_pos": parsed["detected_pos"],
	}
	if inv.DueDate != "" {
		parsedInvoice["due_date"] = inv.DueDate
	}
	parsedInvoice["parsed_dates"] = map[string]interface{}{
		"invoice_date": inv.InvoiceDate,
		"due_date":     inv.DueDate,
	}

	return &Delta{
		Stage: core.StageUnderstand,
		Understand: &UnderstandResult{
			OCRTool:       ocrTool,
			OCRText:       text,
			OCRConfidence: resFloat(extracted, "confidence"),
			Pages:         int(resFloat(extracted, "pages_processed")),
			DetectedPOs:   resStringSlice(parsed, "detected_pos"),
			ParsedInvoice: parsedInvoice,
		},
	}, nil
}

// stagePrepare normalizes the vendor, enriches it and computes the
// validation flags used by the approval policy.
func stagePrepare(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	inv := s.RawPayload

	normalized := deps.Router.Call(ctx, "normalize_vendor", map[string]interface{}{
		"vendor_name": inv.VendorName,
	})
	vendor := resString(normalized, "normalized_name")

	enrichTool := deps.Picker.Select(ctx, bigtool.CapabilityEnrichment, map[string]interface{}{
		"vendor_type": "business",
	})
	enriched := deps.Router.Call(ctx, "enrich_vendor", map[string]interface{}{
		"provider":    enrichTool,
		"vendor_name": vendor,
	})
	if err := abilityErr("enrich_vendor", enriched); err != nil {
		return nil, err
	}

	flagged := deps.Router.Call(ctx, "compute_flags", map[string]interface{}{
		"vendor_tax_id": inv.VendorTaxID,
		"due_date":      inv.DueDate,
		"amount":        inv.Amount,
	})

	return &Delta{
		Stage: core.StagePrepare,
		Prepare: &PrepareResult{
			NormalizedVendor: vendor,
			EnrichmentTool:   enrichTool,
			VendorProfile:    resMap(enriched, "vendor"),
			Flags: Flags{
				MissingFields: resStringSlice(flagged, "missing_info"),
				RiskScore:     resFloat(flagged, "risk_score"),
			},
		},
	}, nil
}

// stageRetrieve pulls purchase orders, goods receipts and payment
// history from the selected ERP connector.
func stageRetrieve(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	inv := s.RawPayload
	var detected []string
	if s.Understand != nil {
		detected = s.Understand.DetectedPOs
	}

	erpTool := deps.Picker.Select(ctx, bigtool.CapabilityERP, map[string]interface{}{
		"operation": "read",
	})

	poRes := deps.Router.Call(ctx, "fetch_po", map[string]interface{}{
		"connector":      erpTool,
		"vendor_name":    inv.VendorName,
		"po_numbers":     detected,
		"invoice_amount": inv.Amount,
	})
	if err := abilityErr("fetch_po", poRes); err != nil {
		return nil, err
	}

	var (
		pos     []PORecord
		poTotal float64
		poIDs   []string
	)
	for _, raw := range resMapSlice(poRes, "purchase_orders") {
		rec := PORecord{
			PONumber: resString(raw, "po_id"),
			Amount:   resFloat(raw, "amount"),
			Currency: resString(raw, "currency"),
			Status:   resString(raw, "status"),
		}
		pos = append(pos, rec)
		poTotal += rec.Amount
		poIDs = append(poIDs, rec.PONumber)
	}

	grnRes := deps.Router.Call(ctx, "fetch_grn", map[string]interface{}{
		"connector": erpTool,
		"po_ids":    poIDs,
	})
	if err := abilityErr("fetch_grn", grnRes); err != nil {
		return nil, err
	}

	histRes := deps.Router.Call(ctx, "fetch_history", map[string]interface{}{
		"connector":   erpTool,
		"vendor_name": inv.VendorName,
	})
	if err := abilityErr("fetch_history", histRes); err != nil {
		return nil, err
	}
	delete(histRes, "connector")

	return &Delta{
		Stage: core.StageRetrieve,
		Retrieve: &RetrieveResult{
			ERPTool:       erpTool,
			POs:           pos,
			POTotal:       poTotal,
			GoodsReceipts: resMapSlice(grnRes, "goods_receipts"),
			History:       histRes,
		},
	}, nil
}

// stageMatchTwoWay scores the invoice against the fetched purchase
// orders. Routing after this stage follows the verdict.
func stageMatchTwoWay(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	if s.Retrieve == nil {
		return nil, fmt.Errorf("match requires retrieved purchase orders")
	}
	poAmounts := make([]float64, 0, len(s.Retrieve.POs))
	for _, po := range s.Retrieve.POs {
		poAmounts = append(poAmounts, po.Amount)
	}

	res := deps.Router.Call(ctx, "compute_match_score", map[string]interface{}{
		"invoice_amount": s.RawPayload.Amount,
		"po_amounts":     poAmounts,
		"threshold":      deps.Config.MatchThreshold,
		"tolerance_pct":  deps.Config.TwoWayTolerancePct,
	})

	return &Delta{
		Stage: core.StageMatchTwoWay,
		Match: &MatchEvidence{
			Score:         resFloat(res, "match_score"),
			Result:        core.MatchResult(resString(res, "match_result")),
			POTotal:       resFloat(res, "po_total"),
			POCount:       int(resFloat(res, "pos_count")),
			DifferencePct: resFloat(res, "difference_pct"),
			Threshold:     resFloat(res, "threshold_used"),
		},
	}, nil
}

// stageCheckpointHITL snapshots the workflow and parks it for a human.
// The engine pauses the run after this stage.
func stageCheckpointHITL(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	if s.Match == nil {
		return nil, fmt.Errorf("checkpoint requires a match verdict")
	}
	reason := fmt.Sprintf("Two-way match failed. Score: %.2f (threshold: %.2f)",
		s.Match.Score, s.Match.Threshold)

	ack := deps.Router.Call(ctx, "save_checkpoint", map[string]interface{}{
		"workflow_id": s.WorkflowID,
		"stage":       string(core.StageCheckpointHITL),
	})
	if err := abilityErr("save_checkpoint", ack); err != nil {
		return nil, err
	}

	blob, err := s.Marshal()
	if err != nil {
		return nil, fmt.Errorf("snapshotting state: %w", err)
	}
	cp, err := deps.Store.SaveCheckpoint(ctx, s.WorkflowID, core.StageCheckpointHITL, blob, reason)
	if err != nil {
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}

	return &Delta{
		Stage:  core.StageCheckpointHITL,
		Status: core.StatusPaused,
		Checkpoint: &CheckpointResult{
			CheckpointID: cp.CheckpointID,
			ReviewURL:    cp.ReviewURL,
			PausedReason: reason,
		},
	}, nil
}

// stageHITLDecision applies the reviewer's verdict. It only runs after
// a resume lifted the pause gate, so a decision must be present.
func stageHITLDecision(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	if s.HumanDecision != core.DecisionAccept && s.HumanDecision != core.DecisionReject {
		return nil, fmt.Errorf("no reviewer decision recorded: %w", core.ErrInvalidDecision)
	}
	var checkpointID string
	if s.Checkpoint != nil {
		checkpointID = s.Checkpoint.CheckpointID
	}

	res := deps.Router.Call(ctx, "human_review_action", map[string]interface{}{
		"checkpoint_id": checkpointID,
		"decision":      string(s.HumanDecision),
		"reviewer_id":   s.ReviewerID,
	})
	if err := abilityErr("human_review_action", res); err != nil {
		return nil, err
	}

	status := core.StatusRunning
	if s.HumanDecision == core.DecisionReject {
		status = core.StatusManualHandoff
	}
	return &Delta{
		Stage:  core.StageHITLDecision,
		Status: status,
		Decision: &DecisionResult{
			Decision:    s.HumanDecision,
			ReviewerID:  s.ReviewerID,
			Notes:       s.ReviewerNotes,
			ProcessedAt: resString(res, "processed_at"),
		},
	}, nil
}

// stageReconcile builds the balanced journal entry pair.
func stageReconcile(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	inv := s.RawPayload
	res := deps.Router.Call(ctx, "build_accounting_entries", map[string]interface{}{
		"invoice_id": inv.InvoiceID,
		"amount":     inv.Amount,
		"currency":   inv.CurrencyOrDefault(),
	})
	if err := abilityErr("build_accounting_entries", res); err != nil {
		return nil, err
	}

	var entries []AccountingEntry
	for _, raw := range resMapSlice(res, "entries") {
		account := resString(raw, "account")
		code, name := account, account
		if idx := strings.Index(account, "-"); idx > 0 {
			code, name = account[:idx], account[idx+1:]
		}
		entry := AccountingEntry{
			EntryID:     resString(raw, "entry_id"),
			Account:     code,
			AccountName: name,
		}
		switch resString(raw, "type") {
		case "debit":
			entry.Debit = resFloat(raw, "amount")
		case "credit":
			entry.Credit = resFloat(raw, "amount")
		}
		entries = append(entries, entry)
	}

	return &Delta{
		Stage: core.StageReconcile,
		Reconcile: &ReconcileResult{
			Entries:  entries,
			Balanced: resBool(res, "balanced"),
			Currency: inv.CurrencyOrDefault(),
		},
	}, nil
}

// stageApprove applies the auto-approval policy.
func stageApprove(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	var risk float64
	if s.Prepare != nil {
		risk = s.Prepare.Flags.RiskScore
	}
	res := deps.Router.Call(ctx, "apply_approval_policy", map[string]interface{}{
		"amount":                 s.RawPayload.Amount,
		"risk_score":             risk,
		"auto_approve_threshold": deps.Config.AutoApproveThreshold,
	})

	approve := &ApproveResult{
		Status:   core.ApprovalStatus(resString(res, "approval_status")),
		Approver: resString(res, "approver_id"),
	}
	if approve.Status == core.ApprovalEscalated {
		approve.Reason = fmt.Sprintf("amount %.2f above threshold %.2f or risk %.2f elevated",
			s.RawPayload.Amount, deps.Config.AutoApproveThreshold, risk)
	}
	return &Delta{Stage: core.StageApprove, Approve: approve}, nil
}

// stagePosting posts to the ERP and schedules payment. An ERP error is
// fatal for the run.
func stagePosting(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	var erpTool string
	if s.Retrieve != nil {
		erpTool = s.Retrieve.ERPTool
	}

	posted := deps.Router.Call(ctx, "post_to_erp", map[string]interface{}{
		"connector":   erpTool,
		"workflow_id": s.WorkflowID,
		"invoice_id":  s.InvoiceID,
		"amount":      s.RawPayload.Amount,
	})
	if err := abilityErr("post_to_erp", posted); err != nil {
		return nil, err
	}
	txnID := resString(posted, "erp_txn_id")
	if txnID == "" {
		txnID = core.ERPTxnIDFor(s.WorkflowID)
	}

	scheduled := deps.Router.Call(ctx, "schedule_payment", map[string]interface{}{
		"workflow_id": s.WorkflowID,
		"invoice_id":  s.InvoiceID,
		"amount":      s.RawPayload.Amount,
		"due_date":    s.RawPayload.DueDate,
	})
	if err := abilityErr("schedule_payment", scheduled); err != nil {
		return nil, err
	}
	paymentID := resString(scheduled, "payment_id")
	if paymentID == "" {
		paymentID = core.PaymentIDFor(s.WorkflowID)
	}

	return &Delta{
		Stage: core.StagePosting,
		Posting: &PostingResult{
			ERPTxnID:    txnID,
			PaymentID:   paymentID,
			PostedAt:    core.UTCNow(),
			PaymentDate: resString(scheduled, "pay_by_date"),
		},
	}, nil
}

// stageNotify tells the vendor and the finance team about the outcome.
func stageNotify(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	emailTool := deps.Picker.Select(ctx, bigtool.CapabilityEmail, map[string]interface{}{
		"email_type": "transactional",
	})

	messageIDs := map[string]string{}
	vendorRes := deps.Router.Call(ctx, "notify_vendor", map[string]interface{}{
		"provider":    emailTool,
		"workflow_id": s.WorkflowID,
		"vendor_name": s.RawPayload.VendorName,
	})
	if err := abilityErr("notify_vendor", vendorRes); err != nil {
		return nil, err
	}
	messageIDs["vendor"] = resString(vendorRes, "message_id")

	financeRes := deps.Router.Call(ctx, "notify_finance_team", map[string]interface{}{
		"provider":    emailTool,
		"workflow_id": s.WorkflowID,
		"invoice_id":  s.InvoiceID,
	})
	if err := abilityErr("notify_finance_team", financeRes); err != nil {
		return nil, err
	}
	messageIDs["finance_team"] = resString(financeRes, "message_id")

	return &Delta{
		Stage: core.StageNotify,
		Notify: &NotifyResult{
			EmailTool:       emailTool,
			NotifiedParties: []string{"vendor", "finance_team"},
			MessageIDs:      messageIDs,
		},
	}, nil
}

// stageComplete assembles the terminal payload. A manual handoff keeps
// its status; every other arrival completes the workflow.
func stageComplete(ctx context.Context, deps *Deps, s *State) (*Delta, error) {
	status := core.StatusCompleted
	if s.Status == core.StatusManualHandoff {
		status = core.StatusManualHandoff
	}

	summary := map[string]interface{}{
		"workflow_id": s.WorkflowID,
		"invoice_id":  s.InvoiceID,
		"status":      string(status),
	}
	if s.Match != nil {
		summary["match_score"] = s.Match.Score
		summary["match_result"] = string(s.Match.Result)
	}
	if s.Approve != nil {
		summary["approval_status"] = string(s.Approve.Status)
	}
	if s.Posting != nil {
		summary["erp_txn_id"] = s.Posting.ERPTxnID
		summary["payment_id"] = s.Posting.PaymentID
	}
	if s.Decision != nil {
		summary["human_decision"] = string(s.Decision.Decision)
	}

	res := deps.Router.Call(ctx, "output_final_payload", map[string]interface{}{
		"summary": summary,
	})
	if err := abilityErr("output_final_payload", res); err != nil {
		return nil, err
	}

	auditLog := append([]string{}, s.StagePath...)
	auditLog = append(auditLog, string(core.StageComplete))

	return &Delta{
		Stage:  core.StageComplete,
		Status: status,
		Complete: &CompleteResult{
			FinalPayload: resMap(res, "final_payload"),
			AuditLog:     auditLog,
		},
	}, nil
}
