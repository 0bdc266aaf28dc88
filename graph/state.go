// Package graph runs the invoice processing pipeline: a fixed DAG of
// stages over a shared state document, with conditional routing after
// the match and decision stages and a human-in-the-loop pause between
// them.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/invoiceflow/invoiceflow/core"
)

// IntakeResult holds what the intake stage produced.
type IntakeResult struct {
	RawID         string   `json:"raw_id"`
	SchemaValid   bool     `json:"schema_valid"`
	MissingFields []string `json:"missing_fields,omitempty"`
	// Line totals not summing to the invoice amount is a warning, not
	// a rejection.
	LineTotalDrift   float64 `json:"line_total_drift,omitempty"`
	LineTotalWarning bool    `json:"line_total_warning,omitempty"`
	StorageTool      string  `json:"storage_tool"`
	StoredRef        string  `json:"stored_ref,omitempty"`
	IngestTS         string  `json:"ingest_ts"`
}

// UnderstandResult holds OCR output and parsed structure.
type UnderstandResult struct {
	OCRTool       string                 `json:"ocr_tool"`
	OCRText       string                 `json:"ocr_text"`
	OCRConfidence float64                `json:"ocr_confidence"`
	Pages         int                    `json:"pages"`
	DetectedPOs   []string               `json:"detected_pos"`
	ParsedInvoice map[string]interface{} `json:"parsed_invoice"`
}

// Flags carries validation findings from data preparation.
type Flags struct {
	MissingFields []string `json:"missing_fields"`
	RiskScore     float64  `json:"risk_score"`
}

// PrepareResult holds normalization and enrichment output.
type PrepareResult struct {
	NormalizedVendor string                 `json:"normalized_vendor"`
	EnrichmentTool   string                 `json:"enrichment_tool"`
	VendorProfile    map[string]interface{} `json:"vendor_profile"`
	Flags            Flags                  `json:"flags"`
}

// PORecord is one purchase order fetched from the ERP.
type PORecord struct {
	PONumber string  `json:"po_number"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

// RetrieveResult holds ERP reference data for matching.
type RetrieveResult struct {
	ERPTool       string                   `json:"erp_tool"`
	POs           []PORecord               `json:"purchase_orders"`
	POTotal       float64                  `json:"po_total"`
	GoodsReceipts []map[string]interface{} `json:"goods_receipts,omitempty"`
	History       map[string]interface{}   `json:"vendor_history,omitempty"`
}

// MatchEvidence is the two-way match verdict and its inputs.
type MatchEvidence struct {
	Score         float64          `json:"score"`
	Result        core.MatchResult `json:"result"`
	POTotal       float64          `json:"po_total"`
	POCount       int              `json:"pos_count"`
	DifferencePct float64          `json:"difference_pct"`
	Threshold     float64          `json:"threshold_used"`
}

// CheckpointResult records the suspension point handed to reviewers.
type CheckpointResult struct {
	CheckpointID string `json:"checkpoint_id"`
	ReviewURL    string `json:"review_url"`
	PausedReason string `json:"paused_reason"`
}

// DecisionResult records the applied reviewer verdict.
type DecisionResult struct {
	Decision    core.Decision `json:"decision"`
	ReviewerID  string        `json:"reviewer_id"`
	Notes       string        `json:"notes,omitempty"`
	ProcessedAt string        `json:"processed_at"`
}

// AccountingEntry is one side of a balanced journal entry pair.
type AccountingEntry struct {
	EntryID     string  `json:"entry_id"`
	Account     string  `json:"account"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

// ReconcileResult holds the generated journal entries.
type ReconcileResult struct {
	Entries  []AccountingEntry `json:"entries"`
	Balanced bool              `json:"balanced"`
	Currency string            `json:"currency"`
}

// ApproveResult is the approval policy outcome.
type ApproveResult struct {
	Status   core.ApprovalStatus `json:"status"`
	Approver string              `json:"approver"`
	Reason   string              `json:"reason,omitempty"`
}

// PostingResult holds ERP posting and payment scheduling output.
type PostingResult struct {
	ERPTxnID    string `json:"erp_txn_id"`
	PaymentID   string `json:"payment_id"`
	PostedAt    string `json:"posted_at"`
	PaymentDate string `json:"payment_date,omitempty"`
}

// NotifyResult records who was told about the outcome.
type NotifyResult struct {
	EmailTool       string            `json:"email_tool"`
	NotifiedParties []string          `json:"notified_parties"`
	MessageIDs      map[string]string `json:"message_ids,omitempty"`
}

// CompleteResult is the terminal payload plus the audit summary.
type CompleteResult struct {
	FinalPayload map[string]interface{} `json:"final_payload"`
	AuditLog     []string               `json:"audit_log"`
}

// State is the document every stage reads and amends. It serializes to
// the store's state blob, so the reviewer-injected fields live at the
// top level.
type State struct {
	WorkflowID   string              `json:"workflow_id"`
	InvoiceID    string              `json:"invoice_id"`
	CurrentStage core.Stage          `json:"current_stage"`
	Status       core.WorkflowStatus `json:"status"`
	RawPayload   *core.Invoice       `json:"raw_payload"`

	// Set by checkpoint resolution, read by the decision stage.
	HumanDecision core.Decision `json:"human_decision,omitempty"`
	ReviewerID    string        `json:"reviewer_id,omitempty"`
	ReviewerNotes string        `json:"reviewer_notes,omitempty"`

	Intake     *IntakeResult     `json:"intake,omitempty"`
	Understand *UnderstandResult `json:"understand,omitempty"`
	Prepare    *PrepareResult    `json:"prepare,omitempty"`
	Retrieve   *RetrieveResult   `json:"retrieve,omitempty"`
	Match      *MatchEvidence    `json:"match,omitempty"`
	Checkpoint *CheckpointResult `json:"checkpoint,omitempty"`
	Decision   *DecisionResult   `json:"decision,omitempty"`
	Reconcile  *ReconcileResult  `json:"reconcile,omitempty"`
	Approve    *ApproveResult    `json:"approve,omitempty"`
	Posting    *PostingResult    `json:"posting,omitempty"`
	Notify     *NotifyResult     `json:"notify,omitempty"`
	Complete   *CompleteResult   `json:"complete,omitempty"`

	StagePath []string `json:"stage_path,omitempty"`
}

// NewState seeds the document for a fresh workflow.
func NewState(workflowID string, inv *core.Invoice) *State {
	return &State{
		WorkflowID:   workflowID,
		InvoiceID:    inv.InvoiceID,
		CurrentStage: core.StageIntake,
		Status:       core.StatusPending,
		RawPayload:   inv,
	}
}

// Marshal serializes the state for persistence.
func (s *State) Marshal() (json.RawMessage, error) {
	return json.Marshal(s)
}

// UnmarshalState restores a state document from a store blob.
func UnmarshalState(blob json.RawMessage) (*State, error) {
	var s State
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("decoding workflow state: %w", err)
	}
	return &s, nil
}

// Delta is a stage's proposed amendment. Each result group belongs to
// exactly one stage; Apply rejects a delta that writes outside its
// owner's section.
type Delta struct {
	Stage  core.Stage
	Status core.WorkflowStatus

	Intake     *IntakeResult
	Understand *UnderstandResult
	Prepare    *PrepareResult
	Retrieve   *RetrieveResult
	Match      *MatchEvidence
	Checkpoint *CheckpointResult
	Decision   *DecisionResult
	Reconcile  *ReconcileResult
	Approve    *ApproveResult
	Posting    *PostingResult
	Notify     *NotifyResult
	Complete   *CompleteResult
}

// OwnershipError reports a stage writing a section it does not own.
type OwnershipError struct {
	Stage   core.Stage
	Section string
	Owner   core.Stage
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("stage %s wrote section %q owned by %s", e.Stage, e.Section, e.Owner)
}

// Apply validates section ownership and folds the delta into the state.
func (s *State) Apply(d *Delta) error {
	type section struct {
		name   string
		owner  core.Stage
		isSet  bool
		commit func()
	}
	sections := []section{
		{"intake", core.StageIntake, d.Intake != nil, func() { s.Intake = d.Intake }},
		{"understand", core.StageUnderstand, d.Understand != nil, func() { s.Understand = d.Understand }},
		{"prepare", core.StagePrepare, d.Prepare != nil, func() { s.Prepare = d.Prepare }},
		{"retrieve", core.StageRetrieve, d.Retrieve != nil, func() { s.Retrieve = d.Retrieve }},
		{"match", core.StageMatchTwoWay, d.Match != nil, func() { s.Match = d.Match }},
		{"checkpoint", core.StageCheckpointHITL, d.Checkpoint != nil, func() { s.Checkpoint = d.Checkpoint }},
		{"decision", core.StageHITLDecision, d.Decision != nil, func() { s.Decision = d.Decision }},
		{"reconcile", core.StageReconcile, d.Reconcile != nil, func() { s.Reconcile = d.Reconcile }},
		{"approve", core.StageApprove, d.Approve != nil, func() { s.Approve = d.Approve }},
		{"posting", core.StagePosting, d.Posting != nil, func() { s.Posting = d.Posting }},
		{"notify", core.StageNotify, d.Notify != nil, func() { s.Notify = d.Notify }},
		{"complete", core.StageComplete, d.Complete != nil, func() { s.Complete = d.Complete }},
	}
	for _, sec := range sections {
		if sec.isSet && sec.owner != d.Stage {
			return &OwnershipError{Stage: d.Stage, Section: sec.name, Owner: sec.owner}
		}
	}
	for _, sec := range sections {
		if sec.isSet {
			sec.commit()
		}
	}
	if d.Status != "" {
		s.Status = d.Status
	}
	s.StagePath = append(s.StagePath, string(d.Stage))
	return nil
}
