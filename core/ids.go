package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// hexID returns n lowercase hex characters of fresh random identity.
func hexID(n int) string {
	u := uuid.New()
	s := hex.EncodeToString(u[:])
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// NewWorkflowID mints a workflow id of the form wf_<invoice_id>_<8-hex>.
func NewWorkflowID(invoiceID string) string {
	return fmt.Sprintf("wf_%s_%s", invoiceID, hexID(8))
}

// NewCheckpointID mints a checkpoint id of the form cp_<workflow_id>_<8-hex>.
func NewCheckpointID(workflowID string) string {
	return fmt.Sprintf("cp_%s_%s", workflowID, hexID(8))
}

// NewRawRef mints a raw payload reference of the form raw_<16-hex>.
func NewRawRef() string {
	return "raw_" + hexID(16)
}

// DeterministicHex derives n lowercase hex characters from seed.
// Identical seeds always yield identical output, which keeps ids stable
// when a stage is re-executed after a restart.
func DeterministicHex(seed string, n int) string {
	sum := sha256.Sum256([]byte(seed))
	s := hex.EncodeToString(sum[:])
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// ERPTxnIDFor derives the ERP transaction id for a workflow.
func ERPTxnIDFor(workflowID string) string {
	return "ERP-TXN_" + DeterministicHex("erp:"+workflowID, 8)
}

// PaymentIDFor derives the scheduled payment id for a workflow.
func PaymentIDFor(workflowID string) string {
	return "PAY_" + DeterministicHex("pay:"+workflowID, 8)
}

// JournalEntryID builds ledger entry ids of the form JE-<invoice_id>-001.
func JournalEntryID(invoiceID string, seq int) string {
	return fmt.Sprintf("JE-%s-%03d", invoiceID, seq)
}

// UTCNow returns the current time as UTC ISO-8601 with microseconds.
func UTCNow() string {
	return FormatTS(time.Now())
}

// FormatTS renders t as UTC ISO-8601 with microseconds.
func FormatTS(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
