package core

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFormats(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^wf_INV-1_[0-9a-f]{8}$`), NewWorkflowID("INV-1"))
	assert.Regexp(t, regexp.MustCompile(`^cp_wf_INV-1_ab12cd34_[0-9a-f]{8}$`), NewCheckpointID("wf_INV-1_ab12cd34"))
	assert.Regexp(t, regexp.MustCompile(`^raw_[0-9a-f]{16}$`), NewRawRef())
	assert.Regexp(t, regexp.MustCompile(`^ERP-TXN_[0-9a-f]{8}$`), ERPTxnIDFor("wf_INV-1_ab12cd34"))
	assert.Regexp(t, regexp.MustCompile(`^PAY_[0-9a-f]{8}$`), PaymentIDFor("wf_INV-1_ab12cd34"))
	assert.Equal(t, "JE-INV-1-001", JournalEntryID("INV-1", 1))
	assert.Equal(t, "JE-INV-1-002", JournalEntryID("INV-1", 2))
}

func TestDeterministicIDsStableAcrossReplay(t *testing.T) {
	wf := "wf_INV-9_deadbeef"
	assert.Equal(t, ERPTxnIDFor(wf), ERPTxnIDFor(wf))
	assert.Equal(t, PaymentIDFor(wf), PaymentIDFor(wf))
	assert.NotEqual(t, ERPTxnIDFor(wf), ERPTxnIDFor("wf_INV-8_deadbeef"))
}

func TestWorkflowIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewWorkflowID("INV-1")
		assert.False(t, seen[id], "duplicate workflow id %s", id)
		seen[id] = true
	}
}

func TestTimestampFormat(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`), UTCNow())
}
