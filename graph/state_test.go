package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceflow/invoiceflow/core"
)

func sampleInvoice() *core.Invoice {
	return &core.Invoice{
		InvoiceID:  "INV-100",
		VendorName: "Acme Corp",
		Amount:     5000,
		Currency:   "USD",
	}
}

func TestApplyFoldsOwnedSection(t *testing.T) {
	s := NewState("wf_INV-100_deadbeef", sampleInvoice())

	err := s.Apply(&Delta{
		Stage:  core.StageIntake,
		Status: core.StatusRunning,
		Intake: &IntakeResult{RawID: "raw_0011223344556677", SchemaValid: true},
	})
	require.NoError(t, err)
	require.NotNil(t, s.Intake)
	assert.Equal(t, "raw_0011223344556677", s.Intake.RawID)
	assert.Equal(t, core.StatusRunning, s.Status)
	assert.Equal(t, []string{"INTAKE"}, s.StagePath)
}

func TestApplyRejectsForeignSection(t *testing.T) {
	s := NewState("wf_INV-100_deadbeef", sampleInvoice())

	err := s.Apply(&Delta{
		Stage: core.StageIntake,
		Match: &MatchEvidence{Score: 1.0},
	})
	var oe *OwnershipError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, core.StageIntake, oe.Stage)
	assert.Equal(t, "match", oe.Section)
	assert.Equal(t, core.StageMatchTwoWay, oe.Owner)

	// Nothing folded in, path untouched.
	assert.Nil(t, s.Match)
	assert.Empty(t, s.StagePath)
}

func TestApplyEmptyStatusKeepsCurrent(t *testing.T) {
	s := NewState("wf_INV-100_deadbeef", sampleInvoice())
	s.Status = core.StatusRunning

	require.NoError(t, s.Apply(&Delta{
		Stage:      core.StageUnderstand,
		Understand: &UnderstandResult{OCRTool: "google_vision"},
	}))
	assert.Equal(t, core.StatusRunning, s.Status)
}

func TestStateRoundTripKeepsReviewerFields(t *testing.T) {
	s := NewState("wf_INV-100_deadbeef", sampleInvoice())
	s.HumanDecision = core.DecisionAccept
	s.ReviewerID = "reviewer-1"
	s.ReviewerNotes = "checked against PO"

	blob, err := s.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalState(blob)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionAccept, restored.HumanDecision)
	assert.Equal(t, "reviewer-1", restored.ReviewerID)
	assert.Equal(t, "checked against PO", restored.ReviewerNotes)
}

// The checkpoint resolver edits the state blob as a raw JSON map, so the
// reviewer fields must live at the document's top level under these
// exact keys.
func TestStateTopLevelDecisionKeys(t *testing.T) {
	s := NewState("wf_INV-100_deadbeef", sampleInvoice())
	blob, err := s.Marshal()
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &m))
	m["human_decision"] = "REJECT"
	m["reviewer_id"] = "reviewer-2"
	m["reviewer_notes"] = "wrong vendor"
	m["current_stage"] = "HITL_DECISION"
	edited, err := json.Marshal(m)
	require.NoError(t, err)

	restored, err := UnmarshalState(edited)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionReject, restored.HumanDecision)
	assert.Equal(t, "reviewer-2", restored.ReviewerID)
	assert.Equal(t, core.StageHITLDecision, restored.CurrentStage)
}

func TestUnmarshalStateRejectsGarbage(t *testing.T) {
	_, err := UnmarshalState(json.RawMessage(`{nope`))
	assert.Error(t, err)
}
