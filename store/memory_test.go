package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceflow/invoiceflow/core"
)

func testInvoice(id string, amount float64) *core.Invoice {
	return &core.Invoice{
		InvoiceID:  id,
		VendorName: "Acme Corp",
		Amount:     amount,
		Currency:   "USD",
	}
}

func mustCreate(t *testing.T, s Store, id string, amount float64) *Workflow {
	t.Helper()
	wf, err := s.CreateWorkflow(context.Background(), testInvoice(id, amount), json.RawMessage(`{}`))
	require.NoError(t, err)
	return wf
}

func TestMemoryStoreCreateAndGetWorkflow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	wf := mustCreate(t, s, "INV-001", 1200)
	assert.Regexp(t, `^wf_INV-001_[0-9a-f]{8}$`, wf.WorkflowID)
	assert.Equal(t, core.StatusPending, wf.Status)
	assert.Equal(t, core.StageIntake, wf.CurrentStage)

	got, err := s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, wf.WorkflowID, got.WorkflowID)
	assert.Equal(t, "Acme Corp", got.Invoice.VendorName)

	_, err = s.GetWorkflow(ctx, "wf_missing_00000000")
	assert.ErrorIs(t, err, core.ErrWorkflowNotFound)
}

func TestMemoryStoreCreateRejectsInvalidInvoice(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateWorkflow(context.Background(), &core.Invoice{VendorName: "Acme"}, nil)
	assert.True(t, core.IsValidationError(err))
}

func TestMemoryStoreListWorkflows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := mustCreate(t, s, "INV-A", 100)
	b := mustCreate(t, s, "INV-B", 200)
	c := mustCreate(t, s, "INV-C", 300)
	require.NoError(t, s.SetStatus(ctx, b.WorkflowID, core.StatusFailed, "boom"))

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, c.WorkflowID, all[0].WorkflowID)
	assert.Equal(t, a.WorkflowID, all[2].WorkflowID)

	failed, err := s.ListWorkflows(ctx, WorkflowFilter{Status: core.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.WorkflowID, failed[0].WorkflowID)

	limited, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStoreSaveAndLoadState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-002", 500)

	state := json.RawMessage(`{"current_stage":"PREPARE","flags":{"risk_score":0.2}}`)
	require.NoError(t, s.SaveState(ctx, wf.WorkflowID, state, core.StagePrepare))

	blob, stage, err := s.LoadLatest(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, core.StagePrepare, stage)
	assert.JSONEq(t, string(state), string(blob))
}

func TestMemoryStoreSetStatusTerminalStampsCompletion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-003", 500)

	require.NoError(t, s.SetStatus(ctx, wf.WorkflowID, core.StatusRunning, ""))
	got, err := s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.SetStatus(ctx, wf.WorkflowID, core.StatusCompleted, ""))
	got, err = s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestMemoryStoreMatchOutcomeAndRetry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-004", 500)

	require.NoError(t, s.SetMatchOutcome(ctx, wf.WorkflowID, 0.42, core.MatchFailed))
	got, err := s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, got.MatchScore)
	assert.InDelta(t, 0.42, *got.MatchScore, 1e-9)
	assert.Equal(t, core.MatchFailed, got.MatchResult)

	n, err := s.IncrementRetry(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementRetry(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreCheckpointLifecycle(t *testing.T) {
	s := NewMemoryStore(WithFrontendBaseURL("https://review.example.com"))
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-005", 60000)

	state := json.RawMessage(`{"current_stage":"CHECKPOINT_HITL","match_score":0.62}`)
	cp, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL, state,
		"Two-way match failed. Score: 0.62 (threshold: 0.90)")
	require.NoError(t, err)
	assert.Regexp(t, `^cp_wf_INV-005_[0-9a-f]{8}_[0-9a-f]{8}$`, cp.CheckpointID)
	assert.Equal(t, "https://review.example.com/review/"+cp.CheckpointID, cp.ReviewURL)
	assert.False(t, cp.IsResolved)

	// Second unresolved checkpoint is refused.
	_, err = s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL, state, "again")
	assert.True(t, IsDuplicateCheckpoint(err))

	got, err := s.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, wf.WorkflowID, got.WorkflowID)

	unresolved, err := s.UnresolvedCheckpoint(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, cp.CheckpointID, unresolved.CheckpointID)

	// A review was enqueued with amount-scaled priority.
	reviews, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, cp.CheckpointID, reviews[0].CheckpointID)
	assert.Equal(t, 7, reviews[0].Priority)
	assert.Equal(t, core.ReviewPending, reviews[0].Status)
}

func TestMemoryStoreResolveAccept(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-006", 5000)
	state := json.RawMessage(`{"current_stage":"CHECKPOINT_HITL"}`)
	require.NoError(t, s.SaveState(ctx, wf.WorkflowID, state, core.StageCheckpointHITL))
	cp, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL, state, "match failed")
	require.NoError(t, err)

	res, err := s.ResolveCheckpoint(ctx, cp.CheckpointID, core.DecisionAccept, "reviewer-1", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, core.StageReconcile, res.NextStage)
	assert.Equal(t, core.StatusRunning, res.WorkflowStatus)

	// Decision landed in the persisted state blob.
	blob, stage, err := s.LoadLatest(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, core.StageHITLDecision, stage)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &m))
	assert.Equal(t, "ACCEPT", m["human_decision"])
	assert.Equal(t, "reviewer-1", m["reviewer_id"])
	assert.Equal(t, "HITL_DECISION", m["current_stage"])

	// Review marked reviewed, queue drained.
	review, err := s.GetReview(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, core.ReviewReviewed, review.Status)
	assert.Equal(t, "reviewer-1", review.AssignedTo)
	pending, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Unresolved slot cleared.
	_, err = s.UnresolvedCheckpoint(ctx, wf.WorkflowID)
	assert.True(t, IsCheckpointNotFound(err))

	// Second resolution is rejected with the original outcome intact.
	_, err = s.ResolveCheckpoint(ctx, cp.CheckpointID, core.DecisionReject, "reviewer-2", "")
	assert.True(t, IsAlreadyResolved(err))
	got, err := s.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionAccept, got.Resolution)
	assert.Equal(t, "reviewer-1", got.ResolverID)
}

func TestMemoryStoreResolveReject(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-007", 5000)
	cp, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	res, err := s.ResolveCheckpoint(ctx, cp.CheckpointID, core.DecisionReject, "reviewer-1", "wrong vendor")
	require.NoError(t, err)
	assert.Equal(t, core.StageComplete, res.NextStage)
	assert.Equal(t, core.StatusManualHandoff, res.WorkflowStatus)
}

func TestMemoryStoreResolveErrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ResolveCheckpoint(ctx, "cp_missing", core.DecisionAccept, "r", "")
	assert.True(t, IsCheckpointNotFound(err))

	wf := mustCreate(t, s, "INV-008", 5000)
	cp, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	_, err = s.ResolveCheckpoint(ctx, cp.CheckpointID, core.Decision("MAYBE"), "r", "")
	assert.ErrorIs(t, err, core.ErrInvalidDecision)
}

func TestMemoryStorePendingReviewOrdering(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := NewMemoryStore(WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	small := mustCreate(t, s, "INV-SMALL", 2000) // priority 3
	big := mustCreate(t, s, "INV-BIG", 250000)   // priority 9
	mid1 := mustCreate(t, s, "INV-MID1", 20000)  // priority 5
	mid2 := mustCreate(t, s, "INV-MID2", 20000)  // priority 5, later

	for _, wf := range []*Workflow{small, big, mid1} {
		_, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL,
			json.RawMessage(`{}`), "match failed")
		require.NoError(t, err)
	}
	clock = now.Add(time.Minute)
	_, err := s.SaveCheckpoint(ctx, mid2.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	reviews, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, reviews, 4)
	assert.Equal(t, big.WorkflowID, reviews[0].WorkflowID)
	assert.Equal(t, mid1.WorkflowID, reviews[1].WorkflowID)
	assert.Equal(t, mid2.WorkflowID, reviews[2].WorkflowID)
	assert.Equal(t, small.WorkflowID, reviews[3].WorkflowID)
}

func TestMemoryStoreExpireStale(t *testing.T) {
	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := created
	s := NewMemoryStore(WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	stale := mustCreate(t, s, "INV-STALE", 5000)
	fresh := mustCreate(t, s, "INV-FRESH", 5000)
	_, err := s.SaveCheckpoint(ctx, stale.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	clock = created.Add(73 * time.Hour)
	_, err = s.SaveCheckpoint(ctx, fresh.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	n, err := s.ExpireStale(ctx, 72)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetWorkflow(ctx, stale.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, "Review expired after 72 hours", got.ErrorMessage)

	pending, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.WorkflowID, pending[0].WorkflowID)
}

func TestMemoryStoreAuditTrail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-009", 5000)

	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{
		WorkflowID: wf.WorkflowID,
		EventType:  EventStageStart,
		StageID:    core.StageIntake,
		Message:    "Executing stage",
		ActorType:  ActorSystem,
	}))
	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{
		WorkflowID: wf.WorkflowID,
		EventType:  EventStageComplete,
		StageID:    core.StageIntake,
		Message:    "Stage complete",
		ActorType:  ActorSystem,
	}))

	trail, err := s.AuditTrail(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, EventStageStart, trail[0].EventType)
	assert.Equal(t, EventStageComplete, trail[1].EventType)
	assert.NotEmpty(t, trail[0].ID)
	assert.False(t, trail[0].CreatedAt.IsZero())
}

func TestMemoryStoreDeleteWorkflowCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-010", 5000)
	cp, err := s.SaveCheckpoint(ctx, wf.WorkflowID, core.StageCheckpointHITL,
		json.RawMessage(`{}`), "match failed")
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkflow(ctx, wf.WorkflowID))

	_, err = s.GetWorkflow(ctx, wf.WorkflowID)
	assert.ErrorIs(t, err, core.ErrWorkflowNotFound)
	_, err = s.GetCheckpoint(ctx, cp.CheckpointID)
	assert.True(t, IsCheckpointNotFound(err))
	pending, err := s.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	trail, err := s.AuditTrail(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := mustCreate(t, s, "INV-011", 5000)

	got, err := s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	got.Status = core.StatusFailed
	got.Invoice.VendorName = "Mutated"

	again, err := s.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, again.Status)
	assert.Equal(t, "Acme Corp", again.Invoice.VendorName)
}
