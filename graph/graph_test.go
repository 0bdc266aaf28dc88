package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceflow/invoiceflow/core"
)

func TestGraphTopology(t *testing.T) {
	g := buildGraph()
	assert.Equal(t, core.Stages, g.Stages())

	static := map[core.Stage]core.Stage{
		core.StageIntake:         core.StageUnderstand,
		core.StageUnderstand:     core.StagePrepare,
		core.StagePrepare:        core.StageRetrieve,
		core.StageRetrieve:       core.StageMatchTwoWay,
		core.StageCheckpointHITL: core.StageHITLDecision,
		core.StageReconcile:      core.StageApprove,
		core.StageApprove:        core.StagePosting,
		core.StagePosting:        core.StageNotify,
		core.StageNotify:         core.StageComplete,
		core.StageComplete:       core.StageEnd,
	}
	s := NewState("wf", sampleInvoice())
	for from, want := range static {
		next, label, err := g.nextAfter(from, s)
		require.NoError(t, err)
		assert.Equal(t, want, next, "edge out of %s", from)
		assert.Empty(t, label)
	}

	_, _, err := g.nextAfter(core.Stage("BOGUS"), s)
	assert.Error(t, err)
}

func TestRouteAfterMatch(t *testing.T) {
	g := buildGraph()
	s := NewState("wf", sampleInvoice())

	s.Match = &MatchEvidence{Result: core.MatchMatched}
	next, label, err := g.nextAfter(core.StageMatchTwoWay, s)
	require.NoError(t, err)
	assert.Equal(t, core.StageReconcile, next)
	assert.Equal(t, RouteMatched, label)

	s.Match = &MatchEvidence{Result: core.MatchFailed}
	next, label, err = g.nextAfter(core.StageMatchTwoWay, s)
	require.NoError(t, err)
	assert.Equal(t, core.StageCheckpointHITL, next)
	assert.Equal(t, RouteFailed, label)

	// No verdict behaves like a failure.
	s.Match = nil
	next, _, err = g.nextAfter(core.StageMatchTwoWay, s)
	require.NoError(t, err)
	assert.Equal(t, core.StageCheckpointHITL, next)
}

func TestRouteAfterDecision(t *testing.T) {
	g := buildGraph()
	s := NewState("wf", sampleInvoice())

	s.Decision = &DecisionResult{Decision: core.DecisionAccept}
	next, label, err := g.nextAfter(core.StageHITLDecision, s)
	require.NoError(t, err)
	assert.Equal(t, core.StageReconcile, next)
	assert.Equal(t, RouteAccept, label)

	s.Decision = &DecisionResult{Decision: core.DecisionReject}
	next, label, err = g.nextAfter(core.StageHITLDecision, s)
	require.NoError(t, err)
	assert.Equal(t, core.StageComplete, next)
	assert.Equal(t, RouteReject, label)
}

func TestMermaidRendering(t *testing.T) {
	g := buildGraph()
	out := g.Mermaid()

	assert.Contains(t, out, "flowchart TD")
	assert.Contains(t, out, "START([start]) --> INTAKE")
	assert.Contains(t, out, "MATCH_TWO_WAY -- matched --> RECONCILE")
	assert.Contains(t, out, "MATCH_TWO_WAY -- failed --> CHECKPOINT_HITL")
	assert.Contains(t, out, "HITL_DECISION -- accept --> RECONCILE")
	assert.Contains(t, out, "HITL_DECISION -- reject --> COMPLETE")
	assert.Contains(t, out, "COMPLETE --> END([end])")
	assert.Contains(t, out, "CHECKPOINT_HITL:::paused")

	// Deterministic output.
	assert.Equal(t, out, g.Mermaid())
}
