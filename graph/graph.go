package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/invoiceflow/invoiceflow/core"
)

// StageFunc executes one stage against the shared state and returns the
// amendment to fold in. A non-nil error fails the workflow.
type StageFunc func(ctx context.Context, deps *Deps, s *State) (*Delta, error)

// node is one vertex of the pipeline DAG. Exactly one of next or route
// is set; route nodes also carry their possible targets for rendering.
type node struct {
	stage  core.Stage
	run    StageFunc
	next   core.Stage
	route  func(*State) (RouteLabel, core.Stage)
	edges  map[RouteLabel]core.Stage
	pauses bool // workflow suspends after this stage
}

// Graph is the compiled pipeline.
type Graph struct {
	nodes map[core.Stage]*node
	order []core.Stage
	entry core.Stage
}

func buildGraph() *Graph {
	g := &Graph{nodes: map[core.Stage]*node{}, entry: core.StageIntake}
	add := func(n *node) {
		g.nodes[n.stage] = n
		g.order = append(g.order, n.stage)
	}

	add(&node{stage: core.StageIntake, run: stageIntake, next: core.StageUnderstand})
	add(&node{stage: core.StageUnderstand, run: stageUnderstand, next: core.StagePrepare})
	add(&node{stage: core.StagePrepare, run: stagePrepare, next: core.StageRetrieve})
	add(&node{stage: core.StageRetrieve, run: stageRetrieve, next: core.StageMatchTwoWay})
	add(&node{
		stage: core.StageMatchTwoWay,
		run:   stageMatchTwoWay,
		route: routeAfterMatch,
		edges: map[RouteLabel]core.Stage{
			RouteMatched: core.StageReconcile,
			RouteFailed:  core.StageCheckpointHITL,
		},
	})
	add(&node{
		stage:  core.StageCheckpointHITL,
		run:    stageCheckpointHITL,
		next:   core.StageHITLDecision,
		pauses: true,
	})
	add(&node{
		stage: core.StageHITLDecision,
		run:   stageHITLDecision,
		route: routeAfterDecision,
		edges: map[RouteLabel]core.Stage{
			RouteAccept: core.StageReconcile,
			RouteReject: core.StageComplete,
		},
	})
	add(&node{stage: core.StageReconcile, run: stageReconcile, next: core.StageApprove})
	add(&node{stage: core.StageApprove, run: stageApprove, next: core.StagePosting})
	add(&node{stage: core.StagePosting, run: stagePosting, next: core.StageNotify})
	add(&node{stage: core.StageNotify, run: stageNotify, next: core.StageComplete})
	add(&node{stage: core.StageComplete, run: stageComplete, next: core.StageEnd})
	return g
}

// nextAfter resolves the outgoing edge from a stage given the state.
func (g *Graph) nextAfter(stage core.Stage, s *State) (core.Stage, RouteLabel, error) {
	n, ok := g.nodes[stage]
	if !ok {
		return "", "", fmt.Errorf("unknown stage %s", stage)
	}
	if n.route != nil {
		label, target := n.route(s)
		return target, label, nil
	}
	return n.next, "", nil
}

// Stages returns the pipeline's stages in definition order.
func (g *Graph) Stages() []core.Stage {
	out := make([]core.Stage, len(g.order))
	copy(out, g.order)
	return out
}

// Mermaid renders the DAG as a mermaid flowchart for docs and the
// review UI.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString(fmt.Sprintf("    START([start]) --> %s\n", g.entry))
	for _, stage := range g.order {
		n := g.nodes[stage]
		switch {
		case n.route != nil:
			// Stable label order for deterministic output.
			for _, label := range []RouteLabel{RouteMatched, RouteFailed, RouteAccept, RouteReject} {
				if target, ok := n.edges[label]; ok {
					b.WriteString(fmt.Sprintf("    %s -- %s --> %s\n", stage, label, target))
				}
			}
		case n.next == core.StageEnd:
			b.WriteString(fmt.Sprintf("    %s --> END([end])\n", stage))
		default:
			b.WriteString(fmt.Sprintf("    %s --> %s\n", stage, n.next))
		}
		if n.pauses {
			b.WriteString(fmt.Sprintf("    %s:::paused\n", stage))
		}
	}
	b.WriteString("    classDef paused stroke-dasharray: 5 5\n")
	return b.String()
}
