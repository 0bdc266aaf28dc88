package graph

import "github.com/invoiceflow/invoiceflow/core"

// RouteLabel tags the edge taken out of a conditional node.
type RouteLabel string

const (
	RouteMatched RouteLabel = "matched"
	RouteFailed  RouteLabel = "failed"
	RouteAccept  RouteLabel = "accept"
	RouteReject  RouteLabel = "reject"
)

// routeAfterMatch sends matched invoices straight to reconciliation and
// failures to the human checkpoint.
func routeAfterMatch(s *State) (RouteLabel, core.Stage) {
	if s.Match != nil && s.Match.Result == core.MatchMatched {
		return RouteMatched, core.StageReconcile
	}
	return RouteFailed, core.StageCheckpointHITL
}

// routeAfterDecision resumes accepted invoices at reconciliation and
// closes rejected ones out through COMPLETE.
func routeAfterDecision(s *State) (RouteLabel, core.Stage) {
	if s.Decision != nil && s.Decision.Decision == core.DecisionAccept {
		return RouteAccept, core.StageReconcile
	}
	return RouteReject, core.StageComplete
}
