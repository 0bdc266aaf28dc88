package core

// Stage identifies a node in the invoice processing graph.
type Stage string

const (
	StageIntake         Stage = "INTAKE"
	StageUnderstand     Stage = "UNDERSTAND"
	StagePrepare        Stage = "PREPARE"
	StageRetrieve       Stage = "RETRIEVE"
	StageMatchTwoWay    Stage = "MATCH_TWO_WAY"
	StageCheckpointHITL Stage = "CHECKPOINT_HITL"
	StageHITLDecision   Stage = "HITL_DECISION"
	StageReconcile      Stage = "RECONCILE"
	StageApprove        Stage = "APPROVE"
	StagePosting        Stage = "POSTING"
	StageNotify         Stage = "NOTIFY"
	StageComplete       Stage = "COMPLETE"

	// StageEnd is the graph terminator, not an executable stage.
	StageEnd Stage = "END"
)

// Stages lists the executable stages in canonical graph order.
var Stages = []Stage{
	StageIntake,
	StageUnderstand,
	StagePrepare,
	StageRetrieve,
	StageMatchTwoWay,
	StageCheckpointHITL,
	StageHITLDecision,
	StageReconcile,
	StageApprove,
	StagePosting,
	StageNotify,
	StageComplete,
}

// WorkflowStatus is the lifecycle state of a workflow row.
type WorkflowStatus string

const (
	StatusPending       WorkflowStatus = "PENDING"
	StatusRunning       WorkflowStatus = "RUNNING"
	StatusPaused        WorkflowStatus = "PAUSED"
	StatusCompleted     WorkflowStatus = "COMPLETED"
	StatusFailed        WorkflowStatus = "FAILED"
	StatusManualHandoff WorkflowStatus = "MANUAL_HANDOFF"
)

// IsTerminal reports whether the status admits no further transitions.
func (s WorkflowStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusManualHandoff
}

// MatchResult is the outcome of the two-way match stage.
type MatchResult string

const (
	MatchMatched MatchResult = "MATCHED"
	MatchFailed  MatchResult = "FAILED"
)

// Decision is a human reviewer's verdict on a paused workflow.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// ApprovalStatus is the outcome of the approval policy stage.
type ApprovalStatus string

const (
	ApprovalAutoApproved ApprovalStatus = "AUTO_APPROVED"
	ApprovalEscalated    ApprovalStatus = "ESCALATED"
	ApprovalApproved     ApprovalStatus = "APPROVED"
	ApprovalRejected     ApprovalStatus = "REJECTED"
)

// ReviewStatus tracks a queued human review entry.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewReviewed ReviewStatus = "REVIEWED"
	ReviewExpired  ReviewStatus = "EXPIRED"
)
