// Package store provides the durable side of the workflow engine:
// workflow rows, per-stage state snapshots, HITL checkpoints, the human
// review queue and the append-only audit trail.
//
// Two implementations ship: RedisStore for deployments and MemoryStore
// for tests and development. Both enforce the single-unresolved-
// checkpoint rule and serialize mutations per workflow.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invoiceflow/invoiceflow/core"
)

// Workflow is the central aggregate row.
type Workflow struct {
	WorkflowID   string              `json:"workflow_id"`
	InvoiceID    string              `json:"invoice_id"`
	Invoice      *core.Invoice       `json:"invoice"`
	Status       core.WorkflowStatus `json:"status"`
	CurrentStage core.Stage          `json:"current_stage"`
	StateData    json.RawMessage     `json:"state_data,omitempty"`
	MatchScore   *float64            `json:"match_score,omitempty"`
	MatchResult  core.MatchResult    `json:"match_result,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Checkpoint is a durable snapshot taken when a workflow suspends for
// human review.
type Checkpoint struct {
	CheckpointID  string              `json:"checkpoint_id"`
	WorkflowID    string              `json:"workflow_id"`
	StageID       core.Stage          `json:"stage_id"`
	StateBlob     json.RawMessage     `json:"state_blob"`
	PausedReason  string              `json:"paused_reason"`
	ReviewURL     string              `json:"review_url"`
	IsResolved    bool                `json:"is_resolved"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
	Resolution    core.Decision       `json:"resolution,omitempty"`
	ResolverID    string              `json:"resolver_id,omitempty"`
	ResolverNotes string              `json:"resolver_notes,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// HumanReview is the queue-facing projection of a checkpoint.
type HumanReview struct {
	CheckpointID  string            `json:"checkpoint_id"`
	WorkflowID    string            `json:"workflow_id"`
	InvoiceID     string            `json:"invoice_id"`
	VendorName    string            `json:"vendor_name"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	MatchScore    float64           `json:"match_score"`
	ReasonForHold string            `json:"reason_for_hold"`
	Status        core.ReviewStatus `json:"status"`
	Priority      int               `json:"priority"`
	AssignedTo    string            `json:"assigned_to,omitempty"`
	ReviewURL     string            `json:"review_url"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// AuditEntry is one append-only audit trail record.
type AuditEntry struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	EventType  string                 `json:"event_type"`
	StageID    core.Stage             `json:"stage_id,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	ActorType  string                 `json:"actor_type"`
	ActorID    string                 `json:"actor_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Audit event types.
const (
	EventWorkflowStarted   = "workflow_started"
	EventStageStart        = "stage_start"
	EventStageComplete     = "stage_complete"
	EventStageError        = "stage_error"
	EventBigtoolSelection  = "bigtool_selection"
	EventAbilityCall       = "mcp_call"
	EventCheckpointCreated = "checkpoint_created"
	EventHumanDecision     = "human_decision"
	EventWorkflowCancelled = "workflow_cancelled"
)

// Actor types for audit entries.
const (
	ActorSystem = "system"
	ActorHuman  = "human"
	ActorUser   = "user"
)

// Resolution reports where a resolved workflow goes next.
type Resolution struct {
	CheckpointID   string              `json:"checkpoint_id"`
	Decision       core.Decision       `json:"decision"`
	NextStage      core.Stage          `json:"next_stage"`
	WorkflowStatus core.WorkflowStatus `json:"workflow_status"`
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status core.WorkflowStatus // empty matches all
	Limit  int                 // 0 means no limit
}

// Store is the durable contract the graph runtime and review surface
// depend on.
type Store interface {
	// Workflow rows.
	CreateWorkflow(ctx context.Context, inv *core.Invoice, initialState json.RawMessage) (*Workflow, error)
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	SaveState(ctx context.Context, workflowID string, state json.RawMessage, currentStage core.Stage) error
	LoadLatest(ctx context.Context, workflowID string) (json.RawMessage, core.Stage, error)
	SetStatus(ctx context.Context, workflowID string, status core.WorkflowStatus, errorMessage string) error
	SetMatchOutcome(ctx context.Context, workflowID string, score float64, result core.MatchResult) error
	IncrementRetry(ctx context.Context, workflowID string) (int, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// Checkpoints. SaveCheckpoint also enqueues a HumanReview when the
	// stage is CHECKPOINT_HITL.
	SaveCheckpoint(ctx context.Context, workflowID string, stageID core.Stage, state json.RawMessage, pausedReason string) (*Checkpoint, error)
	GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error)
	UnresolvedCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error)
	ResolveCheckpoint(ctx context.Context, checkpointID string, decision core.Decision, reviewerID, notes string) (*Resolution, error)

	// Review queue.
	PendingReviews(ctx context.Context) ([]*HumanReview, error)
	GetReview(ctx context.Context, checkpointID string) (*HumanReview, error)
	ExpireStale(ctx context.Context, hours int) (int, error)

	// Audit trail.
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	AuditTrail(ctx context.Context, workflowID string) ([]*AuditEntry, error)
}

// options shared by both store implementations.
type options struct {
	prefix          string
	frontendBaseURL string
	expiryHours     int
	logger          core.Logger
	now             func() time.Time
}

// Option configures a store.
type Option func(*options)

func defaultOptions() options {
	return options{
		prefix:          "invoiceflow",
		frontendBaseURL: "http://localhost:3000",
		expiryHours:     72,
		logger:          &core.NoOpLogger{},
		now:             time.Now,
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithFrontendBaseURL sets the base for generated review URLs.
func WithFrontendBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.frontendBaseURL = u
		}
	}
}

// WithReviewExpiry sets the pending review lifetime in hours.
func WithReviewExpiry(hours int) Option {
	return func(o *options) {
		if hours > 0 {
			o.expiryHours = hours
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNow overrides the clock. Tests use this to backdate rows.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// resolutionFor maps a decision to the workflow's next stage and status.
func resolutionFor(checkpointID string, decision core.Decision) (*Resolution, error) {
	switch decision {
	case core.DecisionAccept:
		return &Resolution{
			CheckpointID:   checkpointID,
			Decision:       decision,
			NextStage:      core.StageReconcile,
			WorkflowStatus: core.StatusRunning,
		}, nil
	case core.DecisionReject:
		return &Resolution{
			CheckpointID:   checkpointID,
			Decision:       decision,
			NextStage:      core.StageComplete,
			WorkflowStatus: core.StatusManualHandoff,
		}, nil
	}
	return nil, core.ErrInvalidDecision
}

// priorityForAmount scales review priority with invoice amount.
func priorityForAmount(amount float64) int {
	switch {
	case amount >= 100000:
		return 9
	case amount >= 50000:
		return 7
	case amount >= 10000:
		return 5
	default:
		return 3
	}
}

// injectDecision writes the reviewer's verdict into a serialized state
// blob and repoints current_stage at the decision stage.
func injectDecision(state json.RawMessage, decision core.Decision, reviewerID, notes string) (json.RawMessage, error) {
	var m map[string]interface{}
	if len(state) == 0 {
		m = map[string]interface{}{}
	} else if err := json.Unmarshal(state, &m); err != nil {
		return nil, err
	}
	m["human_decision"] = string(decision)
	m["reviewer_id"] = reviewerID
	m["reviewer_notes"] = notes
	m["current_stage"] = string(core.StageHITLDecision)
	return json.Marshal(m)
}
