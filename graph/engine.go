package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/invoiceflow/invoiceflow/core"
	"github.com/invoiceflow/invoiceflow/store"
	"github.com/invoiceflow/invoiceflow/telemetry"
)

// Engine drives workflows through the pipeline. It is safe for
// concurrent use; per-workflow state lives in the store, not here.
type Engine struct {
	graph *Graph
	deps  *Deps

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewEngine builds an engine over the given dependencies.
func NewEngine(deps *Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Config == nil {
		deps.Config = core.DefaultConfig()
	}
	return &Engine{
		graph:     buildGraph(),
		deps:      deps,
		cancelled: map[string]bool{},
	}
}

// Graph exposes the compiled pipeline, mainly for rendering.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// RunResult reports where a run ended up.
type RunResult struct {
	WorkflowID   string
	Status       core.WorkflowStatus
	Stage        core.Stage
	Paused       bool
	CheckpointID string
	ReviewURL    string
	State        *State
}

// Start ingests an invoice and runs it until it completes, pauses for
// review or fails.
func (e *Engine) Start(ctx context.Context, inv *core.Invoice) (*RunResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	wf, err := e.deps.Store.CreateWorkflow(ctx, inv, nil)
	if err != nil {
		return nil, err
	}
	s := NewState(wf.WorkflowID, inv)
	if err := e.saveState(ctx, s, core.StageIntake); err != nil {
		return nil, err
	}
	_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
		WorkflowID: wf.WorkflowID,
		EventType:  store.EventWorkflowStarted,
		StageID:    core.StageIntake,
		Message:    fmt.Sprintf("Workflow started for invoice %s", inv.InvoiceID),
		Details:    map[string]interface{}{"amount": inv.Amount, "vendor": inv.VendorName},
		ActorType:  store.ActorSystem,
	})
	e.deps.Logger.Info("Workflow started", map[string]interface{}{
		"workflow_id": wf.WorkflowID,
		"invoice_id":  inv.InvoiceID,
	})

	return e.run(ctx, s, core.StageIntake, false)
}

// Resume continues a paused workflow after its checkpoint was resolved.
// The pause gate before the decision stage is lifted exactly once.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*RunResult, error) {
	wf, err := e.deps.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != core.StatusPaused {
		return nil, fmt.Errorf("workflow %s is %s, only paused workflows resume", workflowID, wf.Status)
	}

	blob, stage, err := e.deps.Store.LoadLatest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s, err := UnmarshalState(blob)
	if err != nil {
		return nil, err
	}
	if s.HumanDecision == "" {
		return nil, fmt.Errorf("workflow %s has no resolved checkpoint", workflowID)
	}
	if stage != core.StageHITLDecision {
		stage = core.StageHITLDecision
	}
	return e.run(ctx, s, stage, true)
}

// Cancel marks a non-terminal workflow failed. A run in flight stops at
// its next stage boundary.
func (e *Engine) Cancel(ctx context.Context, workflowID, requestedBy string) error {
	wf, err := e.deps.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", core.ErrWorkflowTerminal, workflowID, wf.Status)
	}

	e.mu.Lock()
	e.cancelled[workflowID] = true
	e.mu.Unlock()

	if err := e.deps.Store.SetStatus(ctx, workflowID, core.StatusFailed, "Cancelled by user"); err != nil {
		return err
	}
	return e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
		WorkflowID: workflowID,
		EventType:  store.EventWorkflowCancelled,
		Message:    "Workflow cancelled",
		ActorType:  store.ActorUser,
		ActorID:    requestedBy,
	})
}

// Retry starts a fresh workflow for a failed one's invoice and bumps
// the original's retry counter. The original stays failed.
func (e *Engine) Retry(ctx context.Context, workflowID string) (*RunResult, error) {
	wf, err := e.deps.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != core.StatusFailed {
		return nil, fmt.Errorf("workflow %s is %s, only failed workflows retry", workflowID, wf.Status)
	}
	if _, err := e.deps.Store.IncrementRetry(ctx, workflowID); err != nil {
		return nil, err
	}
	return e.Start(ctx, wf.Invoice)
}

func (e *Engine) isCancelled(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[workflowID]
}

func (e *Engine) saveState(ctx context.Context, s *State, stage core.Stage) error {
	s.CurrentStage = stage
	blob, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}
	return e.deps.Store.SaveState(ctx, s.WorkflowID, blob, stage)
}

func (e *Engine) run(ctx context.Context, s *State, start core.Stage, gateLifted bool) (*RunResult, error) {
	cur := start
	for cur != core.StageEnd {
		if e.isCancelled(s.WorkflowID) {
			e.deps.Logger.Warn("Run stopped by cancellation", map[string]interface{}{
				"workflow_id": s.WorkflowID,
				"stage":       string(cur),
			})
			s.Status = core.StatusFailed
			return e.result(s, cur), nil
		}

		if cur == core.StageHITLDecision {
			if !gateLifted {
				// A fresh run reaching the decision stage stays parked
				// until Resume lifts the gate.
				return e.result(s, cur), nil
			}
			gateLifted = false
		}

		n, ok := e.graph.nodes[cur]
		if !ok {
			return nil, fmt.Errorf("unknown stage %s", cur)
		}

		_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
			WorkflowID: s.WorkflowID,
			EventType:  store.EventStageStart,
			StageID:    cur,
			Message:    fmt.Sprintf("Executing stage %s", cur),
			ActorType:  store.ActorSystem,
		})
		telemetry.AddSpanEvent(ctx, "workflow.stage.start",
			attribute.String("workflow_id", s.WorkflowID),
			attribute.String("stage", string(cur)),
		)
		routerMark := len(e.deps.Router.CallLog())
		pickerMark := len(e.deps.Picker.SelectionLog())
		started := time.Now()

		delta, err := n.run(ctx, e.deps, s)
		e.auditToolActivity(ctx, s.WorkflowID, cur, routerMark, pickerMark)
		if err != nil {
			return e.failStage(ctx, s, cur, err)
		}
		if err := s.Apply(delta); err != nil {
			return e.failStage(ctx, s, cur, err)
		}
		if err := e.saveState(ctx, s, cur); err != nil {
			return nil, err
		}

		if cur == core.StageMatchTwoWay && s.Match != nil {
			if err := e.deps.Store.SetMatchOutcome(ctx, s.WorkflowID, s.Match.Score, s.Match.Result); err != nil {
				return nil, err
			}
		}
		if n.pauses {
			if err := e.deps.Store.SetStatus(ctx, s.WorkflowID, core.StatusPaused, ""); err != nil {
				return nil, err
			}
		} else if delta.Status == core.StatusRunning {
			if err := e.deps.Store.SetStatus(ctx, s.WorkflowID, core.StatusRunning, ""); err != nil {
				return nil, err
			}
		}

		telemetry.Duration("workflow.stage.duration", started, "stage", string(cur))
		telemetry.Counter("workflow.stage.completions", "stage", string(cur))
		_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
			WorkflowID: s.WorkflowID,
			EventType:  store.EventStageComplete,
			StageID:    cur,
			Message:    fmt.Sprintf("Stage %s complete", cur),
			Details:    map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()},
			ActorType:  store.ActorSystem,
		})

		next, label, err := e.graph.nextAfter(cur, s)
		if err != nil {
			return nil, err
		}
		if label != "" {
			e.deps.Logger.Info("Conditional route taken", map[string]interface{}{
				"workflow_id": s.WorkflowID,
				"stage":       string(cur),
				"route":       string(label),
				"next":        string(next),
			})
		}
		if n.pauses {
			return e.result(s, cur), nil
		}
		cur = next
	}

	if err := e.deps.Store.SetStatus(ctx, s.WorkflowID, s.Status, ""); err != nil {
		return nil, err
	}
	e.deps.Logger.Info("Workflow finished", map[string]interface{}{
		"workflow_id": s.WorkflowID,
		"status":      string(s.Status),
	})
	telemetry.Counter("workflow.completions", "status", string(s.Status))
	return e.result(s, core.StageComplete), nil
}

// auditToolActivity appends one audit entry per ability call and per
// tool selection recorded since the given log marks. Marks are taken
// at the stage boundary so entries land on the stage that caused them.
func (e *Engine) auditToolActivity(ctx context.Context, workflowID string, stage core.Stage, routerMark, pickerMark int) {
	for _, rec := range e.deps.Router.CallLog()[routerMark:] {
		_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
			WorkflowID: workflowID,
			EventType:  store.EventAbilityCall,
			StageID:    stage,
			Message:    fmt.Sprintf("Ability %s dispatched to %s backend", rec.Ability, rec.Backend),
			Details: map[string]interface{}{
				"ability":     rec.Ability,
				"backend":     string(rec.Backend),
				"params_keys": rec.ParamsKeys,
			},
			ActorType: store.ActorSystem,
		})
	}
	for _, rec := range e.deps.Picker.SelectionLog()[pickerMark:] {
		_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
			WorkflowID: workflowID,
			EventType:  store.EventBigtoolSelection,
			StageID:    stage,
			Message:    fmt.Sprintf("Selected %s for capability %s", rec.Selected, rec.Capability),
			Details: map[string]interface{}{
				"capability": string(rec.Capability),
				"tool":       rec.Selected,
				"method":     string(rec.Method),
			},
			ActorType: store.ActorSystem,
		})
	}
}

// failStage records a stage failure. A failure in the decision stage
// leaves the workflow paused so the reviewer outcome is not lost.
func (e *Engine) failStage(ctx context.Context, s *State, stage core.Stage, cause error) (*RunResult, error) {
	_ = e.deps.Store.AppendAudit(ctx, &store.AuditEntry{
		WorkflowID: s.WorkflowID,
		EventType:  store.EventStageError,
		StageID:    stage,
		Message:    cause.Error(),
		ActorType:  store.ActorSystem,
	})
	telemetry.Counter("workflow.stage.errors", "stage", string(stage))
	telemetry.RecordSpanError(ctx, cause)
	e.deps.Logger.Error("Stage failed", map[string]interface{}{
		"workflow_id": s.WorkflowID,
		"stage":       string(stage),
		"error":       cause.Error(),
	})

	if stage != core.StageHITLDecision {
		s.Status = core.StatusFailed
		if err := e.deps.Store.SetStatus(ctx, s.WorkflowID, core.StatusFailed, cause.Error()); err != nil {
			return nil, err
		}
	}
	return e.result(s, stage), fmt.Errorf("stage %s: %w", stage, cause)
}

func (e *Engine) result(s *State, stage core.Stage) *RunResult {
	r := &RunResult{
		WorkflowID: s.WorkflowID,
		Status:     s.Status,
		Stage:      stage,
		State:      s,
	}
	if s.Status == core.StatusPaused {
		r.Paused = true
		if s.Checkpoint != nil {
			r.CheckpointID = s.Checkpoint.CheckpointID
			r.ReviewURL = s.Checkpoint.ReviewURL
		}
	}
	return r
}
