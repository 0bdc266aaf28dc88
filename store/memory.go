package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/invoiceflow/core"
)

// MemoryStore is the in-process Store used by tests and development.
type MemoryStore struct {
	opts options

	mu          sync.RWMutex
	workflows   map[string]*Workflow
	checkpoints map[string]*Checkpoint
	unresolved  map[string]string // workflow id -> checkpoint id
	reviews     map[string]*HumanReview
	audit       map[string][]*AuditEntry
	createOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:        o,
		workflows:   make(map[string]*Workflow),
		checkpoints: make(map[string]*Checkpoint),
		unresolved:  make(map[string]string),
		reviews:     make(map[string]*HumanReview),
		audit:       make(map[string][]*AuditEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateWorkflow(_ context.Context, inv *core.Invoice, initialState json.RawMessage) (*Workflow, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	now := s.opts.now().UTC()
	wf := &Workflow{
		WorkflowID:   core.NewWorkflowID(inv.InvoiceID),
		InvoiceID:    inv.InvoiceID,
		Invoice:      inv,
		Status:       core.StatusPending,
		CurrentStage: core.StageIntake,
		StateData:    append(json.RawMessage(nil), initialState...),
		StartedAt:    now,
		CreatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.WorkflowID] = wf
	s.createOrder = append(s.createOrder, wf.WorkflowID)
	return cloneWorkflow(wf), nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, workflowID string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	return cloneWorkflow(wf), nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Workflow, 0, len(s.createOrder))
	// Most recent first.
	for i := len(s.createOrder) - 1; i >= 0; i-- {
		wf := s.workflows[s.createOrder[i]]
		if wf == nil {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		out = append(out, cloneWorkflow(wf))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveState(_ context.Context, workflowID string, state json.RawMessage, currentStage core.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	wf.StateData = append(json.RawMessage(nil), state...)
	wf.CurrentStage = currentStage
	return nil
}

func (s *MemoryStore) LoadLatest(_ context.Context, workflowID string) (json.RawMessage, core.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	return append(json.RawMessage(nil), wf.StateData...), wf.CurrentStage, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, workflowID string, status core.WorkflowStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	wf.Status = status
	if errorMessage != "" {
		wf.ErrorMessage = errorMessage
	}
	if status.IsTerminal() && wf.CompletedAt == nil {
		now := s.opts.now().UTC()
		wf.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) SetMatchOutcome(_ context.Context, workflowID string, score float64, result core.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	wf.MatchScore = &score
	wf.MatchResult = result
	return nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	wf.RetryCount++
	return wf.RetryCount, nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	delete(s.workflows, workflowID)
	delete(s.unresolved, workflowID)
	delete(s.audit, workflowID)
	for id, cp := range s.checkpoints {
		if cp.WorkflowID == workflowID {
			delete(s.checkpoints, id)
			delete(s.reviews, id)
		}
	}
	for i, id := range s.createOrder {
		if id == workflowID {
			s.createOrder = append(s.createOrder[:i], s.createOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, workflowID string, stageID core.Stage, state json.RawMessage, pausedReason string) (*Checkpoint, error) {
	now := s.opts.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	if existing, ok := s.unresolved[workflowID]; ok {
		return nil, &DuplicateCheckpointError{WorkflowID: workflowID, ExistingID: existing}
	}

	cp := &Checkpoint{
		CheckpointID: core.NewCheckpointID(workflowID),
		WorkflowID:   workflowID,
		StageID:      stageID,
		StateBlob:    append(json.RawMessage(nil), state...),
		PausedReason: pausedReason,
		CreatedAt:    now,
	}
	cp.ReviewURL = fmt.Sprintf("%s/review/%s", s.opts.frontendBaseURL, cp.CheckpointID)
	s.checkpoints[cp.CheckpointID] = cp
	s.unresolved[workflowID] = cp.CheckpointID

	if stageID == core.StageCheckpointHITL {
		var score float64
		if wf.MatchScore != nil {
			score = *wf.MatchScore
		}
		s.reviews[cp.CheckpointID] = &HumanReview{
			CheckpointID:  cp.CheckpointID,
			WorkflowID:    workflowID,
			InvoiceID:     wf.InvoiceID,
			VendorName:    wf.Invoice.VendorName,
			Amount:        wf.Invoice.Amount,
			Currency:      wf.Invoice.CurrencyOrDefault(),
			MatchScore:    score,
			ReasonForHold: pausedReason,
			Status:        core.ReviewPending,
			Priority:      priorityForAmount(wf.Invoice.Amount),
			ReviewURL:     cp.ReviewURL,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Duration(s.opts.expiryHours) * time.Hour),
		}
	}

	s.appendAuditLocked(&AuditEntry{
		WorkflowID: workflowID,
		EventType:  EventCheckpointCreated,
		StageID:    stageID,
		Message:    pausedReason,
		Details:    map[string]interface{}{"checkpoint_id": cp.CheckpointID},
		ActorType:  ActorSystem,
	})
	return cloneCheckpoint(cp), nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, &CheckpointNotFoundError{CheckpointID: checkpointID}
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemoryStore) UnresolvedCheckpoint(_ context.Context, workflowID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.unresolved[workflowID]
	if !ok {
		return nil, &CheckpointNotFoundError{CheckpointID: "unresolved:" + workflowID}
	}
	return cloneCheckpoint(s.checkpoints[id]), nil
}

func (s *MemoryStore) ResolveCheckpoint(_ context.Context, checkpointID string, decision core.Decision, reviewerID, notes string) (*Resolution, error) {
	res, err := resolutionFor(checkpointID, decision)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, &CheckpointNotFoundError{CheckpointID: checkpointID}
	}
	if cp.IsResolved {
		return nil, &AlreadyResolvedError{CheckpointID: checkpointID, ResolvedAt: *cp.ResolvedAt}
	}
	wf, ok := s.workflows[cp.WorkflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, cp.WorkflowID)
	}

	newState, err := injectDecision(wf.StateData, decision, reviewerID, notes)
	if err != nil {
		return nil, fmt.Errorf("updating workflow state: %w", err)
	}

	now := s.opts.now().UTC()
	cp.IsResolved = true
	cp.ResolvedAt = &now
	cp.Resolution = decision
	cp.ResolverID = reviewerID
	cp.ResolverNotes = notes
	delete(s.unresolved, cp.WorkflowID)

	if review, ok := s.reviews[checkpointID]; ok {
		review.Status = core.ReviewReviewed
		review.AssignedTo = reviewerID
	}

	wf.StateData = newState
	wf.CurrentStage = core.StageHITLDecision

	s.appendAuditLocked(&AuditEntry{
		WorkflowID: cp.WorkflowID,
		EventType:  EventHumanDecision,
		StageID:    core.StageHITLDecision,
		Message:    fmt.Sprintf("Reviewer decision: %s", decision),
		Details: map[string]interface{}{
			"checkpoint_id": checkpointID,
			"decision":      string(decision),
			"notes":         notes,
		},
		ActorType: ActorHuman,
		ActorID:   reviewerID,
	})
	return res, nil
}

func (s *MemoryStore) PendingReviews(_ context.Context) ([]*HumanReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*HumanReview, 0, len(s.reviews))
	for _, r := range s.reviews {
		if r.Status == core.ReviewPending {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetReview(_ context.Context, checkpointID string) (*HumanReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[checkpointID]
	if !ok {
		return nil, &CheckpointNotFoundError{CheckpointID: checkpointID}
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, hours int) (int, error) {
	cutoff := s.opts.now().UTC().Add(-time.Duration(hours) * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.reviews {
		if r.Status != core.ReviewPending || !r.CreatedAt.Before(cutoff) {
			continue
		}
		r.Status = core.ReviewExpired
		count++
		if wf, ok := s.workflows[r.WorkflowID]; ok {
			wf.Status = core.StatusFailed
			wf.ErrorMessage = fmt.Sprintf("Review expired after %d hours", hours)
			if wf.CompletedAt == nil {
				now := s.opts.now().UTC()
				wf.CompletedAt = &now
			}
		}
		s.opts.logger.Warn("Review expired", map[string]interface{}{
			"checkpoint_id": r.CheckpointID,
			"workflow_id":   r.WorkflowID,
		})
	}
	return count, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

func (s *MemoryStore) appendAuditLocked(entry *AuditEntry) {
	clone := *entry
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.opts.now().UTC()
	}
	s.audit[clone.WorkflowID] = append(s.audit[clone.WorkflowID], &clone)
}

func (s *MemoryStore) AuditTrail(_ context.Context, workflowID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[workflowID]
	out := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		clone := *e
		out[i] = &clone
	}
	return out, nil
}

func cloneWorkflow(wf *Workflow) *Workflow {
	clone := *wf
	clone.StateData = append(json.RawMessage(nil), wf.StateData...)
	if wf.Invoice != nil {
		inv := *wf.Invoice
		inv.LineItems = append([]core.LineItem(nil), wf.Invoice.LineItems...)
		inv.Attachments = append([]string(nil), wf.Invoice.Attachments...)
		clone.Invoice = &inv
	}
	if wf.MatchScore != nil {
		score := *wf.MatchScore
		clone.MatchScore = &score
	}
	if wf.CompletedAt != nil {
		at := *wf.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	clone := *cp
	clone.StateBlob = append(json.RawMessage(nil), cp.StateBlob...)
	if cp.ResolvedAt != nil {
		at := *cp.ResolvedAt
		clone.ResolvedAt = &at
	}
	return &clone
}
