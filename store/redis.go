package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/invoiceflow/invoiceflow/core"
)

// RedisStore is the production Store implementation.
//
// Key layout under the configured prefix:
//
//	{p}:workflow:{id}              workflow row JSON
//	{p}:workflows:index            zset of workflow ids by created_at
//	{p}:workflows:status:{status}  set of workflow ids per status
//	{p}:workflow:{id}:unresolved   unresolved checkpoint id (uniqueness guard)
//	{p}:workflow:{id}:checkpoints  zset of checkpoint ids by created_at
//	{p}:workflow:{id}:audit        list of audit entry JSON
//	{p}:checkpoint:{id}            checkpoint JSON
//	{p}:review:{checkpoint_id}     review JSON
//	{p}:reviews:pending            zset ordered by priority desc, created asc
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore connects to Redis and verifies the connection.
// The url accepts either a redis:// URL or a plain host:port address.
func NewRedisStore(url string, opts ...Option) (*RedisStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var client *redis.Client
	if strings.Contains(url, "://") {
		ropts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client = redis.NewClient(ropts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client, opts: o}, nil
}

var _ Store = (*RedisStore)(nil)

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) workflowKey(id string) string {
	return fmt.Sprintf("%s:workflow:%s", s.opts.prefix, id)
}

func (s *RedisStore) statusKey(status core.WorkflowStatus) string {
	return fmt.Sprintf("%s:workflows:status:%s", s.opts.prefix, status)
}

func (s *RedisStore) indexKey() string {
	return s.opts.prefix + ":workflows:index"
}

func (s *RedisStore) unresolvedKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:unresolved", s.opts.prefix, workflowID)
}

func (s *RedisStore) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.opts.prefix, id)
}

func (s *RedisStore) checkpointsKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:checkpoints", s.opts.prefix, workflowID)
}

func (s *RedisStore) reviewKey(checkpointID string) string {
	return fmt.Sprintf("%s:review:%s", s.opts.prefix, checkpointID)
}

func (s *RedisStore) pendingKey() string {
	return s.opts.prefix + ":reviews:pending"
}

func (s *RedisStore) auditKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:audit", s.opts.prefix, workflowID)
}

// pendingScore orders the review queue by priority descending then
// created_at ascending when read with ZREVRANGE.
func pendingScore(priority int, createdAt time.Time) float64 {
	return float64(priority)*1e10 + (1e10 - float64(createdAt.Unix()))
}

func (s *RedisStore) loadWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	data, err := s.client.Get(ctx, s.workflowKey(workflowID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow %s: %w", workflowID, err)
	}
	return &wf, nil
}

func (s *RedisStore) saveWorkflow(ctx context.Context, wf *Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", wf.WorkflowID, err)
	}
	return s.client.Set(ctx, s.workflowKey(wf.WorkflowID), data, 0).Err()
}

// mutateWorkflow applies fn under a WATCH on the workflow row so
// concurrent mutations to one workflow serialize.
func (s *RedisStore) mutateWorkflow(ctx context.Context, workflowID string, fn func(wf *Workflow) error) (*Workflow, error) {
	key := s.workflowKey(workflowID)
	var result *Workflow

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
		}
		if err != nil {
			return err
		}
		var wf Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return err
		}
		prevStatus := wf.Status
		if err := fn(&wf); err != nil {
			return err
		}
		encoded, err := json.Marshal(&wf)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if wf.Status != prevStatus {
				pipe.SRem(ctx, s.statusKey(prevStatus), workflowID)
				pipe.SAdd(ctx, s.statusKey(wf.Status), workflowID)
			}
			return nil
		})
		if err == nil {
			result = &wf
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) CreateWorkflow(ctx context.Context, inv *core.Invoice, initialState json.RawMessage) (*Workflow, error) {
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
	if err := s.saveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(now.UnixNano()), Member: wf.WorkflowID})
	pipe.SAdd(ctx, s.statusKey(wf.Status), wf.WorkflowID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("indexing workflow %s: %w", wf.WorkflowID, err)
	}
	return wf, nil
}

func (s *RedisStore) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	return s.loadWorkflow(ctx, workflowID)
}

func (s *RedisStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	out := make([]*Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.loadWorkflow(ctx, id)
		if err != nil {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		out = append(out, wf)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) SaveState(ctx context.Context, workflowID string, state json.RawMessage, currentStage core.Stage) error {
	_, err := s.mutateWorkflow(ctx, workflowID, func(wf *Workflow) error {
		wf.StateData = append(json.RawMessage(nil), state...)
		wf.CurrentStage = currentStage
		return nil
	})
	return err
}

func (s *RedisStore) LoadLatest(ctx context.Context, workflowID string) (json.RawMessage, core.Stage, error) {
	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, "", err
	}
	return wf.StateData, wf.CurrentStage, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, workflowID string, status core.WorkflowStatus, errorMessage string) error {
	now := s.opts.now().UTC()
	_, err := s.mutateWorkflow(ctx, workflowID, func(wf *Workflow) error {
		wf.Status = status
		if errorMessage != "" {
			wf.ErrorMessage = errorMessage
		}
		if status.IsTerminal() && wf.CompletedAt == nil {
			wf.CompletedAt = &now
		}
		return nil
	})
	return err
}

func (s *RedisStore) SetMatchOutcome(ctx context.Context, workflowID string, score float64, result core.MatchResult) error {
	_, err := s.mutateWorkflow(ctx, workflowID, func(wf *Workflow) error {
		wf.MatchScore = &score
		wf.MatchResult = result
		return nil
	})
	return err
}

func (s *RedisStore) IncrementRetry(ctx context.Context, workflowID string) (int, error) {
	wf, err := s.mutateWorkflow(ctx, workflowID, func(wf *Workflow) error {
		wf.RetryCount++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return wf.RetryCount, nil
}

func (s *RedisStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	cpIDs, err := s.client.ZRange(ctx, s.checkpointsKey(workflowID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("listing checkpoints for %s: %w", workflowID, err)
	}

	pipe := s.client.Pipeline()
	for _, cpID := range cpIDs {
		pipe.Del(ctx, s.checkpointKey(cpID))
		pipe.Del(ctx, s.reviewKey(cpID))
		pipe.ZRem(ctx, s.pendingKey(), cpID)
	}
	pipe.Del(ctx, s.checkpointsKey(workflowID))
	pipe.Del(ctx, s.unresolvedKey(workflowID))
	pipe.Del(ctx, s.auditKey(workflowID))
	pipe.Del(ctx, s.workflowKey(workflowID))
	pipe.ZRem(ctx, s.indexKey(), workflowID)
	pipe.SRem(ctx, s.statusKey(wf.Status), workflowID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, workflowID string, stageID core.Stage, state json.RawMessage, pausedReason string) (*Checkpoint, error) {
	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	cp := &Checkpoint{
		CheckpointID: core.NewCheckpointID(workflowID),
		WorkflowID:   workflowID,
		StageID:      stageID,
		StateBlob:    append(json.RawMessage(nil), state...),
		PausedReason: pausedReason,
		CreatedAt:    now,
	}
	cp.ReviewURL = fmt.Sprintf("%s/review/%s", s.opts.frontendBaseURL, cp.CheckpointID)

	// SETNX is the unique constraint on (workflow_id, is_resolved=false).
	ok, err := s.client.SetNX(ctx, s.unresolvedKey(workflowID), cp.CheckpointID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("reserving unresolved slot for %s: %w", workflowID, err)
	}
	if !ok {
		existing, _ := s.client.Get(ctx, s.unresolvedKey(workflowID)).Result()
		return nil, &DuplicateCheckpointError{WorkflowID: workflowID, ExistingID: existing}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(cp.CheckpointID), data, 0)
	pipe.ZAdd(ctx, s.checkpointsKey(workflowID), &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: cp.CheckpointID,
	})

	if stageID == core.StageCheckpointHITL {
		var score float64
		if wf.MatchScore != nil {
			score = *wf.MatchScore
		}
		review := &HumanReview{
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
		reviewData, err := json.Marshal(review)
		if err != nil {
			return nil, fmt.Errorf("encoding review: %w", err)
		}
		pipe.Set(ctx, s.reviewKey(cp.CheckpointID), reviewData, 0)
		pipe.ZAdd(ctx, s.pendingKey(), &redis.Z{
			Score:  pendingScore(review.Priority, now),
			Member: cp.CheckpointID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("persisting checkpoint %s: %w", cp.CheckpointID, err)
	}

	_ = s.AppendAudit(ctx, &AuditEntry{
		WorkflowID: workflowID,
		EventType:  EventCheckpointCreated,
		StageID:    stageID,
		Message:    pausedReason,
		Details:    map[string]interface{}{"checkpoint_id": cp.CheckpointID},
		ActorType:  ActorSystem,
	})
	return cp, nil
}

func (s *RedisStore) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err == redis.Nil {
		return nil, &CheckpointNotFoundError{CheckpointID: checkpointID}
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", checkpointID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", checkpointID, err)
	}
	return &cp, nil
}

func (s *RedisStore) UnresolvedCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	id, err := s.client.Get(ctx, s.unresolvedKey(workflowID)).Result()
	if err == redis.Nil {
		return nil, &CheckpointNotFoundError{CheckpointID: "unresolved:" + workflowID}
	}
	if err != nil {
		return nil, fmt.Errorf("loading unresolved checkpoint for %s: %w", workflowID, err)
	}
	return s.GetCheckpoint(ctx, id)
}

func (s *RedisStore) ResolveCheckpoint(ctx context.Context, checkpointID string, decision core.Decision, reviewerID, notes string) (*Resolution, error) {
	res, err := resolutionFor(checkpointID, decision)
	if err != nil {
		return nil, err
	}

	cpKey := s.checkpointKey(checkpointID)
	now := s.opts.now().UTC()

	// The workflow row is read and rewritten inside the transaction, so
	// it must be in the WATCH set too. A checkpoint's workflow id never
	// changes, so a pre-read suffices to learn the key.
	pre, err := s.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	// WATCH the checkpoint so two concurrent resolutions cannot both win,
	// and the workflow so a concurrent status change aborts the commit.
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, cpKey).Bytes()
		if err == redis.Nil {
			return &CheckpointNotFoundError{CheckpointID: checkpointID}
		}
		if err != nil {
			return err
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return err
		}
		if cp.IsResolved {
			return &AlreadyResolvedError{CheckpointID: checkpointID, ResolvedAt: *cp.ResolvedAt}
		}

		wf, err := s.loadWorkflow(ctx, cp.WorkflowID)
		if err != nil {
			return err
		}
		newState, err := injectDecision(wf.StateData, decision, reviewerID, notes)
		if err != nil {
			return fmt.Errorf("updating workflow state: %w", err)
		}
		wf.StateData = newState
		wf.CurrentStage = core.StageHITLDecision
		wfData, err := json.Marshal(wf)
		if err != nil {
			return err
		}

		cp.IsResolved = true
		cp.ResolvedAt = &now
		cp.Resolution = decision
		cp.ResolverID = reviewerID
		cp.ResolverNotes = notes
		cpData, err := json.Marshal(&cp)
		if err != nil {
			return err
		}

		var reviewData []byte
		if raw, err := tx.Get(ctx, s.reviewKey(checkpointID)).Bytes(); err == nil {
			var review HumanReview
			if err := json.Unmarshal(raw, &review); err == nil {
				review.Status = core.ReviewReviewed
				review.AssignedTo = reviewerID
				reviewData, _ = json.Marshal(&review)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cpKey, cpData, 0)
			pipe.Set(ctx, s.workflowKey(cp.WorkflowID), wfData, 0)
			pipe.Del(ctx, s.unresolvedKey(cp.WorkflowID))
			pipe.ZRem(ctx, s.pendingKey(), checkpointID)
			if reviewData != nil {
				pipe.Set(ctx, s.reviewKey(checkpointID), reviewData, 0)
			}
			pipe.RPush(ctx, s.auditKey(cp.WorkflowID), mustAuditJSON(&AuditEntry{
				ID:         uuid.NewString(),
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
				CreatedAt: now,
			}))
			return nil
		})
		return err
	}, cpKey, s.workflowKey(pre.WorkflowID))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) PendingReviews(ctx context.Context) ([]*HumanReview, error) {
	ids, err := s.client.ZRevRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending reviews: %w", err)
	}
	out := make([]*HumanReview, 0, len(ids))
	for _, id := range ids {
		review, err := s.GetReview(ctx, id)
		if err != nil {
			continue
		}
		if review.Status == core.ReviewPending {
			out = append(out, review)
		}
	}
	return out, nil
}

func (s *RedisStore) GetReview(ctx context.Context, checkpointID string) (*HumanReview, error) {
	data, err := s.client.Get(ctx, s.reviewKey(checkpointID)).Bytes()
	if err == redis.Nil {
		return nil, &CheckpointNotFoundError{CheckpointID: checkpointID}
	}
	if err != nil {
		return nil, fmt.Errorf("loading review %s: %w", checkpointID, err)
	}
	var review HumanReview
	if err := json.Unmarshal(data, &review); err != nil {
		return nil, fmt.Errorf("decoding review %s: %w", checkpointID, err)
	}
	return &review, nil
}

func (s *RedisStore) ExpireStale(ctx context.Context, hours int) (int, error) {
	cutoff := s.opts.now().UTC().Add(-time.Duration(hours) * time.Hour)
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("listing pending reviews: %w", err)
	}

	count := 0
	for _, id := range ids {
		review, err := s.GetReview(ctx, id)
		if err != nil || review.Status != core.ReviewPending {
			continue
		}
		if !review.CreatedAt.Before(cutoff) {
			continue
		}

		review.Status = core.ReviewExpired
		reviewData, err := json.Marshal(review)
		if err != nil {
			continue
		}
		pipe := s.client.Pipeline()
		pipe.Set(ctx, s.reviewKey(id), reviewData, 0)
		pipe.ZRem(ctx, s.pendingKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			continue
		}
		if err := s.SetStatus(ctx, review.WorkflowID, core.StatusFailed,
			fmt.Sprintf("Review expired after %d hours", hours)); err != nil {
			s.opts.logger.Error("Failed to fail expired workflow", map[string]interface{}{
				"workflow_id": review.WorkflowID,
				"error":       err.Error(),
			})
			continue
		}
		count++
		s.opts.logger.Warn("Review expired", map[string]interface{}{
			"checkpoint_id": id,
			"workflow_id":   review.WorkflowID,
		})
	}
	return count, nil
}

func (s *RedisStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	clone := *entry
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.opts.now().UTC()
	}
	return s.client.RPush(ctx, s.auditKey(clone.WorkflowID), mustAuditJSON(&clone)).Err()
}

func (s *RedisStore) AuditTrail(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	raws, err := s.client.LRange(ctx, s.auditKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading audit trail for %s: %w", workflowID, err)
	}
	out := make([]*AuditEntry, 0, len(raws))
	for _, raw := range raws {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}

func mustAuditJSON(entry *AuditEntry) []byte {
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(&AuditEntry{
			ID:         entry.ID,
			WorkflowID: entry.WorkflowID,
			EventType:  entry.EventType,
			Message:    "audit entry encoding failed",
			ActorType:  ActorSystem,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return data
}
