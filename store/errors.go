package store

import (
	"errors"
	"fmt"
	"time"
)

// CheckpointNotFoundError indicates the checkpoint id does not exist.
type CheckpointNotFoundError struct {
	CheckpointID string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %s not found", e.CheckpointID)
}

// AlreadyResolvedError indicates a second resolution attempt on the same
// checkpoint. The first resolution stands; callers must not retry.
type AlreadyResolvedError struct {
	CheckpointID string
	ResolvedAt   time.Time
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("checkpoint %s already resolved at %s",
		e.CheckpointID, e.ResolvedAt.UTC().Format(time.RFC3339))
}

// DuplicateCheckpointError indicates an attempt to create a second
// unresolved checkpoint for one workflow.
type DuplicateCheckpointError struct {
	WorkflowID string
	ExistingID string
}

func (e *DuplicateCheckpointError) Error() string {
	return fmt.Sprintf("workflow %s already has unresolved checkpoint %s",
		e.WorkflowID, e.ExistingID)
}

// IsCheckpointNotFound checks for a missing-checkpoint error.
func IsCheckpointNotFound(err error) bool {
	var e *CheckpointNotFoundError
	return errors.As(err, &e)
}

// IsAlreadyResolved checks for a double-resolution error.
func IsAlreadyResolved(err error) bool {
	var e *AlreadyResolvedError
	return errors.As(err, &e)
}

// IsDuplicateCheckpoint checks for the unresolved-uniqueness violation.
func IsDuplicateCheckpoint(err error) bool {
	var e *DuplicateCheckpointError
	return errors.As(err, &e)
}
