package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across packages.
var (
	// ErrWorkflowNotFound indicates the workflow id does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowTerminal indicates an operation on a workflow that has
	// already reached COMPLETED, FAILED or MANUAL_HANDOFF.
	ErrWorkflowTerminal = errors.New("workflow already in terminal state")

	// ErrInvalidDecision indicates a review decision outside {ACCEPT, REJECT}.
	ErrInvalidDecision = errors.New("decision must be ACCEPT or REJECT")
)

// ValidationError rejects a malformed invoice payload at the boundary,
// before any workflow row is created.
type ValidationError struct {
	MissingFields []string
	Reason        string
}

func (e *ValidationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("invalid invoice: missing required fields: %s",
			strings.Join(e.MissingFields, ", "))
	}
	return fmt.Sprintf("invalid invoice: %s", e.Reason)
}

// IsValidationError checks if an error is a payload validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
