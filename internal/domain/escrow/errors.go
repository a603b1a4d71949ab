package escrow

import (
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
)

var (
	// ErrEscrowNotFound indicates the escrow doesn't exist.
	ErrEscrowNotFound = fmt.Errorf("escrow not found: %w", fault.ErrNotFound)
	// ErrInvalidInput indicates a malformed hold request.
	ErrInvalidInput = fmt.Errorf("invalid escrow input: %w", fault.ErrValidation)
	// ErrDuplicateEscrow indicates the investment already has an open escrow.
	ErrDuplicateEscrow = fmt.Errorf("investment already has an active escrow: %w", fault.ErrValidation)
	// ErrNotActive indicates the escrow is not ACTIVE.
	ErrNotActive = fmt.Errorf("escrow is not active: %w", fault.ErrInvalidState)
	// ErrDeadlineNotReached indicates a cancel before the deadline without override.
	ErrDeadlineNotReached = fmt.Errorf("escrow deadline not reached: %w", fault.ErrInvalidState)
	// ErrDeadlinePassed indicates a release at or after the deadline.
	ErrDeadlinePassed = fmt.Errorf("escrow deadline passed: %w", fault.ErrInvalidState)
	// ErrSecretNotFound indicates no fulfillment is stored for the escrow.
	ErrSecretNotFound = fmt.Errorf("escrow fulfillment not found: %w", fault.ErrNotFound)
)

// ConditionMismatchError reports a fulfillment that does not satisfy its escrow's
// condition. It is never retried.
type ConditionMismatchError struct {
	EscrowID  string
	ProjectID string
	Reason    string
}

func (e *ConditionMismatchError) Error() string {
	return fmt.Sprintf("escrow %s: condition mismatch: %s", e.EscrowID, e.Reason)
}

func (e *ConditionMismatchError) Unwrap() error { return fault.ErrConditionMismatch }
