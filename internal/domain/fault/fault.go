// Package fault declares the error classes shared by every escrowfund component.
//
// Component packages wrap these sentinels so callers can classify any error with
// errors.Is without knowing which component produced it.
package fault

import "errors"

var (
	// ErrValidation indicates bad caller input, rejected before any external call.
	ErrValidation = errors.New("validation error")
	// ErrGateway indicates a ledger submission or query failure.
	ErrGateway = errors.New("gateway error")
	// ErrConditionMismatch indicates a stored fulfillment does not satisfy its condition.
	ErrConditionMismatch = errors.New("condition mismatch")
	// ErrSettlement indicates an atomic batch did not fully apply.
	ErrSettlement = errors.New("settlement error")
	// ErrMilestoneVerification indicates milestone evidence was rejected.
	ErrMilestoneVerification = errors.New("milestone verification error")
	// ErrBatchSizeExceeded indicates too many operations for one atomic container.
	ErrBatchSizeExceeded = errors.New("batch size exceeded")
	// ErrNotFound indicates an unknown project, milestone, escrow or wallet.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the entity is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
)

// Fatal reports whether err must be escalated instead of retried.
func Fatal(err error) bool {
	return errors.Is(err, ErrConditionMismatch)
}

// Retryable reports whether err may be retried after reconciling ledger state.
func Retryable(err error) bool {
	if err == nil || Fatal(err) {
		return false
	}
	return errors.Is(err, ErrGateway)
}
