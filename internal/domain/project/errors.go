package project

import (
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
)

var (
	// ErrProjectNotFound indicates the project doesn't exist.
	ErrProjectNotFound = fmt.Errorf("project not found: %w", fault.ErrNotFound)
	// ErrMilestoneNotFound indicates the milestone isn't part of the project.
	ErrMilestoneNotFound = fmt.Errorf("milestone not found: %w", fault.ErrNotFound)
	// ErrInvalidInput indicates invalid project input.
	ErrInvalidInput = fmt.Errorf("invalid project input: %w", fault.ErrValidation)
	// ErrInsufficientTokens indicates an investment too small for one token or
	// larger than the remaining supply.
	ErrInsufficientTokens = fmt.Errorf("investment does not map to an issuable token amount: %w", fault.ErrValidation)
	// ErrNotActive indicates the project does not accept the operation in its status.
	ErrNotActive = fmt.Errorf("project status does not allow this operation: %w", fault.ErrInvalidState)
	// ErrTerminal indicates the project is COMPLETED, FAILED or CANCELLED.
	ErrTerminal = fmt.Errorf("project is in a terminal state: %w", fault.ErrInvalidState)
	// ErrConcurrentUpdate indicates the project changed under a writer.
	ErrConcurrentUpdate = fmt.Errorf("project was modified concurrently: %w", fault.ErrInvalidState)
)

// MilestoneVerificationError reports a milestone claim that was not accepted.
// The project and milestone are unchanged; the caller may resubmit.
type MilestoneVerificationError struct {
	ProjectID   string
	MilestoneID string
	Reason      string
	Err         error
}

func (e *MilestoneVerificationError) Error() string {
	msg := fmt.Sprintf("milestone %s of project %s not accepted: %s", e.MilestoneID, e.ProjectID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MilestoneVerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{fault.ErrMilestoneVerification}
	}
	return []error{fault.ErrMilestoneVerification, e.Err}
}

// UnknownSettlementError reports an investment settlement whose outcome was not
// observed. Funds may have moved on the ledger; the investment is not recorded.
type UnknownSettlementError struct {
	ProjectID string
	BatchID   string
	TxID      string
	Err       error
}

func (e *UnknownSettlementError) Error() string {
	return fmt.Sprintf("settlement %s of project %s (tx %s) has an unknown outcome: %v", e.BatchID, e.ProjectID, e.TxID, e.Err)
}

func (e *UnknownSettlementError) Unwrap() []error {
	return []error{ledger.ErrUnknownOutcome, e.Err}
}
