package batch

import (
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
)

var (
	// ErrEmptyBatch indicates Execute was called with no operations.
	ErrEmptyBatch = fmt.Errorf("batch has no operations: %w", fault.ErrValidation)
	// ErrTooManyOperations indicates the batch exceeds the configured limit.
	ErrTooManyOperations = fmt.Errorf("too many batch operations: %w", fault.ErrBatchSizeExceeded)
	// ErrInvalidOperation indicates a malformed leg.
	ErrInvalidOperation = fmt.Errorf("invalid batch operation: %w", fault.ErrValidation)
)

// SettlementError reports a batch that was not fully applied. Err is set when
// the submission itself failed; ResultCode and Inner when the ledger rejected it.
type SettlementError struct {
	BatchID string
	// TxID is the client transaction ID of the submitted container.
	TxID       string
	ResultCode string
	Inner      []ledger.Result
	Err        error
}

// OutcomeUnknown reports whether the container may have been applied: the
// submission failed after it could have reached the ledger.
func (e *SettlementError) OutcomeUnknown() bool {
	if e.Err == nil {
		return false
	}
	return !errors.Is(e.Err, ledger.ErrUnavailable) && !errors.Is(e.Err, fault.ErrValidation)
}

func (e *SettlementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch %s not settled: %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("batch %s not settled: %s", e.BatchID, e.ResultCode)
}

func (e *SettlementError) Unwrap() []error {
	if e.Err != nil {
		return []error{fault.ErrSettlement, e.Err}
	}
	return []error{fault.ErrSettlement}
}

// FailedLegs returns the indexes of inner transactions that failed for a reason
// other than not being applied.
func (e *SettlementError) FailedLegs() []int {
	var out []int
	for i, r := range e.Inner {
		if !r.Accepted && r.ResultCode != ledger.CodeNotApplied {
			out = append(out, i)
		}
	}
	return out
}
