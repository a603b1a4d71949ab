package ledger

import (
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
)

var (
	// ErrInvalidTransaction indicates a constructor rejected its inputs.
	ErrInvalidTransaction = fmt.Errorf("invalid transaction: %w", fault.ErrValidation)
	// ErrUnavailable indicates the network could not be reached; nothing was submitted.
	ErrUnavailable = fmt.Errorf("ledger unavailable: %w", fault.ErrGateway)
	// ErrTimeout indicates a submission whose response never arrived.
	ErrTimeout = fmt.Errorf("ledger response timed out: %w", fault.ErrGateway)
	// ErrUnknownOutcome indicates a submission whose outcome could not be reconciled.
	ErrUnknownOutcome = fmt.Errorf("transaction outcome unknown: %w", fault.ErrGateway)
	// ErrFaucetUnavailable indicates the network offers no faucet or it refused.
	ErrFaucetUnavailable = fmt.Errorf("faucet unavailable: %w", fault.ErrGateway)
)

// SubmitError reports a transaction the ledger processed and rejected.
type SubmitError struct {
	Kind       Kind
	TxID       string
	TxRef      string
	ResultCode string
}

// Reject builds a SubmitError for tx from result.
func Reject(tx Tx, result Result) *SubmitError {
	return &SubmitError{Kind: tx.Kind(), TxID: tx.ID(), TxRef: result.TxRef, ResultCode: result.ResultCode}
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s %s rejected: %s", e.Kind, e.TxID, e.ResultCode)
}

func (e *SubmitError) Unwrap() error { return fault.ErrGateway }

// ResultCodeOf extracts the ledger result code from err, if any.
func ResultCodeOf(err error) (string, bool) {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.ResultCode, true
	}
	return "", false
}
