package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/project"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
	err          error
}

func (e *APIError) Error() string {
	if e.RecoveryHint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// MapError maps domain errors to MCP error codes. Errors outside the fault
// classes are returned as INTERNAL.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	e := &APIError{Message: err.Error(), err: err}
	var settlement *batch.SettlementError
	var submit *ledger.SubmitError
	var verification *project.MilestoneVerificationError
	var unknownSettlement *project.UnknownSettlementError
	switch {
	case errors.Is(err, fault.ErrConditionMismatch):
		e.Code = "CONDITION_MISMATCH"
		e.RecoveryHint = "escrow requires operator review; do not retry"
	case errors.As(err, &verification):
		e.Code = "MILESTONE_NOT_VERIFIED"
		e.Details = map[string]string{"milestone_id": verification.MilestoneID, "reason": verification.Reason}
		e.RecoveryHint = "submit new evidence"
	case errors.As(err, &unknownSettlement):
		e.Code = "UNKNOWN_OUTCOME"
		e.Details = map[string]string{"batch_id": unknownSettlement.BatchID, "tx_id": unknownSettlement.TxID}
		e.RecoveryHint = "funds may have moved; look up the transaction before retrying the investment"
	case errors.Is(err, ledger.ErrUnknownOutcome), errors.As(err, &settlement) && settlement.OutcomeUnknown():
		e.Code = "UNKNOWN_OUTCOME"
		if errors.As(err, &settlement) {
			e.Details = map[string]string{"batch_id": settlement.BatchID, "tx_id": settlement.TxID}
		}
		e.RecoveryHint = "run reconcile_escrows before retrying"
	case errors.Is(err, fault.ErrBatchSizeExceeded):
		e.Code = "BATCH_SIZE_EXCEEDED"
	case errors.As(err, &settlement):
		e.Code = "SETTLEMENT_FAILED"
		e.Details = map[string]any{"batch_id": settlement.BatchID, "result_code": settlement.ResultCode, "failed_legs": settlement.FailedLegs()}
		e.RecoveryHint = "no funds moved; the investment may be retried"
	case errors.Is(err, fault.ErrSettlement):
		e.Code = "SETTLEMENT_FAILED"
	case errors.As(err, &submit):
		e.Code = "LEDGER_REJECTED"
		e.Details = map[string]string{"kind": string(submit.Kind), "result_code": submit.ResultCode, "tx_ref": submit.TxRef}
	case errors.Is(err, fault.ErrGateway):
		e.Code = "GATEWAY_ERROR"
		e.RecoveryHint = "retry later"
	case errors.Is(err, project.ErrProjectNotFound):
		e.Code = "PROJECT_NOT_FOUND"
		e.RecoveryHint = "check the project id"
	case errors.Is(err, project.ErrMilestoneNotFound):
		e.Code = "MILESTONE_NOT_FOUND"
	case errors.Is(err, escrow.ErrEscrowNotFound):
		e.Code = "ESCROW_NOT_FOUND"
	case errors.Is(err, fault.ErrNotFound):
		e.Code = "NOT_FOUND"
	case errors.Is(err, evidence.ErrAlreadyApproved):
		e.Code = "ALREADY_APPROVED"
	case errors.Is(err, project.ErrTerminal):
		e.Code = "PROJECT_TERMINAL"
	case errors.Is(err, project.ErrConcurrentUpdate):
		e.Code = "CONFLICT"
		e.RecoveryHint = "reload the project and retry"
	case errors.Is(err, fault.ErrInvalidState):
		e.Code = "INVALID_STATE"
	case errors.Is(err, fault.ErrValidation):
		e.Code = "VALIDATION_ERROR"
	default:
		e.Code = "INTERNAL"
		e.Message = "internal error"
	}
	return e
}

// invalidParam reports malformed tool arguments.
func invalidParam(name string, err error) *APIError {
	return &APIError{
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("invalid %s: %v", name, err),
		err:     fmt.Errorf("%s: %w", name, fault.ErrValidation),
	}
}
