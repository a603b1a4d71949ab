// Package batch composes multi-leg settlements into one atomic ledger submission.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// DefaultMaxOperations is the largest batch accepted unless configured otherwise.
const DefaultMaxOperations = 10

// Operation is one leg of a batch.
type Operation struct {
	Source      string
	Destination string
	Amount      decimal.Decimal
	Asset       ledger.Asset
}

// Result describes a fully applied batch.
type Result struct {
	BatchID    string
	Mode       ledger.Mode
	TxRef      string
	Ledger     ledger.Result
	Operations []Operation
}

// Orchestrator submits batches through a ledger gateway and remembers successful ones.
type Orchestrator struct {
	gateway ledger.Gateway
	maxOps  int
	logger  *slog.Logger

	mu        sync.Mutex
	completed map[string]Result
}

// NewOrchestrator creates an Orchestrator. maxOps <= 0 selects DefaultMaxOperations.
func NewOrchestrator(gateway ledger.Gateway, maxOps int, logger *slog.Logger) *Orchestrator {
	if maxOps <= 0 {
		maxOps = DefaultMaxOperations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gateway: gateway, maxOps: maxOps, logger: logger, completed: make(map[string]Result)}
}

// MaxOperations returns the configured batch size limit.
func (o *Orchestrator) MaxOperations() int {
	return o.maxOps
}

type execOptions struct {
	batchID   string
	coSigners []ledger.Signer
}

// ExecOption customizes a single Execute call.
type ExecOption func(*execOptions)

// WithBatchID sets the batch ID used for idempotent lookup.
func WithBatchID(id string) ExecOption {
	return func(o *execOptions) { o.batchID = id }
}

// WithCoSigners adds signers for legs sourced from accounts other than the submitter.
func WithCoSigners(signers ...ledger.Signer) ExecOption {
	return func(o *execOptions) { o.coSigners = append(o.coSigners, signers...) }
}

// Execute validates ops and submits them as one atomic container signed by signer.
// It succeeds only when the container and each inner transaction were accepted.
// Re-executing a batch ID that already succeeded returns the recorded result.
func (o *Orchestrator) Execute(ctx context.Context, ops []Operation, signer ledger.Signer, mode ledger.Mode, opts ...ExecOption) (Result, error) {
	options := execOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.batchID == "" {
		options.batchID = uuid.NewString()
	}
	if prior, ok := o.Lookup(options.batchID); ok {
		return prior, nil
	}

	if len(ops) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if len(ops) > o.maxOps {
		return Result{}, fmt.Errorf("%d operations, limit %d: %w", len(ops), o.maxOps, ErrTooManyOperations)
	}
	if signer == nil {
		return Result{}, fmt.Errorf("signer is required: %w", ErrInvalidOperation)
	}
	if !mode.Valid() {
		return Result{}, fmt.Errorf("unknown mode %q: %w", mode, ErrInvalidOperation)
	}

	legs := make([]ledger.Tx, 0, len(ops))
	for i, op := range ops {
		leg, err := buildLeg(op)
		if err != nil {
			return Result{}, fmt.Errorf("operation %d: %w", i, err)
		}
		legs = append(legs, leg)
	}
	container, err := ledger.NewAtomicContainer(signer.Address(), mode, legs)
	if err != nil {
		return Result{}, fmt.Errorf("building container: %w", err)
	}
	for _, co := range options.coSigners {
		if co.Address() == signer.Address() {
			continue
		}
		container, err = ledger.CoSign(container, co)
		if err != nil {
			return Result{}, err
		}
	}

	res, err := o.gateway.Submit(ctx, container, signer)
	if err != nil {
		o.logger.Error("batch submission failed", "batch_id", options.batchID, "tx_id", container.ID(), "legs", len(legs), "error", err)
		return Result{}, &SettlementError{BatchID: options.batchID, TxID: container.ID(), Err: err}
	}
	if !res.AllAccepted() {
		o.logger.Warn("batch not fully applied", "batch_id", options.batchID, "result_code", res.ResultCode)
		return Result{}, &SettlementError{BatchID: options.batchID, TxID: container.ID(), ResultCode: res.ResultCode, Inner: res.Inner}
	}

	out := Result{
		BatchID:    options.batchID,
		Mode:       mode,
		TxRef:      res.TxRef,
		Ledger:     res,
		Operations: append([]Operation(nil), ops...),
	}
	o.mu.Lock()
	o.completed[out.BatchID] = out
	o.mu.Unlock()

	o.logger.Info("batch settled", "batch_id", out.BatchID, "tx_ref", out.TxRef, "legs", len(legs), "mode", mode)
	return out, nil
}

// Lookup returns the recorded result of a batch that succeeded in this process.
func (o *Orchestrator) Lookup(batchID string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.completed[batchID]
	return res, ok
}

func buildLeg(op Operation) (ledger.Tx, error) {
	if strings.TrimSpace(op.Source) == "" || strings.TrimSpace(op.Destination) == "" {
		return nil, fmt.Errorf("source and destination are required: %w", ErrInvalidOperation)
	}
	if !op.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidOperation)
	}
	if op.Asset.Native() {
		return ledger.NewFundTransfer(op.Source, op.Destination, op.Amount)
	}
	if !op.Amount.IsInteger() || op.Amount.GreaterThan(decimal.NewFromInt(maxTokenAmount)) {
		return nil, fmt.Errorf("token amount %s must be a whole number: %w", op.Amount, ErrInvalidOperation)
	}
	return ledger.NewTokenTransfer(op.Source, op.Destination, op.Asset, op.Amount.IntPart())
}

const maxTokenAmount = 1<<63 - 1
