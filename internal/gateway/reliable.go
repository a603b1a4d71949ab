// Package gateway wraps a ledger.Gateway with per-call timeouts, retry with
// exponential backoff, outcome reconciliation and tracing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rpggio/escrowfund/internal/gateway"

// Config bounds how the adapter talks to the network.
type Config struct {
	CallTimeout    time.Duration
	MaxAttempts    uint
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		CallTimeout:    10 * time.Second,
		MaxAttempts:    4,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// Reliable is a ledger.Gateway decorator.
type Reliable struct {
	next   ledger.Gateway
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

var _ ledger.Gateway = (*Reliable)(nil)

// Option configures Reliable.
type Option func(*Reliable)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reliable) { r.tracer = tp.Tracer(tracerName) }
}

// New wraps next.
func New(next ledger.Gateway, cfg Config, logger *slog.Logger, opts ...Option) *Reliable {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reliable{next: next, cfg: cfg, logger: logger, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reliable) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffInitial
	b.MaxInterval = r.cfg.BackoffMax
	return b
}

// Connect implements ledger.Gateway.
func (r *Reliable) Connect(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "ledger.connect")
	defer span.End()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
		if err := r.next.Connect(callCtx); err != nil {
			if !errors.Is(err, ledger.ErrUnavailable) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxAttempts))
	if err != nil {
		fail(span, err)
		return fmt.Errorf("connecting to ledger: %w", err)
	}
	return nil
}

// Submit implements ledger.Gateway.
//
// Submissions that fail before reaching the network are retried. A submission
// whose response was lost is reconciled by querying its transaction ID: a
// recorded outcome is returned as is, and an unrecorded one is resubmitted under
// the same ID. When the query itself fails the call returns ErrUnknownOutcome.
func (r *Reliable) Submit(ctx context.Context, tx ledger.Tx, signer ledger.Signer) (ledger.Result, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.submit", trace.WithAttributes(
		attribute.String("ledger.tx.kind", string(tx.Kind())),
		attribute.String("ledger.tx.id", tx.ID()),
		attribute.String("ledger.account", tx.Account()),
	))
	defer span.End()

	attempt := 0
	res, err := backoff.Retry(ctx, func() (ledger.Result, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		res, err := r.next.Submit(callCtx, tx, signer)
		cancel()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ledger.ErrUnavailable) {
			r.logger.Warn("ledger unavailable, retrying", "tx_id", tx.ID(), "kind", tx.Kind(), "attempt", attempt)
			return res, err
		}
		if !ambiguous(err) {
			return res, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(fmt.Errorf("%s %s: %v: %w", tx.Kind(), tx.ID(), err, ledger.ErrUnknownOutcome))
		}

		r.logger.Warn("submission outcome not observed, reconciling", "tx_id", tx.ID(), "kind", tx.Kind(), "attempt", attempt, "error", err)
		state, qerr := r.queryOnce(ctx, ledger.TransactionRef(tx.ID()))
		if qerr != nil {
			return res, backoff.Permanent(fmt.Errorf("reconciling %s %s: %v: %w", tx.Kind(), tx.ID(), qerr, ledger.ErrUnknownOutcome))
		}
		if state.Found && state.Tx != nil {
			return *state.Tx, nil
		}
		return res, ledger.ErrTimeout
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxAttempts))

	span.SetAttributes(attribute.Int("ledger.attempts", attempt))
	if err != nil {
		if errors.Is(err, ledger.ErrTimeout) {
			err = fmt.Errorf("%s %s after %d attempts: %w", tx.Kind(), tx.ID(), attempt, ledger.ErrUnknownOutcome)
		}
		fail(span, err)
		return ledger.Result{}, err
	}
	span.SetAttributes(
		attribute.String("ledger.result_code", res.ResultCode),
		attribute.Bool("ledger.accepted", res.Accepted),
	)
	if !res.Accepted {
		span.SetStatus(codes.Error, res.ResultCode)
	}
	return res, nil
}

// Query implements ledger.Gateway.
func (r *Reliable) Query(ctx context.Context, ref ledger.Ref) (ledger.State, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.query", trace.WithAttributes(
		attribute.String("ledger.ref.kind", string(ref.Kind)),
		attribute.String("ledger.ref.id", ref.ID),
	))
	defer span.End()

	state, err := backoff.Retry(ctx, func() (ledger.State, error) {
		state, err := r.queryOnce(ctx, ref)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) && (ctx.Err() != nil || !ambiguous(err)) {
			return state, backoff.Permanent(err)
		}
		return state, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxAttempts))
	if err != nil {
		fail(span, err)
		return ledger.State{}, fmt.Errorf("querying %s %s: %w", ref.Kind, ref.ID, err)
	}
	span.SetAttributes(attribute.Bool("ledger.found", state.Found))
	return state, nil
}

// Fund implements ledger.Gateway. Faucet credits are not idempotent, so only
// failures before submission are retried.
func (r *Reliable) Fund(ctx context.Context, address string) (decimal.Decimal, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.fund", trace.WithAttributes(
		attribute.String("ledger.account", address),
	))
	defer span.End()

	amount, err := backoff.Retry(ctx, func() (decimal.Decimal, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
		amount, err := r.next.Fund(callCtx, address)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			return amount, backoff.Permanent(err)
		}
		return amount, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxAttempts))
	if err != nil {
		fail(span, err)
		return decimal.Zero, fmt.Errorf("funding %s: %w", address, err)
	}
	span.SetAttributes(attribute.String("ledger.amount", amount.String()))
	return amount, nil
}

func (r *Reliable) queryOnce(ctx context.Context, ref ledger.Ref) (ledger.State, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.next.Query(callCtx, ref)
}

// ambiguous reports whether err means the request may have reached the ledger
// without its response reaching us.
func ambiguous(err error) bool {
	return errors.Is(err, ledger.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
