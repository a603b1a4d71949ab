// Package escrow manages the conditional ledger holds that secure investments
// until a milestone is proven.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/shopspring/decimal"
)

// Config holds escrow settings.
type Config struct {
	// Fee is the network fee paid by the owner when creating a hold.
	Fee decimal.Decimal
}

// Service coordinates escrow creation, release and cancellation.
type Service struct {
	repo       Repository
	secrets    SecretStore
	gateway    ledger.Gateway
	signers    Signers
	conditions condition.Generator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator replaces the condition generator.
func WithGenerator(g condition.Generator) Option {
	return func(s *Service) { s.conditions = g }
}

// NewService creates a new escrow service.
func NewService(repo Repository, secrets SecretStore, gateway ledger.Gateway, signers Signers, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		secrets:    secrets,
		gateway:    gateway,
		signers:    signers,
		conditions: condition.SHA256Generator{},
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HoldRequest defines escrow creation inputs. The owner is the project wallet.
type HoldRequest struct {
	InvestmentID string
	ProjectID    string
	MilestoneID  string
	Destination  string
	Amount       decimal.Decimal
	Deadline     time.Time
}

// CreateHold opens a ledger hold for req and records it as ACTIVE.
//
// The escrow is recorded as PENDING, with its fulfillment stored, before the
// hold is submitted. The hold transaction ID derives from the investment, so
// when the submission outcome is not observed the escrow stays PENDING and a
// later CreateHold for the same investment adopts the applied hold instead of
// opening a second one.
func (s *Service) CreateHold(ctx context.Context, req HoldRequest) (*Escrow, error) {
	if strings.TrimSpace(req.InvestmentID) == "" || strings.TrimSpace(req.ProjectID) == "" ||
		strings.TrimSpace(req.MilestoneID) == "" || strings.TrimSpace(req.Destination) == "" {
		return nil, fmt.Errorf("investment, project, milestone and destination are required: %w", ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	}
	now := s.now()
	if !req.Deadline.After(now) {
		return nil, fmt.Errorf("deadline must be in the future: %w", ErrInvalidInput)
	}

	existing, err := s.repo.ListByInvestment(ctx, req.InvestmentID)
	if err != nil {
		return nil, fmt.Errorf("checking escrows for investment %s: %w", req.InvestmentID, err)
	}
	var pending *Escrow
	for i := range existing {
		switch existing[i].Status {
		case StatusActive:
			return nil, fmt.Errorf("investment %s escrow %s: %w", req.InvestmentID, existing[i].ID, ErrDuplicateEscrow)
		case StatusPending:
			pending = &existing[i]
		}
	}

	owner, err := s.signers.ProjectSigner(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving owner of project %s: %w", req.ProjectID, err)
	}
	if pending != nil {
		s.logger.Info("resuming pending escrow", "escrow_id", pending.ID, "investment_id", pending.InvestmentID)
		return s.openHold(ctx, pending, owner)
	}

	cond, ful, err := s.conditions.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating condition: %w", err)
	}
	defer ful.Wipe()

	if _, err := ledger.NewHoldCreate(owner.Address(), req.Destination, req.Amount, cond, req.Deadline, s.cfg.Fee); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	e := &Escrow{
		ID:           uuid.NewString(),
		InvestmentID: req.InvestmentID,
		ProjectID:    req.ProjectID,
		MilestoneID:  req.MilestoneID,
		Owner:        owner.Address(),
		Destination:  req.Destination,
		Amount:       req.Amount,
		Condition:    cond,
		Deadline:     req.Deadline.UTC(),
		Status:       StatusPending,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if err := s.secrets.Put(ctx, e.ID, ful); err != nil {
		return nil, fmt.Errorf("storing fulfillment: %w", err)
	}
	if err := s.repo.Create(ctx, e); err != nil {
		s.discardSecret(ctx, e.ID)
		return nil, fmt.Errorf("recording escrow %s: %w", e.ID, err)
	}
	return s.openHold(ctx, e, owner)
}

// openHold submits the hold of a PENDING escrow, or adopts the hold when an
// earlier submission was applied. A rejected hold marks the escrow FAILED; an
// unobserved submission leaves it PENDING.
func (s *Service) openHold(ctx context.Context, e *Escrow, owner ledger.Signer) (*Escrow, error) {
	txID, applied, err := ledger.FindAttempt(ctx, s.gateway, holdTxBase(e.InvestmentID))
	if err != nil {
		return nil, fmt.Errorf("creating hold for investment %s: %w", e.InvestmentID, err)
	}
	if applied != nil {
		if err := s.activate(ctx, e, *applied); err != nil {
			return nil, err
		}
		return e, nil
	}
	if txID == "" {
		return nil, s.fail(ctx, e, fmt.Errorf("hold for investment %s rejected %d times: %w", e.InvestmentID, ledger.MaxAttempts, fault.ErrGateway))
	}
	if !s.now().Before(e.Deadline) {
		return nil, s.fail(ctx, e, fmt.Errorf("creating hold for investment %s: %w", e.InvestmentID, ErrDeadlinePassed))
	}

	tx, err := ledger.NewHoldCreate(e.Owner, e.Destination, e.Amount, e.Condition, e.Deadline, s.cfg.Fee)
	if err != nil {
		return nil, s.fail(ctx, e, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	tx.TxID = txID
	res, err := s.gateway.Submit(ctx, tx, owner)
	if err != nil {
		s.logger.Warn("hold outcome not observed, escrow left pending", "escrow_id", e.ID, "investment_id", e.InvestmentID, "tx_id", txID, "error", err)
		return nil, fmt.Errorf("creating hold for investment %s: %w", e.InvestmentID, err)
	}
	if !res.Accepted {
		return nil, s.fail(ctx, e, fmt.Errorf("creating hold for investment %s: %w", e.InvestmentID, ledger.Reject(tx, res)))
	}
	if err := s.activate(ctx, e, res); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolvePending settles a PENDING escrow without submitting anything: an
// applied hold makes it ACTIVE, otherwise it becomes FAILED. Escrows in any
// other status are returned unchanged.
func (s *Service) ResolvePending(ctx context.Context, escrowID string) (*Escrow, error) {
	e, err := s.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return e, nil
	}
	_, applied, err := ledger.FindAttempt(ctx, s.gateway, holdTxBase(e.InvestmentID))
	if err != nil {
		return nil, fmt.Errorf("resolving escrow %s: %w", e.ID, err)
	}
	if applied != nil {
		if err := s.activate(ctx, e, *applied); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := s.markFailed(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Warn("pending escrow abandoned, no hold on ledger", "escrow_id", e.ID, "investment_id", e.InvestmentID)
	return e, nil
}

func (s *Service) activate(ctx context.Context, e *Escrow, res ledger.Result) error {
	e.Status = StatusActive
	e.HoldRef = res.ObjectRef
	e.CreateTxRef = res.TxRef
	e.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, e, StatusPending); err != nil {
		s.logger.Error("hold created on ledger but not recorded", "escrow_id", e.ID, "hold_ref", res.ObjectRef, "error", err)
		return err
	}
	s.logger.Info("escrow created", "escrow_id", e.ID, "investment_id", e.InvestmentID, "milestone_id", e.MilestoneID, "amount", e.Amount, "hold_ref", e.HoldRef)
	return nil
}

// fail records e as FAILED and returns cause.
func (s *Service) fail(ctx context.Context, e *Escrow, cause error) error {
	if err := s.markFailed(ctx, e); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) markFailed(ctx context.Context, e *Escrow) error {
	e.Status = StatusFailed
	e.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, e, StatusPending); err != nil {
		return err
	}
	s.discardSecret(ctx, e.ID)
	return nil
}

// Release finishes the hold by presenting its stored fulfillment. Releasing a
// FINISHED escrow returns it unchanged. The release transaction ID derives from
// the escrow, so a release the ledger already applied is recorded instead of
// being sent again.
func (s *Service) Release(ctx context.Context, escrowID string) (*Escrow, error) {
	e, err := s.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusFinished {
		return e, nil
	}
	if e.Status != StatusActive {
		return nil, fmt.Errorf("releasing escrow %s in %s: %w", e.ID, e.Status, ErrNotActive)
	}

	next, settled, err := s.settleApplied(ctx, e, "hold cancelled on ledger")
	if err != nil {
		return nil, err
	}
	if settled {
		if e.Status != StatusFinished {
			return nil, fmt.Errorf("releasing escrow %s in %s: %w", e.ID, e.Status, ErrNotActive)
		}
		return e, nil
	}
	if next.release == "" {
		return nil, fmt.Errorf("release of escrow %s rejected %d times: %w", e.ID, ledger.MaxAttempts, fault.ErrGateway)
	}
	if !s.now().Before(e.Deadline) {
		return nil, fmt.Errorf("releasing escrow %s: %w", e.ID, ErrDeadlinePassed)
	}

	ful, err := s.secrets.Get(ctx, e.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.mismatch(e, "fulfillment missing")
		}
		return nil, fmt.Errorf("loading fulfillment for escrow %s: %w", e.ID, err)
	}
	defer ful.Wipe()

	if !s.conditions.Verify(e.Condition, ful) {
		return nil, s.mismatch(e, "stored fulfillment does not satisfy condition")
	}

	owner, err := s.signers.ProjectSigner(ctx, e.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving owner of project %s: %w", e.ProjectID, err)
	}
	tx, err := ledger.NewHoldRelease(owner.Address(), e.HoldRef, e.Condition, ful)
	if err != nil {
		return nil, fmt.Errorf("building release for escrow %s: %w", e.ID, err)
	}
	tx.TxID = next.release
	res, err := s.gateway.Submit(ctx, tx, owner)
	if err != nil {
		return nil, fmt.Errorf("releasing escrow %s: %w", e.ID, err)
	}
	if !res.Accepted {
		if res.ResultCode == ledger.CodeCryptoCondition {
			return nil, s.mismatch(e, "ledger rejected fulfillment")
		}
		return nil, fmt.Errorf("releasing escrow %s: %w", e.ID, ledger.Reject(tx, res))
	}
	if err := s.finish(ctx, e, res); err != nil {
		return nil, err
	}
	return e, nil
}

// Cancel returns held funds to the owner. It requires the deadline to have passed
// unless req.Override is set. Cancelling a CANCELLED escrow returns it unchanged.
// Like Release, a cancel the ledger already applied is recorded, not resent.
func (s *Service) Cancel(ctx context.Context, escrowID string, req CancelRequest) (*Escrow, error) {
	e, err := s.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusCancelled {
		return e, nil
	}
	if e.Status != StatusActive {
		return nil, fmt.Errorf("cancelling escrow %s in %s: %w", e.ID, e.Status, ErrNotActive)
	}

	next, settled, err := s.settleApplied(ctx, e, req.Reason)
	if err != nil {
		return nil, err
	}
	if settled {
		if e.Status != StatusCancelled {
			return nil, fmt.Errorf("cancelling escrow %s in %s: %w", e.ID, e.Status, ErrNotActive)
		}
		return e, nil
	}
	if next.cancel == "" {
		return nil, fmt.Errorf("cancel of escrow %s rejected %d times: %w", e.ID, ledger.MaxAttempts, fault.ErrGateway)
	}
	if !req.Override && s.now().Before(e.Deadline) {
		return nil, fmt.Errorf("cancelling escrow %s before %s: %w", e.ID, e.Deadline.Format(time.RFC3339), ErrDeadlineNotReached)
	}

	owner, err := s.signers.ProjectSigner(ctx, e.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving owner of project %s: %w", e.ProjectID, err)
	}
	tx, err := ledger.NewHoldCancel(owner.Address(), e.HoldRef)
	if err != nil {
		return nil, fmt.Errorf("building cancel for escrow %s: %w", e.ID, err)
	}
	tx.TxID = next.cancel
	res, err := s.gateway.Submit(ctx, tx, owner)
	if err == nil && !res.Accepted {
		err = ledger.Reject(tx, res)
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling escrow %s: %w", e.ID, err)
	}
	if err := s.cancelled(ctx, e, res, req.Reason); err != nil {
		return nil, err
	}
	s.logger.Info("escrow cancelled", "escrow_id", e.ID, "project_id", e.ProjectID, "reason", req.Reason, "override", req.Override)
	return e, nil
}

// Refresh reconciles an ACTIVE escrow with the ledger. When the hold no longer
// exists the escrow is recorded as FINISHED or CANCELLED if this service's own
// release or cancel removed it, and as EXPIRED otherwise.
func (s *Service) Refresh(ctx context.Context, escrowID string) (*Escrow, error) {
	e, err := s.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusActive {
		return e, nil
	}
	state, err := s.gateway.Query(ctx, ledger.HoldRef(e.HoldRef))
	if err != nil {
		return nil, fmt.Errorf("querying hold of escrow %s: %w", e.ID, err)
	}
	if state.Found {
		return e, nil
	}

	_, settled, err := s.settleApplied(ctx, e, "hold cancelled on ledger")
	if err != nil {
		return nil, err
	}
	if settled {
		return e, nil
	}

	e.Status = StatusExpired
	e.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, e, StatusActive); err != nil {
		return nil, err
	}
	s.logger.Warn("escrow hold vanished from ledger", "escrow_id", e.ID, "hold_ref", e.HoldRef)
	return e, nil
}

// attempts holds the next unused release and cancel transaction IDs of an escrow.
type attempts struct {
	release string
	cancel  string
}

// settleApplied looks for a release or cancel of e the ledger already accepted
// and, when it finds one, records e as FINISHED or CANCELLED. Otherwise it
// returns the IDs the next release and cancel must be submitted under.
func (s *Service) settleApplied(ctx context.Context, e *Escrow, cancelReason string) (attempts, bool, error) {
	var next attempts
	id, released, err := ledger.FindAttempt(ctx, s.gateway, releaseTxBase(e.ID))
	if err != nil {
		return next, false, fmt.Errorf("looking up release of escrow %s: %w", e.ID, err)
	}
	if released != nil {
		s.logger.Info("escrow release found on ledger", "escrow_id", e.ID, "tx_id", released.TxID)
		return next, true, s.finish(ctx, e, *released)
	}
	next.release = id

	id, cancelled, err := ledger.FindAttempt(ctx, s.gateway, cancelTxBase(e.ID))
	if err != nil {
		return next, false, fmt.Errorf("looking up cancel of escrow %s: %w", e.ID, err)
	}
	if cancelled != nil {
		s.logger.Info("escrow cancel found on ledger", "escrow_id", e.ID, "tx_id", cancelled.TxID)
		return next, true, s.cancelled(ctx, e, *cancelled, cancelReason)
	}
	next.cancel = id
	return next, false, nil
}

func (s *Service) finish(ctx context.Context, e *Escrow, res ledger.Result) error {
	e.Status = StatusFinished
	e.FinishTxRef = res.TxRef
	e.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, e, StatusActive); err != nil {
		return err
	}
	s.discardSecret(ctx, e.ID)
	s.logger.Info("escrow released", "escrow_id", e.ID, "project_id", e.ProjectID, "amount", e.Amount, "tx_ref", e.FinishTxRef)
	return nil
}

func (s *Service) cancelled(ctx context.Context, e *Escrow, res ledger.Result, reason string) error {
	e.Status = StatusCancelled
	e.CancelTxRef = res.TxRef
	e.CancelReason = reason
	e.UpdatedAt = s.now().UTC()
	if err := s.update(ctx, e, StatusActive); err != nil {
		return err
	}
	s.discardSecret(ctx, e.ID)
	return nil
}

func (s *Service) discardSecret(ctx context.Context, escrowID string) {
	if err := s.secrets.Delete(ctx, escrowID); err != nil {
		s.logger.Warn("discarding fulfillment failed", "escrow_id", escrowID, "error", err)
	}
}

func holdTxBase(investmentID string) string { return "hold-" + investmentID }

func releaseTxBase(escrowID string) string { return "release-" + escrowID }

func cancelTxBase(escrowID string) string { return "cancel-" + escrowID }

// Get fetches an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("getting escrow: %w", err)
	}
	return e, nil
}

// ListByMilestone returns the escrows tied to milestoneID.
func (s *Service) ListByMilestone(ctx context.Context, milestoneID string) ([]Escrow, error) {
	return s.repo.ListByMilestone(ctx, milestoneID)
}

// ListByProject returns the escrows of projectID.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Escrow, error) {
	return s.repo.ListByProject(ctx, projectID)
}

// ListByInvestment returns the escrows of investmentID.
func (s *Service) ListByInvestment(ctx context.Context, investmentID string) ([]Escrow, error) {
	return s.repo.ListByInvestment(ctx, investmentID)
}

// ListExpired returns ACTIVE escrows whose deadline is at or before now.
func (s *Service) ListExpired(ctx context.Context, now time.Time) ([]Escrow, error) {
	return s.repo.ListActiveDueBy(ctx, now)
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) update(ctx context.Context, e *Escrow, expected Status) error {
	if err := s.repo.Update(ctx, e, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("escrow %s changed concurrently: %w", e.ID, ErrNotActive)
		}
		return fmt.Errorf("updating escrow %s: %w", e.ID, err)
	}
	return nil
}

func (s *Service) mismatch(e *Escrow, reason string) error {
	s.logger.Error("escrow condition mismatch", "escrow_id", e.ID, "project_id", e.ProjectID, "milestone_id", e.MilestoneID, "reason", reason)
	return &ConditionMismatchError{EscrowID: e.ID, ProjectID: e.ProjectID, Reason: reason}
}
