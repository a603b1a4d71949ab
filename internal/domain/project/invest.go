package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// InvestRequest defines investment inputs. Investor co-signs the settlement.
type InvestRequest struct {
	ProjectID string
	Investor  ledger.Signer
	Principal decimal.Decimal
}

// InvestmentResult is the outcome of a settled investment.
type InvestmentResult struct {
	Project    *Project       `json:"project"`
	Investment *Investment    `json:"investment"`
	Quote      Quote          `json:"quote"`
	Escrow     *escrow.Escrow `json:"escrow,omitempty"`
	// EscrowPending is set when settlement succeeded but the hold could not be
	// opened or released yet; ReconcileEscrows finishes the job.
	EscrowPending bool `json:"escrow_pending,omitempty"`
}

// ProcessInvestment settles an investment atomically: the fee to the platform,
// the net amount to the project wallet and the issued tokens to the investor
// move together or not at all. Only after settlement succeeds is the investment
// recorded, the funding total advanced and the net amount placed in escrow.
func (s *Service) ProcessInvestment(ctx context.Context, req InvestRequest) (*InvestmentResult, error) {
	if req.Investor == nil || req.Investor.Address() == "" {
		return nil, fmt.Errorf("investor is required: %w", ErrInvalidInput)
	}
	if !req.Principal.IsPositive() {
		return nil, fmt.Errorf("principal must be positive: %w", ErrInvalidInput)
	}

	var result *InvestmentResult
	err := s.withLock(ctx, req.ProjectID, func(p *Project) error {
		r, err := s.invest(ctx, p, req)
		result = r
		return err
	})
	return result, err
}

func (s *Service) invest(ctx context.Context, p *Project, req InvestRequest) (*InvestmentResult, error) {
	if p.Status != StatusActive {
		if p.Status.Terminal() {
			return nil, fmt.Errorf("investing in project %s: %w", p.ID, ErrTerminal)
		}
		return nil, fmt.Errorf("investing in project %s in %s: %w", p.ID, p.Status, ErrNotActive)
	}
	now := s.now().UTC()
	if !now.Before(p.Deadline) {
		return nil, fmt.Errorf("project %s funding closed at %s: %w", p.ID, p.Deadline, ErrNotActive)
	}
	investor := req.Investor.Address()
	if investor == p.ProjectWallet {
		return nil, fmt.Errorf("project wallet cannot invest in itself: %w", ErrInvalidInput)
	}

	quote, err := QuoteInvestment(req.Principal, p.TargetAmount, p.TotalTokenSupply, s.cfg.Fees.Rate())
	if err != nil {
		return nil, err
	}
	if quote.Tokens < 1 {
		return nil, fmt.Errorf("principal %s buys no whole token at %s: %w", req.Principal, quote.TokenPrice, ErrInsufficientTokens)
	}
	if quote.Tokens > p.AvailableTokens() {
		return nil, fmt.Errorf("%d tokens requested, %d available: %w", quote.Tokens, p.AvailableTokens(), ErrInsufficientTokens)
	}

	platform, err := s.wallets.GetPlatformWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving platform wallet: %w", err)
	}
	projectSigner, err := s.wallets.ProjectSigner(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving signer of project %s: %w", p.ID, err)
	}

	var ops []batch.Operation
	if quote.Fee.IsPositive() {
		ops = append(ops, batch.Operation{Source: investor, Destination: platform.Address, Amount: quote.Fee})
	}
	ops = append(ops,
		batch.Operation{Source: investor, Destination: p.ProjectWallet, Amount: quote.Net},
		batch.Operation{
			Source:      p.ProjectWallet,
			Destination: investor,
			Amount:      decimal.NewFromInt(quote.Tokens),
			Asset:       ledger.Token(p.TokenCode, p.ProjectWallet),
		},
	)

	investmentID := uuid.NewString()
	batchID := "invest-" + investmentID
	settled, err := s.settlement.Execute(context.WithoutCancel(ctx), ops, projectSigner, ledger.ModeAllOrNothing,
		batch.WithBatchID(batchID), batch.WithCoSigners(req.Investor))
	if err != nil {
		var serr *batch.SettlementError
		if errors.As(err, &serr) && serr.OutcomeUnknown() {
			s.logger.Error("investment settlement outcome unknown", "project_id", p.ID, "investor", investor,
				"principal", req.Principal.String(), "batch_id", batchID, "tx_id", serr.TxID, "error", err)
			s.record(ctx, p, activity.TypeSettlementFailed, "", "", fmt.Sprintf("Settlement of %s from %s has an unknown outcome", req.Principal, investor),
				map[string]any{"batch_id": batchID, "tx_id": serr.TxID, "outcome": "unknown", "error": err.Error()})
			return nil, &UnknownSettlementError{ProjectID: p.ID, BatchID: batchID, TxID: serr.TxID, Err: err}
		}
		s.logger.Warn("investment settlement failed", "project_id", p.ID, "investor", investor, "principal", req.Principal.String(), "error", err)
		s.record(ctx, p, activity.TypeSettlementFailed, "", "", fmt.Sprintf("Settlement of %s from %s failed", req.Principal, investor),
			map[string]any{"batch_id": batchID, "error": err.Error()})
		return nil, fmt.Errorf("settling investment in project %s: %w", p.ID, err)
	}

	inv := &Investment{
		ID:              investmentID,
		ProjectID:       p.ID,
		InvestorAddress: investor,
		PrincipalAmount: quote.Principal,
		PlatformFee:     quote.Fee,
		NetAmount:       quote.Net,
		TokenAmount:     quote.Tokens,
		Status:          InvestmentConfirmed,
		SettlementTxRef: settled.TxRef,
		BatchID:         settled.BatchID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Investments == nil {
		p.Investments = make(map[string]*Investment)
	}
	p.Investments[inv.ID] = inv
	p.CurrentAmount = p.CurrentAmount.Add(quote.Principal)
	p.IssuedTokens += quote.Tokens
	funded := false
	if !p.CurrentAmount.LessThan(p.TargetAmount) {
		if err := s.transition(p, StatusFunded); err != nil {
			return nil, err
		}
		funded = true
	}

	if err := s.save(ctx, p); err != nil {
		s.logger.Error("investment settled on ledger but not recorded",
			"project_id", p.ID, "investment_id", inv.ID, "batch_id", settled.BatchID, "tx_ref", settled.TxRef, "error", err)
		return nil, err
	}

	s.record(ctx, p, activity.TypeInvestmentConfirmed, inv.ID, "",
		fmt.Sprintf("Investment of %s confirmed (fee %s, %d tokens)", inv.PrincipalAmount, inv.PlatformFee, inv.TokenAmount),
		map[string]any{"investor": investor, "principal": inv.PrincipalAmount.String(), "fee": inv.PlatformFee.String(),
			"net": inv.NetAmount.String(), "tokens": inv.TokenAmount, "tx_ref": inv.SettlementTxRef})
	if funded {
		s.record(ctx, p, activity.TypeProjectFunded, "", "", fmt.Sprintf("Project funded with %s of %s", p.CurrentAmount, p.TargetAmount), nil)
	}
	s.logger.Info("investment confirmed", "project_id", p.ID, "investment_id", inv.ID, "principal", inv.PrincipalAmount.String(), "tokens", inv.TokenAmount)

	result := &InvestmentResult{Project: p, Investment: inv, Quote: quote}
	e, err := s.openHold(ctx, p, inv)
	if err != nil {
		if errors.Is(err, fault.ErrConditionMismatch) {
			return result, err
		}
		s.logger.Warn("escrow not opened for settled investment", "project_id", p.ID, "investment_id", inv.ID, "error", err)
		result.EscrowPending = true
		return result, nil
	}
	result.Escrow = e
	return result, nil
}

// openHold places a confirmed investment's net amount in escrow against the
// next claimable milestone. When every milestone is already completed the hold
// is keyed to the last milestone and released at once.
func (s *Service) openHold(ctx context.Context, p *Project, inv *Investment) (*escrow.Escrow, error) {
	if len(p.Milestones) == 0 {
		return nil, fmt.Errorf("project %s has no milestones: %w", p.ID, ErrInvalidInput)
	}
	ctx = context.WithoutCancel(ctx)

	m := p.ClaimableMilestone()
	immediate := m == nil
	if immediate {
		m = &p.Milestones[len(p.Milestones)-1]
	}

	e, err := s.escrows.CreateHold(ctx, escrow.HoldRequest{
		InvestmentID: inv.ID,
		ProjectID:    p.ID,
		MilestoneID:  m.ID,
		Destination:  p.CreatorWallet,
		Amount:       inv.NetAmount,
		Deadline:     s.holdDeadline(p, m),
	})
	if err != nil {
		s.record(ctx, p, activity.TypeEscrowFailed, inv.ID, "", "Escrow could not be opened", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("opening escrow for investment %s: %w", inv.ID, err)
	}

	inv.EscrowID = e.ID
	inv.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, p); err != nil {
		s.logger.Error("escrow opened but not attached to investment", "project_id", p.ID, "investment_id", inv.ID, "escrow_id", e.ID, "error", err)
		return nil, err
	}
	s.record(ctx, p, activity.TypeEscrowCreated, inv.ID, e.ID, fmt.Sprintf("Escrow of %s opened for milestone %q", e.Amount, m.Title),
		map[string]any{"milestone_id": m.ID, "hold_ref": e.HoldRef, "deadline": e.Deadline})

	if immediate {
		return s.releaseEscrow(ctx, p, e)
	}
	return e, nil
}

func (s *Service) holdDeadline(p *Project, m *Milestone) (deadline time.Time) {
	now := s.now().UTC()
	if m.Deadline != nil && m.Deadline.After(now) {
		return *m.Deadline
	}
	deadline = p.Deadline.Add(s.cfg.DefaultHold)
	if !deadline.After(now) {
		deadline = now.Add(s.cfg.DefaultHold)
	}
	return deadline
}

// releaseEscrow hands an escrow to the creator.
func (s *Service) releaseEscrow(ctx context.Context, p *Project, e *escrow.Escrow) (*escrow.Escrow, error) {
	released, err := s.escrows.Release(context.WithoutCancel(ctx), e.ID)
	if err != nil {
		s.record(ctx, p, activity.TypeEscrowFailed, e.InvestmentID, e.ID, "Escrow release failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("releasing escrow %s: %w", e.ID, err)
	}
	s.record(ctx, p, activity.TypeEscrowReleased, e.InvestmentID, e.ID, fmt.Sprintf("Escrow of %s released to creator", released.Amount),
		map[string]any{"tx_ref": released.FinishTxRef})
	return released, nil
}

// refund returns a confirmed investment's net amount from the project wallet.
func (s *Service) refund(ctx context.Context, p *Project, inv *Investment, reason string) error {
	if inv.Status != InvestmentConfirmed {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	signer, err := s.wallets.ProjectSigner(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("resolving signer of project %s: %w", p.ID, err)
	}
	tx, err := ledger.NewFundTransfer(p.ProjectWallet, inv.InvestorAddress, inv.NetAmount)
	if err != nil {
		return fmt.Errorf("building refund for investment %s: %w", inv.ID, err)
	}
	// Refund IDs derive from the investment so a refund that was applied is
	// found again instead of being sent twice.
	txID, prior, err := ledger.FindAttempt(ctx, s.gateway, "refund-"+inv.ID)
	if err != nil {
		return fmt.Errorf("looking up refund of investment %s: %w", inv.ID, err)
	}
	if txID == "" {
		return fmt.Errorf("refund of investment %s rejected %d times: %w", inv.ID, ledger.MaxAttempts, fault.ErrGateway)
	}
	tx.TxID = txID
	res := ledger.Result{}
	if prior != nil {
		res = *prior
	} else {
		res, err = s.gateway.Submit(ctx, tx, signer)
		if err != nil {
			return fmt.Errorf("refunding investment %s: %w", inv.ID, err)
		}
	}
	if !res.Accepted {
		return fmt.Errorf("refunding investment %s: %w", inv.ID, ledger.Reject(tx, res))
	}

	inv.Status = InvestmentRefunded
	inv.RefundTxRef = res.TxRef
	inv.UpdatedAt = s.now().UTC()
	p.CurrentAmount = p.CurrentAmount.Sub(inv.PrincipalAmount)
	if err := s.save(ctx, p); err != nil {
		s.logger.Error("refund sent but not recorded", "project_id", p.ID, "investment_id", inv.ID, "tx_ref", res.TxRef, "error", err)
		return err
	}
	s.record(ctx, p, activity.TypeInvestmentRefunded, inv.ID, inv.EscrowID, fmt.Sprintf("Refunded %s to %s: %s", inv.NetAmount, inv.InvestorAddress, reason),
		map[string]any{"tx_ref": res.TxRef, "reason": reason})
	return nil
}

func sortedInvestments(p *Project) []Investment {
	out := make([]Investment, 0, len(p.Investments))
	for _, inv := range p.Investments {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
