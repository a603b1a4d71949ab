package project

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// RevenueResult is a settled revenue distribution.
type RevenueResult struct {
	Distribution Distribution `json:"distribution"`
	BatchID      string       `json:"batch_id"`
	TxRef        string       `json:"tx_ref"`
}

// DistributeRevenue pays revenue held by the project wallet to the platform,
// the creator and every investor holding tokens, in one atomic batch.
func (s *Service) DistributeRevenue(ctx context.Context, projectID string, revenue decimal.Decimal) (*RevenueResult, error) {
	if !revenue.IsPositive() {
		return nil, fmt.Errorf("revenue must be positive: %w", ErrInvalidInput)
	}
	if !revenue.Equal(revenue.Truncate(ledger.Scale)) {
		return nil, fmt.Errorf("revenue has more than %d decimal places: %w", ledger.Scale, ErrInvalidInput)
	}

	var result *RevenueResult
	err := s.withLock(ctx, projectID, func(p *Project) error {
		if p.Status != StatusFunded && p.Status != StatusCompleted {
			return fmt.Errorf("distributing revenue of project %s in %s: %w", p.ID, p.Status, ErrNotActive)
		}

		dist := SplitRevenue(revenue, s.cfg.Split, holdings(p))
		platform, err := s.wallets.GetPlatformWallet(ctx)
		if err != nil {
			return fmt.Errorf("resolving platform wallet: %w", err)
		}

		var ops []batch.Operation
		leg := func(dest string, amount decimal.Decimal) {
			if amount.IsPositive() && dest != p.ProjectWallet {
				ops = append(ops, batch.Operation{Source: p.ProjectWallet, Destination: dest, Amount: amount})
			}
		}
		leg(platform.Address, dist.Platform)
		leg(p.CreatorWallet, dist.Creator)
		for _, payout := range dist.Investors {
			leg(payout.Address, payout.Amount)
		}
		if limit := s.settlement.MaxOperations(); len(ops) > limit {
			return fmt.Errorf("revenue of project %s needs %d legs, limit is %d: %w", p.ID, len(ops), limit, batch.ErrTooManyOperations)
		}

		signer, err := s.wallets.ProjectSigner(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("resolving signer of project %s: %w", p.ID, err)
		}
		batchID := "revenue-" + uuid.NewString()
		settled, err := s.settlement.Execute(context.WithoutCancel(ctx), ops, signer, ledger.ModeAllOrNothing, batch.WithBatchID(batchID))
		if err != nil {
			return fmt.Errorf("distributing revenue of project %s: %w", p.ID, err)
		}

		result = &RevenueResult{Distribution: dist, BatchID: settled.BatchID, TxRef: settled.TxRef}
		s.record(ctx, p, activity.TypeRevenueDistributed, "", "", fmt.Sprintf("Distributed %s revenue to %d investors", revenue, len(dist.Investors)),
			map[string]any{"batch_id": settled.BatchID, "platform": dist.Platform.String(), "creator": dist.Creator.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// holdings aggregates tokens of CONFIRMED investments per investor address.
func holdings(p *Project) []Holding {
	byAddr := make(map[string]int64)
	for _, inv := range p.Investments {
		if inv.Status == InvestmentConfirmed {
			byAddr[inv.InvestorAddress] += inv.TokenAmount
		}
	}
	out := make([]Holding, 0, len(byAddr))
	for addr, tokens := range byAddr {
		out = append(out, Holding{Address: addr, Tokens: tokens})
	}
	return out
}
