package project

import (
	"fmt"
	"sort"

	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// Stage selects the investment fee rate.
type Stage string

const (
	StageEarly  Stage = "early"
	StageGrowth Stage = "growth"
)

// FeeConfig holds the platform's investment fee schedule.
type FeeConfig struct {
	Stage      Stage
	EarlyRate  decimal.Decimal
	GrowthRate decimal.Decimal
	// PlatformTokenShare is the fraction of each token supply reserved for the platform.
	PlatformTokenShare decimal.Decimal
}

// DefaultFees returns 5% early-stage, 3% growth-stage and a 2% token reserve.
func DefaultFees() FeeConfig {
	return FeeConfig{
		Stage:              StageEarly,
		EarlyRate:          decimal.RequireFromString("0.05"),
		GrowthRate:         decimal.RequireFromString("0.03"),
		PlatformTokenShare: decimal.RequireFromString("0.02"),
	}
}

// Rate returns the fee rate of the configured stage.
func (f FeeConfig) Rate() decimal.Decimal {
	if f.Stage == StageGrowth {
		return f.GrowthRate
	}
	return f.EarlyRate
}

// Validate checks that rates lie in [0, 1).
func (f FeeConfig) Validate() error {
	one := decimal.NewFromInt(1)
	for name, r := range map[string]decimal.Decimal{
		"early rate":           f.EarlyRate,
		"growth rate":          f.GrowthRate,
		"platform token share": f.PlatformTokenShare,
	} {
		if r.IsNegative() || !r.LessThan(one) {
			return fmt.Errorf("%s %s must be in [0, 1): %w", name, r, ErrInvalidInput)
		}
	}
	if f.Stage != StageEarly && f.Stage != StageGrowth {
		return fmt.Errorf("unknown fee stage %q: %w", f.Stage, ErrInvalidInput)
	}
	return nil
}

// ReservedTokens is the part of supply withheld from investors.
func (f FeeConfig) ReservedTokens(supply int64) int64 {
	return decimal.NewFromInt(supply).Mul(f.PlatformTokenShare).Floor().IntPart()
}

// Quote is the breakdown of one investment.
type Quote struct {
	Principal  decimal.Decimal `json:"principal"`
	Fee        decimal.Decimal `json:"fee"`
	Net        decimal.Decimal `json:"net"`
	TokenPrice decimal.Decimal `json:"token_price"`
	Tokens     int64           `json:"tokens"`
}

// QuoteInvestment computes fee, net and whole tokens for principal:
// tokens = floor(net / (target / supply)), evaluated as floor(net * supply / target).
func QuoteInvestment(principal, target decimal.Decimal, supply int64, rate decimal.Decimal) (Quote, error) {
	if !principal.IsPositive() {
		return Quote{}, fmt.Errorf("principal must be positive: %w", ErrInvalidInput)
	}
	if !principal.Equal(principal.Truncate(ledger.Scale)) {
		return Quote{}, fmt.Errorf("principal has more than %d decimal places: %w", ledger.Scale, ErrInvalidInput)
	}
	if !target.IsPositive() || supply <= 0 {
		return Quote{}, fmt.Errorf("target and supply must be positive: %w", ErrInvalidInput)
	}

	fee := principal.Mul(rate).Round(ledger.Scale)
	net := principal.Sub(fee)
	tokens, _ := net.Mul(decimal.NewFromInt(supply)).QuoRem(target, 0)

	return Quote{
		Principal:  principal,
		Fee:        fee,
		Net:        net,
		TokenPrice: target.Div(decimal.NewFromInt(supply)),
		Tokens:     tokens.IntPart(),
	}, nil
}

// RevenueSplit is the platform/creator/investor division of revenue.
type RevenueSplit struct {
	Platform decimal.Decimal
	Creator  decimal.Decimal
	Investor decimal.Decimal
}

// DefaultSplit returns 5% platform, 15% creator and 80% investors.
func DefaultSplit() RevenueSplit {
	return RevenueSplit{
		Platform: decimal.RequireFromString("0.05"),
		Creator:  decimal.RequireFromString("0.15"),
		Investor: decimal.RequireFromString("0.80"),
	}
}

// Validate checks that the shares are non-negative and sum to one.
func (s RevenueSplit) Validate() error {
	if s.Platform.IsNegative() || s.Creator.IsNegative() || s.Investor.IsNegative() {
		return fmt.Errorf("revenue shares must not be negative: %w", ErrInvalidInput)
	}
	if sum := s.Platform.Add(s.Creator).Add(s.Investor); !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("revenue shares sum to %s, want 1: %w", sum, ErrInvalidInput)
	}
	return nil
}

// Holding is the token position of one investor.
type Holding struct {
	Address string
	Tokens  int64
}

// Payout is one investor's revenue share.
type Payout struct {
	Address string          `json:"address"`
	Tokens  int64           `json:"tokens"`
	Amount  decimal.Decimal `json:"amount"`
}

// Distribution is the computed division of a revenue amount.
type Distribution struct {
	Revenue   decimal.Decimal `json:"revenue"`
	Platform  decimal.Decimal `json:"platform"`
	Creator   decimal.Decimal `json:"creator"`
	Investors []Payout        `json:"investors"`
}

// SplitRevenue divides revenue by split, sharing the investor pool in proportion
// to token holdings. Every share is truncated to the ledger scale and the
// remainder goes to the creator, so the legs sum exactly to revenue.
func SplitRevenue(revenue decimal.Decimal, split RevenueSplit, holdings []Holding) Distribution {
	d := Distribution{Revenue: revenue}
	d.Platform = revenue.Mul(split.Platform).Truncate(ledger.Scale)
	pool := revenue.Mul(split.Investor).Truncate(ledger.Scale)

	var total int64
	for _, h := range holdings {
		total += h.Tokens
	}

	paid := decimal.Zero
	if total > 0 {
		sorted := append([]Holding(nil), holdings...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })
		for _, h := range sorted {
			if h.Tokens <= 0 {
				continue
			}
			amount := pool.Mul(decimal.NewFromInt(h.Tokens)).Div(decimal.NewFromInt(total)).Truncate(ledger.Scale)
			d.Investors = append(d.Investors, Payout{Address: h.Address, Tokens: h.Tokens, Amount: amount})
			paid = paid.Add(amount)
		}
	}

	d.Creator = revenue.Sub(d.Platform).Sub(paid)
	return d
}
