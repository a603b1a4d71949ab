package project

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusFunded    Status = "FUNDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusFunded, StatusFailed, StatusCancelled},
	StatusFunded: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a project may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MilestoneStatus is the state of a milestone.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "PENDING"
	MilestoneCompleted MilestoneStatus = "COMPLETED"
)

// InvestmentStatus is the state of an investment.
type InvestmentStatus string

const (
	InvestmentConfirmed InvestmentStatus = "CONFIRMED"
	InvestmentRefunded  InvestmentStatus = "REFUNDED"
	InvestmentFailed    InvestmentStatus = "FAILED"
)

// Project is a funding campaign with ordered milestones.
type Project struct {
	ID                     string                 `json:"id"`
	Name                   string                 `json:"name"`
	Description            string                 `json:"description,omitempty"`
	TargetAmount           decimal.Decimal        `json:"target_amount"`
	CurrentAmount          decimal.Decimal        `json:"current_amount"`
	Status                 Status                 `json:"status"`
	CreatorWallet          string                 `json:"creator_wallet"`
	ProjectWallet          string                 `json:"project_wallet"`
	TokenDefinitionID      string                 `json:"token_definition_id"`
	TokenCode              string                 `json:"token_code"`
	TotalTokenSupply       int64                  `json:"total_token_supply"`
	ReservedPlatformTokens int64                  `json:"reserved_platform_tokens"`
	IssuedTokens           int64                  `json:"issued_tokens"`
	Milestones             []Milestone            `json:"milestones"`
	Investments            map[string]*Investment `json:"investments,omitempty"`
	Deadline               time.Time              `json:"deadline"`
	Version                int64                  `json:"version"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// Milestone gates release of the escrows attached to it.
type Milestone struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Position     int             `json:"position"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	Status       MilestoneStatus `json:"status"`
	Evidence     string          `json:"evidence,omitempty"`
	AchievedAt   *time.Time      `json:"achieved_at,omitempty"`
}

// Investment is a settled contribution to a project.
type Investment struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	InvestorAddress string           `json:"investor_address"`
	PrincipalAmount decimal.Decimal  `json:"principal_amount"`
	PlatformFee     decimal.Decimal  `json:"platform_fee"`
	NetAmount       decimal.Decimal  `json:"net_amount"`
	TokenAmount     int64            `json:"token_amount"`
	Status          InvestmentStatus `json:"status"`
	SettlementTxRef string           `json:"settlement_tx_ref"`
	BatchID         string           `json:"batch_id"`
	EscrowID        string           `json:"escrow_id,omitempty"`
	RefundTxRef     string           `json:"refund_tx_ref,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ProjectSummary is the listing view of a project.
type ProjectSummary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Status          Status          `json:"status"`
	TargetAmount    decimal.Decimal `json:"target_amount"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
	TokenCode       string          `json:"token_code"`
	Deadline        time.Time       `json:"deadline"`
	MilestoneCount  int             `json:"milestone_count"`
	CompletedCount  int             `json:"completed_milestones"`
	InvestmentCount int             `json:"investment_count"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ListOptions filters project listings.
type ListOptions struct {
	Status *Status
	Limit  int
}

// ClaimableMilestone returns the first PENDING milestone, which is claimable
// because every earlier one is COMPLETED. It returns nil when all are completed.
func (p *Project) ClaimableMilestone() *Milestone {
	for i := range p.Milestones {
		if p.Milestones[i].Status == MilestonePending {
			return &p.Milestones[i]
		}
	}
	return nil
}

// Milestone returns the milestone with the given ID.
func (p *Project) Milestone(id string) *Milestone {
	for i := range p.Milestones {
		if p.Milestones[i].ID == id {
			return &p.Milestones[i]
		}
	}
	return nil
}

// AllMilestonesCompleted reports whether every milestone is COMPLETED.
func (p *Project) AllMilestonesCompleted() bool {
	return len(p.Milestones) > 0 && p.ClaimableMilestone() == nil
}

// AvailableTokens is the supply not yet issued nor reserved for the platform.
func (p *Project) AvailableTokens() int64 {
	return p.TotalTokenSupply - p.ReservedPlatformTokens - p.IssuedTokens
}

// ConfirmedTotal sums the principal of CONFIRMED investments.
func (p *Project) ConfirmedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range p.Investments {
		if inv.Status == InvestmentConfirmed {
			total = total.Add(inv.PrincipalAmount)
		}
	}
	return total
}

// Summary builds the listing view of p.
func (p *Project) Summary() ProjectSummary {
	completed := 0
	for _, m := range p.Milestones {
		if m.Status == MilestoneCompleted {
			completed++
		}
	}
	return ProjectSummary{
		ID:              p.ID,
		Name:            p.Name,
		Status:          p.Status,
		TargetAmount:    p.TargetAmount,
		CurrentAmount:   p.CurrentAmount,
		TokenCode:       p.TokenCode,
		Deadline:        p.Deadline,
		MilestoneCount:  len(p.Milestones),
		CompletedCount:  completed,
		InvestmentCount: len(p.Investments),
		CreatedAt:       p.CreatedAt,
	}
}
