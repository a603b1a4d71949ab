package activity

import "time"

// ActivityType represents the type of activity event
type ActivityType string

const (
	TypeProjectCreated      ActivityType = "project_created"
	TypeProjectFunded       ActivityType = "project_funded"
	TypeProjectCompleted    ActivityType = "project_completed"
	TypeProjectFailed       ActivityType = "project_failed"
	TypeProjectCancelled    ActivityType = "project_cancelled"
	TypeInvestmentConfirmed ActivityType = "investment_confirmed"
	TypeInvestmentRefunded  ActivityType = "investment_refunded"
	TypeSettlementFailed    ActivityType = "settlement_failed"
	TypeEscrowCreated       ActivityType = "escrow_created"
	TypeEscrowReleased      ActivityType = "escrow_released"
	TypeEscrowCancelled     ActivityType = "escrow_cancelled"
	TypeEscrowFailed        ActivityType = "escrow_failed"
	TypeMilestoneApproved   ActivityType = "milestone_approved"
	TypeMilestoneAchieved   ActivityType = "milestone_achieved"
	TypeRevenueDistributed  ActivityType = "revenue_distributed"
)

// ActivityEntry represents an event in the activity log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	ProjectID    string       `json:"project_id"`
	InvestmentID *string      `json:"investment_id,omitempty"`
	EscrowID     *string      `json:"escrow_id,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
}
