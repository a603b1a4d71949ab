package escrow

import (
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an escrow.
type Status string

const (
	// StatusPending marks an escrow whose hold was submitted but not yet
	// observed on the ledger. Its fulfillment is kept until the outcome is known.
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	// StatusFailed marks an escrow whose hold the ledger never opened.
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusExpired || s == StatusFailed
}

// Escrow is a conditional ledger hold securing one investment's net amount.
// The fulfillment is kept in a SecretStore, never on this record.
type Escrow struct {
	ID           string              `json:"id"`
	InvestmentID string              `json:"investment_id"`
	ProjectID    string              `json:"project_id"`
	MilestoneID  string              `json:"milestone_id"`
	Owner        string              `json:"owner"`
	Destination  string              `json:"destination"`
	Amount       decimal.Decimal     `json:"amount"`
	Condition    condition.Condition `json:"condition"`
	HoldRef      string              `json:"hold_ref"`
	CreateTxRef  string              `json:"create_tx_ref"`
	FinishTxRef  string              `json:"finish_tx_ref,omitempty"`
	CancelTxRef  string              `json:"cancel_tx_ref,omitempty"`
	Deadline     time.Time           `json:"deadline"`
	Status       Status              `json:"status"`
	CancelReason string              `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// EffectiveStatus reports EXPIRED for an active escrow whose deadline has passed.
func (e *Escrow) EffectiveStatus(now time.Time) Status {
	if e.Status == StatusActive && !now.Before(e.Deadline) {
		return StatusExpired
	}
	return e.Status
}

// CancelRequest describes why an escrow is being cancelled.
type CancelRequest struct {
	Reason string
	// Override allows cancellation before the deadline.
	Override bool
}
