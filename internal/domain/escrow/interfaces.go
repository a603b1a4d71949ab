package escrow

import (
	"context"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
)

// Repository persists escrow records.
type Repository interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// Update writes e if the stored status still equals expected.
	Update(ctx context.Context, e *Escrow, expected Status) error
	ListByMilestone(ctx context.Context, milestoneID string) ([]Escrow, error)
	ListByProject(ctx context.Context, projectID string) ([]Escrow, error)
	ListByInvestment(ctx context.Context, investmentID string) ([]Escrow, error)
	ListActiveDueBy(ctx context.Context, t time.Time) ([]Escrow, error)
}

// SecretStore keeps fulfillments for open escrows. Put must not retain f; the
// caller wipes it once Put returns. Get returns a fresh copy.
type SecretStore interface {
	Put(ctx context.Context, escrowID string, f condition.Fulfillment) error
	Get(ctx context.Context, escrowID string) (condition.Fulfillment, error)
	Delete(ctx context.Context, escrowID string) error
}

// Signers resolves the signing identity of a project's wallet.
type Signers interface {
	ProjectSigner(ctx context.Context, projectID string) (ledger.Signer, error)
}
