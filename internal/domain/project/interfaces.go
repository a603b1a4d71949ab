package project

import (
	"context"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/events"
	"github.com/rpggio/escrowfund/internal/lock"
)

// Repository provides persistence for projects with their milestones and investments.
type Repository interface {
	Create(ctx context.Context, proj *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	// Update writes proj if the stored version equals expectedVersion and
	// advances proj.Version on success.
	Update(ctx context.Context, proj *Project, expectedVersion int64) error
	List(ctx context.Context, opts ListOptions) ([]ProjectSummary, error)
}

// Wallets provisions and resolves ledger identities.
type Wallets interface {
	CreateProjectWallet(ctx context.Context, projectID string) (*wallet.Wallet, error)
	GetPlatformWallet(ctx context.Context) (*wallet.Wallet, error)
	ProjectSigner(ctx context.Context, projectID string) (ledger.Signer, error)
}

// Escrows manages conditional holds on investment principal.
type Escrows interface {
	CreateHold(ctx context.Context, req escrow.HoldRequest) (*escrow.Escrow, error)
	Release(ctx context.Context, escrowID string) (*escrow.Escrow, error)
	Cancel(ctx context.Context, escrowID string, req escrow.CancelRequest) (*escrow.Escrow, error)
	Get(ctx context.Context, escrowID string) (*escrow.Escrow, error)
	ListByMilestone(ctx context.Context, milestoneID string) ([]escrow.Escrow, error)
	ListByProject(ctx context.Context, projectID string) ([]escrow.Escrow, error)
	ListByInvestment(ctx context.Context, investmentID string) ([]escrow.Escrow, error)
	// ResolvePending settles an escrow whose hold creation outcome was not observed.
	ResolvePending(ctx context.Context, escrowID string) (*escrow.Escrow, error)
	ListExpired(ctx context.Context, now time.Time) ([]escrow.Escrow, error)
}

// Settlement executes atomic multi-leg transfers.
type Settlement interface {
	Execute(ctx context.Context, ops []batch.Operation, signer ledger.Signer, mode ledger.Mode, opts ...batch.ExecOption) (batch.Result, error)
	MaxOperations() int
}

// Verifier judges milestone evidence.
type Verifier interface {
	Verify(ctx context.Context, subject evidence.Subject, ev evidence.Evidence) (bool, error)
}

// Activities records state changes in the activity log.
type Activities interface {
	Log(ctx context.Context, entry *activity.ActivityEntry) error
}

// Dependencies bundles the collaborators of Service.
type Dependencies struct {
	Repo       Repository
	Gateway    ledger.Gateway
	Wallets    Wallets
	Escrows    Escrows
	Settlement Settlement
	Verifier   Verifier
	Locker     lock.Locker
	Activities Activities
	Events     events.Publisher
}
