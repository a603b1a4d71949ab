package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/shopspring/decimal"
)

// ProjectService defines project operations needed by MCP.
type ProjectService interface {
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	Get(ctx context.Context, id string) (*project.Project, error)
	List(ctx context.Context, opts project.ListOptions) ([]project.ProjectSummary, error)
	ListInvestments(ctx context.Context, projectID string) ([]project.Investment, error)
	Quote(ctx context.Context, projectID string, principal decimal.Decimal) (project.Quote, error)
	ProcessInvestment(ctx context.Context, req project.InvestRequest) (*project.InvestmentResult, error)
	AchieveMilestone(ctx context.Context, projectID, milestoneID string, ev evidence.Evidence) (*project.MilestoneOutcome, error)
	DistributeRevenue(ctx context.Context, projectID string, revenue decimal.Decimal) (*project.RevenueResult, error)
	CancelProject(ctx context.Context, projectID, reason string) (*project.Project, error)
	Finalize(ctx context.Context, projectID string) (*project.Project, error)
	SweepDeadlines(ctx context.Context) (*project.SweepReport, error)
	ReconcileEscrows(ctx context.Context, projectID string) (*project.ReconcileReport, error)
}

// EscrowService defines escrow operations needed by MCP.
type EscrowService interface {
	ListByProject(ctx context.Context, projectID string) ([]escrow.Escrow, error)
	Refresh(ctx context.Context, escrowID string) (*escrow.Escrow, error)
}

// InvestorWallets provides custodial investor identities.
type InvestorWallets interface {
	EnsureInvestorWallet(ctx context.Context, investorID string) (*wallet.Wallet, error)
	InvestorSigner(ctx context.Context, investorID string) (ledger.Signer, error)
}

// ApprovalService records operator sign-off on milestones.
type ApprovalService interface {
	Approve(ctx context.Context, milestoneID, approver, note string) (*evidence.Approval, error)
	Approvals(ctx context.Context, milestoneID string) ([]evidence.Approval, error)
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	Log(ctx context.Context, entry *activity.ActivityEntry) error
	GetRecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Projects  ProjectService
	Escrows   EscrowService
	Wallets   InvestorWallets
	Approvals ApprovalService
	Activity  ActivityService
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Resolver      OperatorResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	Version       string
	Logger        *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "escrowfund",
		Version: cfg.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio mode: always disable auth (local operator only)
	if cfg.TransportMode == "stdio" || !cfg.AuthEnabled || cfg.Resolver == nil {
		server.AddReceivingMiddleware(noAuthMiddleware(DefaultOperator))
	} else {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services, cfg.Logger)

	return server
}
