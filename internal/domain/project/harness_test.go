package project_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/memledger"
	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc        *project.Service
	mem        *memledger.Ledger
	wallets    *wallet.Registry
	escrows    *escrow.Service
	approvals  *evidence.ManualApproval
	activities *activity.Service
	clock      *clock
	creator    string
	deps       project.Dependencies
}

type harnessConfig struct {
	maxOps        int
	escrowGateway func(ledger.Gateway) ledger.Gateway
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := memledger.New(memledger.WithClock(clk.Now), memledger.WithFaucet(decimal.NewFromInt(100000)))
	db := sqlite.NewTestDB(t)

	reg := wallet.NewRegistry(sqlite.NewWalletRepository(db), mem, wallet.Config{}, nil)
	_, err := reg.InitializePlatformWallet(ctx, bytes.Repeat([]byte{9}, wallet.MinSeedSize))
	require.NoError(t, err)

	key, err := sqlite.NewSealKey()
	require.NoError(t, err)
	secrets, err := sqlite.NewSecretStore(db, key)
	require.NoError(t, err)
	var escrowGateway ledger.Gateway = mem
	if cfg.escrowGateway != nil {
		escrowGateway = cfg.escrowGateway(mem)
	}
	esc := escrow.NewService(sqlite.NewEscrowRepository(db), secrets, escrowGateway, reg, escrow.Config{}, nil, escrow.WithClock(clk.Now))

	projectRepo := sqlite.NewProjectRepository(db)
	approvals := evidence.NewManualApproval(sqlite.NewApprovalRepository(db), projectRepo, 1)
	verifier := evidence.NewRegistry()
	verifier.Register(evidence.KindManualApproval, approvals)

	activities := activity.NewService(sqlite.NewActivityRepository(db), nil)

	deps := project.Dependencies{
		Repo:       projectRepo,
		Gateway:    mem,
		Wallets:    reg,
		Escrows:    esc,
		Settlement: batch.NewOrchestrator(mem, cfg.maxOps, nil),
		Verifier:   verifier,
		Activities: activities,
	}

	return &harness{
		svc:        project.NewService(deps, project.DefaultConfig(), nil, project.WithClock(clk.Now)),
		deps:       deps,
		mem:        mem,
		wallets:    reg,
		escrows:    esc,
		approvals:  approvals,
		activities: activities,
		clock:      clk,
		creator:    newSigner(t).Address(),
	}
}

// rebuild returns a service over the same stores using verifier.
func (h *harness) rebuild(t *testing.T, verifier project.Verifier) *project.Service {
	t.Helper()
	deps := h.deps
	deps.Verifier = verifier
	return project.NewService(deps, project.DefaultConfig(), nil, project.WithClock(h.clock.Now))
}

func withBatchLimit(n int) func(*harnessConfig) {
	return func(c *harnessConfig) { c.maxOps = n }
}

// withEscrowGateway routes escrow submissions through wrap(ledger).
func withEscrowGateway(wrap func(ledger.Gateway) ledger.Gateway) func(*harnessConfig) {
	return func(c *harnessConfig) { c.escrowGateway = wrap }
}

// lostHoldResponses applies the first hold creation and then reports its
// outcome as unknown.
func lostHoldResponses(gw ledger.Gateway) ledger.Gateway {
	return &lossyGateway{Gateway: gw, kind: ledger.KindHoldCreate, lose: 1}
}

type lossyGateway struct {
	ledger.Gateway
	kind ledger.Kind

	mu   sync.Mutex
	lose int
}

func (g *lossyGateway) Submit(ctx context.Context, tx ledger.Tx, signer ledger.Signer) (ledger.Result, error) {
	res, err := g.Gateway.Submit(ctx, tx, signer)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil && tx.Kind() == g.kind && g.lose > 0 {
		g.lose--
		return ledger.Result{}, ledger.ErrUnknownOutcome
	}
	return res, err
}

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return ledger.NewKeySigner(priv)
}

// investor returns a signer funded with the faucet amount.
func (h *harness) investor(t *testing.T) *ledger.KeySigner {
	t.Helper()
	s := newSigner(t)
	_, err := h.mem.Fund(context.Background(), s.Address())
	require.NoError(t, err)
	return s
}

// createProject creates a 10000 target project with a 1000 token supply and
// two milestones, due in 30 days.
func (h *harness) createProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := h.svc.CreateProject(context.Background(), project.CreateRequest{
		Name:          "Solar Farm",
		Description:   "Community solar array",
		TargetAmount:  d("10000"),
		Deadline:      h.clock.Now().Add(30 * 24 * time.Hour),
		CreatorWallet: h.creator,
		TokenCode:     "SUN",
		TotalTokens:   1000,
		Milestones: []project.MilestoneInput{
			{Title: "Permits", TargetAmount: d("4000")},
			{Title: "Installation", TargetAmount: d("6000")},
		},
	})
	require.NoError(t, err)
	return p
}

func (h *harness) invest(t *testing.T, projectID string, investor ledger.Signer, principal string) *project.InvestmentResult {
	t.Helper()
	res, err := h.svc.ProcessInvestment(context.Background(), project.InvestRequest{
		ProjectID: projectID,
		Investor:  investor,
		Principal: d(principal),
	})
	require.NoError(t, err)
	return res
}

// achieve approves and claims a milestone.
func (h *harness) achieve(t *testing.T, projectID, milestoneID string) *project.MilestoneOutcome {
	t.Helper()
	ctx := context.Background()
	_, err := h.approvals.Approve(ctx, milestoneID, "ops", "verified on site")
	require.NoError(t, err)
	out, err := h.svc.AchieveMilestone(ctx, projectID, milestoneID, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.NoError(t, err)
	return out
}

func (h *harness) activityTypes(t *testing.T, projectID string) []activity.ActivityType {
	t.Helper()
	entries, err := h.activities.GetRecentActivity(context.Background(), activity.ListActivityOptions{ProjectID: projectID, Limit: 100})
	require.NoError(t, err)
	types := make([]activity.ActivityType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.ActivityType)
	}
	return types
}
