package project_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/repository/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateProject(t *testing.T) {
	h := newHarness(t)
	p := h.createProject(t)

	require.Equal(t, project.StatusActive, p.Status)
	require.Equal(t, int64(20), p.ReservedPlatformTokens)
	require.Equal(t, int64(980), p.AvailableTokens())
	require.Equal(t, ledger.Token("SUN", p.ProjectWallet).String(), p.TokenDefinitionID)
	require.Len(t, p.Milestones, 2)
	require.Equal(t, 0, p.Milestones[0].Position)
	require.Equal(t, project.MilestonePending, p.Milestones[1].Status)

	got, err := h.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ProjectWallet, got.ProjectWallet)
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeProjectCreated)
}

func TestCreateProject_ValidatesBeforeLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := project.CreateRequest{
		Name:          "Bad",
		TargetAmount:  d("100"),
		Deadline:      h.clock.Now().Add(time.Hour),
		CreatorWallet: h.creator,
		TokenCode:     "BAD",
		TotalTokens:   100,
		Milestones:    []project.MilestoneInput{{Title: "Only", TargetAmount: d("100")}},
	}

	tests := []struct {
		name   string
		mutate func(*project.CreateRequest)
	}{
		{name: "lower case token", mutate: func(r *project.CreateRequest) { r.TokenCode = "bad" }},
		{name: "no milestones", mutate: func(r *project.CreateRequest) { r.Milestones = nil }},
		{name: "milestones exceed target", mutate: func(r *project.CreateRequest) { r.Milestones[0].TargetAmount = d("101") }},
		{name: "past deadline", mutate: func(r *project.CreateRequest) { r.Deadline = h.clock.Now().Add(-time.Minute) }},
		{name: "zero target", mutate: func(r *project.CreateRequest) { r.TargetAmount = decimal.Zero }},
		{name: "no supply", mutate: func(r *project.CreateRequest) { r.TotalTokens = 0 }},
		{name: "no creator", mutate: func(r *project.CreateRequest) { r.CreatorWallet = " " }},
	}

	before := h.mem.Submissions()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Milestones = append([]project.MilestoneInput(nil), base.Milestones...)
			tt.mutate(&req)
			_, err := h.svc.CreateProject(ctx, req)
			require.ErrorIs(t, err, project.ErrInvalidInput)
			require.ErrorIs(t, err, fault.ErrValidation)
		})
	}
	require.Equal(t, before, h.mem.Submissions())

	list, err := h.svc.List(ctx, project.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateProject_TokenRejectedPersistsNothing(t *testing.T) {
	h := newHarness(t)
	h.mem.FailWhen(func(tx ledger.Tx) string {
		if tx.Kind() == ledger.KindTokenDefinition {
			return ledger.CodeDuplicateToken
		}
		return ""
	})

	_, err := h.svc.CreateProject(context.Background(), project.CreateRequest{
		Name:          "Dup",
		TargetAmount:  d("100"),
		Deadline:      h.clock.Now().Add(time.Hour),
		CreatorWallet: h.creator,
		TokenCode:     "DUP",
		TotalTokens:   100,
		Milestones:    []project.MilestoneInput{{Title: "Only", TargetAmount: d("100")}},
	})
	require.Error(t, err)

	list, err := h.svc.List(context.Background(), project.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestProcessInvestment_SettlesAndEscrows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	platform, err := h.wallets.GetPlatformWallet(ctx)
	require.NoError(t, err)
	platformBefore := h.mem.Balance(platform.Address)
	projectBefore := h.mem.Balance(p.ProjectWallet)

	res := h.invest(t, p.ID, inv, "1000")

	require.True(t, d("50").Equal(res.Quote.Fee))
	require.True(t, d("950").Equal(res.Quote.Net))
	require.Equal(t, int64(95), res.Quote.Tokens)
	require.Equal(t, project.InvestmentConfirmed, res.Investment.Status)
	require.NotEmpty(t, res.Investment.SettlementTxRef)
	require.False(t, res.EscrowPending)

	// Fee to the platform, tokens to the investor, net held for the first milestone.
	require.True(t, d("99000").Equal(h.mem.Balance(inv.Address())))
	require.True(t, platformBefore.Add(d("50")).Equal(h.mem.Balance(platform.Address)))
	require.True(t, projectBefore.Equal(h.mem.Balance(p.ProjectWallet)))
	require.Equal(t, int64(95), h.mem.TokenBalance(inv.Address(), ledger.Token("SUN", p.ProjectWallet)))
	require.Equal(t, 1, h.mem.OpenHolds())

	require.NotNil(t, res.Escrow)
	require.Equal(t, escrow.StatusActive, res.Escrow.Status)
	require.Equal(t, p.Milestones[0].ID, res.Escrow.MilestoneID)
	require.True(t, d("950").Equal(res.Escrow.Amount))
	require.Equal(t, h.creator, res.Escrow.Destination)

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, d("1000").Equal(got.CurrentAmount))
	require.Equal(t, int64(95), got.IssuedTokens)
	require.Equal(t, project.StatusActive, got.Status)
	require.Equal(t, res.Escrow.ID, got.Investments[res.Investment.ID].EscrowID)

	types := h.activityTypes(t, p.ID)
	require.Contains(t, types, activity.TypeInvestmentConfirmed)
	require.Contains(t, types, activity.TypeEscrowCreated)
}

func TestProcessInvestment_SettlementFailureChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)

	h.mem.FailWhen(func(tx ledger.Tx) string {
		if tx.Kind() == ledger.KindTokenTransfer {
			return ledger.CodeUnfunded
		}
		return ""
	})

	_, err := h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("1000")})
	require.ErrorIs(t, err, fault.ErrSettlement)

	require.True(t, d("100000").Equal(h.mem.Balance(inv.Address())))
	require.Zero(t, h.mem.TokenBalance(inv.Address(), ledger.Token("SUN", p.ProjectWallet)))
	require.Zero(t, h.mem.OpenHolds())

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.CurrentAmount.IsZero())
	require.Zero(t, got.IssuedTokens)
	require.Empty(t, got.Investments)
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeSettlementFailed)
}

func TestProcessInvestment_UnknownSettlementOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)

	h.mem.DropResponses(1)
	_, err := h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("1000")})
	require.ErrorIs(t, err, ledger.ErrUnknownOutcome)

	var unknown *project.UnknownSettlementError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, p.ID, unknown.ProjectID)
	require.True(t, strings.HasPrefix(unknown.BatchID, "invest-"))
	require.NotEmpty(t, unknown.TxID)

	state, err := h.mem.Query(ctx, ledger.TransactionRef(unknown.TxID))
	require.NoError(t, err)
	require.True(t, state.Found)
}

func TestProcessInvestment_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)

	_, err := h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: decimal.Zero})
	require.ErrorIs(t, err, project.ErrInvalidInput)

	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: nil, Principal: d("10")})
	require.ErrorIs(t, err, project.ErrInvalidInput)

	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("5")})
	require.ErrorIs(t, err, project.ErrInsufficientTokens)

	// 19000 net buys 1900 tokens; only 980 are available.
	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("20000")})
	require.ErrorIs(t, err, project.ErrInsufficientTokens)

	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: "missing", Investor: inv, Principal: d("10")})
	require.ErrorIs(t, err, project.ErrProjectNotFound)

	h.clock.Advance(31 * 24 * time.Hour)
	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("1000")})
	require.ErrorIs(t, err, project.ErrNotActive)

	require.True(t, d("100000").Equal(h.mem.Balance(inv.Address())))
}

func TestProcessInvestment_ReachingTargetFundsProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)

	h.invest(t, p.ID, h.investor(t), "4000")
	res := h.invest(t, p.ID, h.investor(t), "6000")
	require.Equal(t, project.StatusFunded, res.Project.Status)

	_, err := h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: h.investor(t), Principal: d("100")})
	require.ErrorIs(t, err, project.ErrNotActive)
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeProjectFunded)
}

func TestProcessInvestment_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)

	const n = 8
	investors := make([]ledger.Signer, n)
	for i := range investors {
		investors[i] = h.investor(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, inv := range investors {
		wg.Add(1)
		go func(inv ledger.Signer) {
			defer wg.Done()
			_, err := h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: inv, Principal: d("500")})
			errs <- err
		}(inv)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, d("4000").Equal(got.CurrentAmount))
	require.Len(t, got.Investments, n)
	require.Equal(t, int64(n*47), got.IssuedTokens)
	require.Equal(t, n, h.mem.OpenHolds())
	require.True(t, got.ConfirmedTotal().Equal(got.CurrentAmount))
}

func TestAchieveMilestone_ReleasesEscrows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	h.invest(t, p.ID, h.investor(t), "1000")
	h.invest(t, p.ID, h.investor(t), "2000")

	out := h.achieve(t, p.ID, p.Milestones[0].ID)
	require.Len(t, out.Released, 2)
	require.Empty(t, out.Failed)
	require.Equal(t, project.MilestoneCompleted, out.Milestone.Status)
	require.NotNil(t, out.Milestone.AchievedAt)
	require.True(t, d("2850").Equal(h.mem.Balance(h.creator)))
	require.Zero(t, h.mem.OpenHolds())

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusActive, got.Status)
	require.Equal(t, p.Milestones[1].ID, got.ClaimableMilestone().ID)

	// Later investments are held for the next milestone.
	res := h.invest(t, p.ID, h.investor(t), "1000")
	require.Equal(t, p.Milestones[1].ID, res.Escrow.MilestoneID)
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeEscrowReleased)
}

func TestAchieveMilestone_RejectedEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	h.invest(t, p.ID, h.investor(t), "1000")

	// No approvals recorded.
	_, err := h.svc.AchieveMilestone(ctx, p.ID, p.Milestones[0].ID, evidence.Evidence{Kind: evidence.KindManualApproval})
	var verr *project.MilestoneVerificationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, fault.ErrMilestoneVerification)

	// Unregistered evidence kind.
	_, err = h.svc.AchieveMilestone(ctx, p.ID, p.Milestones[0].ID, evidence.Evidence{Kind: evidence.KindRepositoryLink})
	require.ErrorIs(t, err, fault.ErrMilestoneVerification)
	require.ErrorIs(t, err, evidence.ErrUnknownKind)

	// Out of order.
	_, err = h.approvals.Approve(ctx, p.Milestones[1].ID, "ops", "")
	require.NoError(t, err)
	_, err = h.svc.AchieveMilestone(ctx, p.ID, p.Milestones[1].ID, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.ErrorIs(t, err, fault.ErrMilestoneVerification)

	_, err = h.svc.AchieveMilestone(ctx, p.ID, "nope", evidence.Evidence{Kind: evidence.KindManualApproval})
	require.ErrorIs(t, err, project.ErrMilestoneNotFound)

	// Approvals for milestones no project has are refused.
	_, err = h.approvals.Approve(ctx, "nope", "ops", "")
	require.ErrorIs(t, err, evidence.ErrUnknownMilestone)
	list, err := h.approvals.Approvals(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, list)

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.MilestonePending, got.Milestones[0].Status)
	require.Equal(t, 1, h.mem.OpenHolds())

	h.achieve(t, p.ID, p.Milestones[0].ID)
	_, err = h.svc.AchieveMilestone(ctx, p.ID, p.Milestones[0].ID, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.ErrorIs(t, err, fault.ErrMilestoneVerification)
}

func TestAchieveMilestone_CancelledDuringVerification(t *testing.T) {
	h := newHarness(t)
	p := h.createProject(t)
	h.invest(t, p.ID, h.investor(t), "1000")

	ctx, cancel := context.WithCancel(context.Background())
	slow := evidence.NewRegistry()
	slow.Register(evidence.KindManualApproval, evidence.VerifierFunc(func(ctx context.Context, _ evidence.Subject, _ evidence.Evidence) (bool, error) {
		cancel()
		<-ctx.Done()
		return true, nil
	}))
	h.svc = h.rebuild(t, slow)

	_, err := h.svc.AchieveMilestone(ctx, p.ID, p.Milestones[0].ID, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.ErrorIs(t, err, context.Canceled)

	got, err := h.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, project.MilestonePending, got.Milestones[0].Status)
	require.Equal(t, 1, h.mem.OpenHolds())
}

func TestLifecycle_FundedProjectCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	h.invest(t, p.ID, h.investor(t), "10000")

	_, err := h.svc.Finalize(ctx, p.ID)
	require.ErrorIs(t, err, project.ErrNotActive)

	h.achieve(t, p.ID, p.Milestones[0].ID)
	out := h.achieve(t, p.ID, p.Milestones[1].ID)
	require.Equal(t, project.StatusCompleted, out.Project.Status)
	require.True(t, d("9500").Equal(h.mem.Balance(h.creator)))

	// Terminal projects reject every mutation.
	_, err = h.svc.ProcessInvestment(ctx, project.InvestRequest{ProjectID: p.ID, Investor: h.investor(t), Principal: d("100")})
	require.ErrorIs(t, err, project.ErrTerminal)
	_, err = h.svc.CancelProject(ctx, p.ID, "too late")
	require.ErrorIs(t, err, project.ErrTerminal)

	done, err := h.svc.Finalize(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusCompleted, done.Status)
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeProjectCompleted)
}

func TestDistributeRevenue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	a, b := h.investor(t), h.investor(t)
	h.invest(t, p.ID, a, "1000")
	h.invest(t, p.ID, b, "9000")

	platform, err := h.wallets.GetPlatformWallet(ctx)
	require.NoError(t, err)
	platformBefore := h.mem.Balance(platform.Address)
	aBefore, bBefore := h.mem.Balance(a.Address()), h.mem.Balance(b.Address())

	res, err := h.svc.DistributeRevenue(ctx, p.ID, d("1000"))
	require.NoError(t, err)
	require.NotEmpty(t, res.TxRef)
	require.True(t, d("50").Equal(res.Distribution.Platform))
	require.True(t, d("150").Equal(res.Distribution.Creator))

	require.True(t, platformBefore.Add(d("50")).Equal(h.mem.Balance(platform.Address)))
	require.True(t, d("150").Equal(h.mem.Balance(h.creator)))
	require.True(t, aBefore.Add(d("80")).Equal(h.mem.Balance(a.Address())))
	require.True(t, bBefore.Add(d("720")).Equal(h.mem.Balance(b.Address())))
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeRevenueDistributed)
}

func TestDistributeRevenue_Rejections(t *testing.T) {
	h := newHarness(t, withBatchLimit(3))
	ctx := context.Background()
	p := h.createProject(t)
	h.invest(t, p.ID, h.investor(t), "1000")

	_, err := h.svc.DistributeRevenue(ctx, p.ID, d("100"))
	require.ErrorIs(t, err, project.ErrNotActive)

	h.invest(t, p.ID, h.investor(t), "9000")
	_, err = h.svc.DistributeRevenue(ctx, p.ID, decimal.Zero)
	require.ErrorIs(t, err, project.ErrInvalidInput)
	_, err = h.svc.DistributeRevenue(ctx, p.ID, d("0.0000001"))
	require.ErrorIs(t, err, project.ErrInvalidInput)

	// Platform, creator and two investors need four legs.
	before := h.mem.Submissions()
	_, err = h.svc.DistributeRevenue(ctx, p.ID, d("100"))
	require.ErrorIs(t, err, fault.ErrBatchSizeExceeded)
	require.Equal(t, before, h.mem.Submissions())
}

func TestCancelProject_RefundsInvestors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "1000")

	cancelled, err := h.svc.CancelProject(ctx, p.ID, "creator withdrew")
	require.NoError(t, err)
	require.Equal(t, project.StatusCancelled, cancelled.Status)
	require.True(t, cancelled.CurrentAmount.IsZero())

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	refunded := got.Investments[res.Investment.ID]
	require.Equal(t, project.InvestmentRefunded, refunded.Status)
	require.NotEmpty(t, refunded.RefundTxRef)

	// Net is returned; the fee is kept.
	require.True(t, d("99950").Equal(h.mem.Balance(inv.Address())))
	require.Zero(t, h.mem.OpenHolds())

	e, err := h.escrows.Get(ctx, res.Escrow.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCancelled, e.Status)

	_, err = h.svc.CancelProject(ctx, p.ID, "again")
	require.ErrorIs(t, err, project.ErrTerminal)

	types := h.activityTypes(t, p.ID)
	require.Contains(t, types, activity.TypeEscrowCancelled)
	require.Contains(t, types, activity.TypeInvestmentRefunded)
	require.Contains(t, types, activity.TypeProjectCancelled)
}

func TestCancelProject_KeepsReleasedFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	first := h.investor(t)
	h.invest(t, p.ID, first, "1000")
	h.achieve(t, p.ID, p.Milestones[0].ID)
	second := h.investor(t)
	h.invest(t, p.ID, second, "1000")

	_, err := h.svc.CancelProject(ctx, p.ID, "")
	require.NoError(t, err)

	// The first escrow was released to the creator and is not refunded.
	require.True(t, d("99000").Equal(h.mem.Balance(first.Address())))
	require.True(t, d("99950").Equal(h.mem.Balance(second.Address())))
	require.True(t, d("950").Equal(h.mem.Balance(h.creator)))
}

func TestCancelProject_FundedProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "10000")

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusFunded, got.Status)
	require.True(t, project.CanTransition(project.StatusFunded, project.StatusCancelled))
	require.False(t, project.CanTransition(project.StatusCompleted, project.StatusCancelled))

	before := h.mem.Balance(inv.Address())
	cancelled, err := h.svc.CancelProject(ctx, p.ID, "permits denied")
	require.NoError(t, err)
	require.Equal(t, project.StatusCancelled, cancelled.Status)
	got, err = h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.InvestmentRefunded, got.Investments[res.Investment.ID].Status)
	require.True(t, res.Investment.NetAmount.Equal(h.mem.Balance(inv.Address()).Sub(before)))
	require.True(t, h.mem.Balance(h.creator).IsZero())
	require.Zero(t, h.mem.OpenHolds())
}

func TestSweepDeadlines_FailsUnderfundedProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "1000")

	report, err := h.svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	require.Empty(t, report.FailedProjects)

	h.clock.Advance(30*24*time.Hour + time.Minute)
	report, err = h.svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{p.ID}, report.FailedProjects)
	require.Equal(t, []string{res.Investment.ID}, report.RefundedInvestments)
	require.Empty(t, report.Errors)

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusFailed, got.Status)
	require.True(t, d("99950").Equal(h.mem.Balance(inv.Address())))
	require.Contains(t, h.activityTypes(t, p.ID), activity.TypeProjectFailed)

	again, err := h.svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	require.Empty(t, again.FailedProjects)
	require.Empty(t, again.RefundedInvestments)
}

func TestSweepDeadlines_CancelsExpiredEscrows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "10000")
	require.Equal(t, project.StatusFunded, res.Project.Status)

	// Past the project deadline plus the default hold.
	h.clock.Advance(30*24*time.Hour + project.DefaultHold + time.Minute)
	report, err := h.svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	require.Empty(t, report.FailedProjects)
	require.Equal(t, []string{res.Escrow.ID}, report.CancelledEscrows)
	require.Equal(t, []string{res.Investment.ID}, report.RefundedInvestments)

	require.True(t, d("99500").Equal(h.mem.Balance(inv.Address())))
	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusFunded, got.Status)
	require.Equal(t, project.InvestmentRefunded, got.Investments[res.Investment.ID].Status)
}

func TestReconcileEscrows_OpensMissingHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)

	h.mem.FailWhen(func(tx ledger.Tx) string {
		if tx.Kind() == ledger.KindHoldCreate {
			return ledger.CodeUnfunded
		}
		return ""
	})
	res := h.invest(t, p.ID, h.investor(t), "1000")
	require.True(t, res.EscrowPending)
	require.Nil(t, res.Escrow)
	require.Equal(t, project.InvestmentConfirmed, res.Investment.Status)

	h.mem.FailWhen(nil)
	report, err := h.svc.ReconcileEscrows(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, report.OpenedEscrows, 1)

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, report.OpenedEscrows[0], got.Investments[res.Investment.ID].EscrowID)
	require.Equal(t, 1, h.mem.OpenHolds())

	again, err := h.svc.ReconcileEscrows(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, again.OpenedEscrows)
	require.Empty(t, again.ReleasedEscrows)
}

func TestProjectService_RepositoryErrors(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ProjectRepository{}
	settlement := &mocks.Settlement{}
	svc := project.NewService(project.Dependencies{Repo: repo, Settlement: settlement}, project.DefaultConfig(), nil)

	repo.On("Get", mock.Anything, "p1").Return(nil, errors.New("disk on fire")).Once()
	_, err := svc.Get(ctx, "p1")
	require.ErrorContains(t, err, "disk on fire")

	repo.On("List", ctx, project.ListOptions{Limit: 5}).Return([]project.ProjectSummary{{ID: "p1"}}, nil).Once()
	list, err := svc.List(ctx, project.ListOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, list, 1)

	settlement.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCancelProject_RetriesRejectedRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	h.invest(t, p.ID, inv, "1000")

	h.mem.FailWhen(func(tx ledger.Tx) string {
		if tx.Kind() == ledger.KindFundTransfer && strings.HasPrefix(tx.ID(), "refund-") {
			return ledger.CodeUnfunded
		}
		return ""
	})
	_, err := h.svc.CancelProject(ctx, p.ID, "")
	require.Error(t, err)

	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusActive, got.Status)

	h.mem.FailWhen(nil)
	cancelled, err := h.svc.CancelProject(ctx, p.ID, "")
	require.NoError(t, err)
	require.Equal(t, project.StatusCancelled, cancelled.Status)
	require.True(t, d("99950").Equal(h.mem.Balance(inv.Address())))
}

func TestReconcileEscrows_AdoptsHoldWithUnknownOutcome(t *testing.T) {
	h := newHarness(t, withEscrowGateway(lostHoldResponses))
	ctx := context.Background()
	p := h.createProject(t)

	res := h.invest(t, p.ID, h.investor(t), "1000")
	require.True(t, res.EscrowPending)
	require.Equal(t, 1, h.mem.OpenHolds())

	report, err := h.svc.ReconcileEscrows(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, report.OpenedEscrows, 1)
	require.Equal(t, 1, h.mem.OpenHolds(), "the applied hold is adopted, not opened again")

	e, err := h.escrows.Get(ctx, report.OpenedEscrows[0])
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, e.Status)
	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.Investments[res.Investment.ID].EscrowID)
}

func TestCancelProject_ResolvesPendingHoldBeforeRefund(t *testing.T) {
	h := newHarness(t, withEscrowGateway(lostHoldResponses))
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)

	res := h.invest(t, p.ID, inv, "1000")
	require.True(t, res.EscrowPending)

	cancelled, err := h.svc.CancelProject(ctx, p.ID, "")
	require.NoError(t, err)
	require.Equal(t, project.StatusCancelled, cancelled.Status)
	require.Zero(t, h.mem.OpenHolds())
	require.True(t, d("99950").Equal(h.mem.Balance(inv.Address())))

	escrows, err := h.escrows.ListByInvestment(ctx, res.Investment.ID)
	require.NoError(t, err)
	require.Len(t, escrows, 1)
	require.Equal(t, escrow.StatusCancelled, escrows[0].Status)
}

func TestCancelProject_AfterDroppedReleaseResponsePaysOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "1000")
	first := p.Milestones[0].ID

	h.mem.DropResponses(1)
	out := h.achieve(t, p.ID, first)
	require.Len(t, out.Failed, 1)
	require.Empty(t, out.Released)

	report, err := h.svc.ReconcileEscrows(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{res.Escrow.ID}, report.ReleasedEscrows)

	e, err := h.escrows.Refresh(ctx, res.Escrow.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFinished, e.Status)

	_, err = h.svc.CancelProject(ctx, p.ID, "")
	require.NoError(t, err)
	require.True(t, d("950").Equal(h.mem.Balance(h.creator)))
	require.True(t, d("99000").Equal(h.mem.Balance(inv.Address())), "released funds are never refunded")
}

func TestSweepDeadlines_RefreshBeforeSweepKeepsRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.createProject(t)
	inv := h.investor(t)
	res := h.invest(t, p.ID, inv, "1000")

	// The release applies but its response is lost; the milestone is completed.
	h.mem.DropResponses(1)
	h.achieve(t, p.ID, p.Milestones[0].ID)

	e, err := h.escrows.Refresh(ctx, res.Escrow.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFinished, e.Status)

	h.clock.Advance(31 * 24 * time.Hour)
	_, err = h.svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	require.True(t, d("950").Equal(h.mem.Balance(h.creator)))
	require.True(t, d("99000").Equal(h.mem.Balance(inv.Address())))
}
