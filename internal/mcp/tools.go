package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/shopspring/decimal"
)

type toolset struct {
	svc    Services
	logger *slog.Logger
}

func registerTools(server *sdkmcp.Server, svc Services, logger *slog.Logger) {
	t := &toolset{svc: svc, logger: logger}

	// Projects
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_project",
		Description: "Create a project, define its token and open it for investment",
	}, t.createProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_project",
		Description: "Get a project with its milestones and investments",
	}, t.getProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_projects",
		Description: "List projects, newest first, optionally filtered by status",
	}, t.listProjects)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "cancel_project",
		Description: "Cancel a project and refund every investment whose escrow was not released",
	}, t.cancelProject)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "finalize_project",
		Description: "Complete a funded project whose milestones are all achieved",
	}, t.finalizeProject)

	// Investments
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "quote_investment",
		Description: "Preview the fee, net amount and tokens for a principal",
	}, t.quoteInvestment)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "invest",
		Description: "Settle an investment atomically and hold its net amount in escrow",
	}, t.invest)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_investments",
		Description: "List a project's investments, oldest first",
	}, t.listInvestments)

	// Milestones and revenue
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "approve_milestone",
		Description: "Record the calling operator's approval of a milestone",
	}, t.approveMilestone)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "achieve_milestone",
		Description: "Submit evidence for the next milestone and release its escrows when accepted",
	}, t.achieveMilestone)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "distribute_revenue",
		Description: "Split revenue held by the project wallet between platform, creator and token holders",
	}, t.distributeRevenue)

	// Escrows and maintenance
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_escrows",
		Description: "List a project's escrows",
	}, t.listEscrows)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "refresh_escrow",
		Description: "Reconcile an active escrow with its ledger hold",
	}, t.refreshEscrow)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reconcile_escrows",
		Description: "Open missing holds, release holds of completed milestones and finish refunds for a project",
	}, t.reconcileEscrows)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "sweep_deadlines",
		Description: "Fail underfunded projects past their deadline and cancel expired escrows",
	}, t.sweepDeadlines)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_activity",
		Description: "Get recent activity, optionally filtered by project, investment, escrow or type",
	}, t.getActivity)
}

func (t *toolset) createProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateProjectParams) (*sdkmcp.CallToolResult, ProjectView, error) {
	target, err := parseAmount("target_amount", in.TargetAmount)
	if err != nil {
		return nil, ProjectView{}, err
	}
	deadline, err := parseTime("deadline", in.Deadline)
	if err != nil {
		return nil, ProjectView{}, err
	}
	req := project.CreateRequest{
		Name:          in.Name,
		Description:   in.Description,
		TargetAmount:  target,
		Deadline:      deadline,
		CreatorWallet: in.CreatorWallet,
		TokenCode:     in.TokenCode,
		TotalTokens:   in.TotalTokens,
	}
	for i, m := range in.Milestones {
		amount, err := parseAmount(fmt.Sprintf("milestones[%d].target_amount", i), m.TargetAmount)
		if err != nil {
			return nil, ProjectView{}, err
		}
		input := project.MilestoneInput{Title: m.Title, Description: m.Description, TargetAmount: amount}
		if m.Deadline != "" {
			d, err := parseTime(fmt.Sprintf("milestones[%d].deadline", i), m.Deadline)
			if err != nil {
				return nil, ProjectView{}, err
			}
			input.Deadline = &d
		}
		req.Milestones = append(req.Milestones, input)
	}

	p, err := t.svc.Projects.CreateProject(ctx, req)
	if err != nil {
		return nil, ProjectView{}, MapError(err)
	}
	return nil, projectView(p), nil
}

func (t *toolset) getProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectIDParams) (*sdkmcp.CallToolResult, ProjectView, error) {
	p, err := t.svc.Projects.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, ProjectView{}, MapError(err)
	}
	return nil, projectView(p), nil
}

func (t *toolset) listProjects(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListProjectsParams) (*sdkmcp.CallToolResult, ListProjectsResponse, error) {
	opts := project.ListOptions{Limit: in.Limit}
	if in.Status != "" {
		status := project.Status(strings.ToUpper(in.Status))
		opts.Status = &status
	}
	list, err := t.svc.Projects.List(ctx, opts)
	if err != nil {
		return nil, ListProjectsResponse{}, MapError(err)
	}
	resp := ListProjectsResponse{Projects: make([]ProjectSummaryView, 0, len(list))}
	for _, s := range list {
		resp.Projects = append(resp.Projects, summaryView(s))
	}
	return nil, resp, nil
}

func (t *toolset) cancelProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in CancelProjectParams) (*sdkmcp.CallToolResult, ProjectView, error) {
	p, err := t.svc.Projects.CancelProject(ctx, in.ProjectID, in.Reason)
	if err != nil {
		return nil, ProjectView{}, MapError(err)
	}
	return nil, projectView(p), nil
}

func (t *toolset) finalizeProject(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectIDParams) (*sdkmcp.CallToolResult, ProjectView, error) {
	p, err := t.svc.Projects.Finalize(ctx, in.ProjectID)
	if err != nil {
		return nil, ProjectView{}, MapError(err)
	}
	return nil, projectView(p), nil
}

func (t *toolset) quoteInvestment(ctx context.Context, _ *sdkmcp.CallToolRequest, in QuoteParams) (*sdkmcp.CallToolResult, QuoteView, error) {
	principal, err := parseAmount("principal", in.Principal)
	if err != nil {
		return nil, QuoteView{}, err
	}
	q, err := t.svc.Projects.Quote(ctx, in.ProjectID, principal)
	if err != nil {
		return nil, QuoteView{}, MapError(err)
	}
	return nil, quoteView(q), nil
}

func (t *toolset) invest(ctx context.Context, _ *sdkmcp.CallToolRequest, in InvestParams) (*sdkmcp.CallToolResult, InvestResponse, error) {
	principal, err := parseAmount("principal", in.Principal)
	if err != nil {
		return nil, InvestResponse{}, err
	}
	if strings.TrimSpace(in.InvestorID) == "" {
		return nil, InvestResponse{}, invalidParam("investor_id", fmt.Errorf("required"))
	}
	if _, err := t.svc.Wallets.EnsureInvestorWallet(ctx, in.InvestorID); err != nil {
		return nil, InvestResponse{}, MapError(err)
	}
	signer, err := t.svc.Wallets.InvestorSigner(ctx, in.InvestorID)
	if err != nil {
		return nil, InvestResponse{}, MapError(err)
	}

	res, err := t.svc.Projects.ProcessInvestment(ctx, project.InvestRequest{
		ProjectID: in.ProjectID,
		Investor:  signer,
		Principal: principal,
	})
	if err != nil {
		return nil, InvestResponse{}, MapError(err)
	}
	resp := InvestResponse{
		Project:       projectView(res.Project),
		Investment:    investmentView(*res.Investment),
		Quote:         quoteView(res.Quote),
		EscrowPending: res.EscrowPending,
	}
	if res.Escrow != nil {
		v := escrowView(*res.Escrow)
		resp.Escrow = &v
	}
	return nil, resp, nil
}

func (t *toolset) listInvestments(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectIDParams) (*sdkmcp.CallToolResult, ListInvestmentsResponse, error) {
	list, err := t.svc.Projects.ListInvestments(ctx, in.ProjectID)
	if err != nil {
		return nil, ListInvestmentsResponse{}, MapError(err)
	}
	resp := ListInvestmentsResponse{Investments: make([]InvestmentView, 0, len(list))}
	for _, inv := range list {
		resp.Investments = append(resp.Investments, investmentView(inv))
	}
	return nil, resp, nil
}

func (t *toolset) approveMilestone(ctx context.Context, _ *sdkmcp.CallToolRequest, in ApproveMilestoneParams) (*sdkmcp.CallToolResult, ApproveMilestoneResponse, error) {
	p, err := t.svc.Projects.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, ApproveMilestoneResponse{}, MapError(err)
	}
	m := p.Milestone(in.MilestoneID)
	if m == nil {
		return nil, ApproveMilestoneResponse{}, MapError(fmt.Errorf("milestone %s: %w", in.MilestoneID, project.ErrMilestoneNotFound))
	}

	operator := getOperatorID(ctx)
	if _, err := t.svc.Approvals.Approve(ctx, m.ID, operator, in.Note); err != nil {
		return nil, ApproveMilestoneResponse{}, MapError(err)
	}
	if err := t.svc.Activity.Log(ctx, &activity.ActivityEntry{
		ProjectID:    p.ID,
		ActivityType: activity.TypeMilestoneApproved,
		Summary:      fmt.Sprintf("Milestone %q approved by %s", m.Title, operator),
		Details:      activity.Details(map[string]string{"milestone_id": m.ID, "approver": operator}),
	}); err != nil {
		t.logger.Warn("failed to log approval", "project_id", p.ID, "milestone_id", m.ID, "error", err)
	}

	approvals, err := t.svc.Approvals.Approvals(ctx, m.ID)
	if err != nil {
		return nil, ApproveMilestoneResponse{}, MapError(err)
	}
	resp := ApproveMilestoneResponse{MilestoneID: m.ID, Approvals: make([]ApprovalView, 0, len(approvals))}
	for _, a := range approvals {
		resp.Approvals = append(resp.Approvals, approvalView(a))
	}
	return nil, resp, nil
}

func (t *toolset) achieveMilestone(ctx context.Context, _ *sdkmcp.CallToolRequest, in AchieveMilestoneParams) (*sdkmcp.CallToolResult, AchieveMilestoneResponse, error) {
	ev := evidence.Evidence{Kind: evidence.Kind(in.EvidenceKind)}
	if in.Evidence != nil {
		data, err := json.Marshal(in.Evidence)
		if err != nil {
			return nil, AchieveMilestoneResponse{}, invalidParam("evidence", err)
		}
		ev.Data = data
	}

	out, err := t.svc.Projects.AchieveMilestone(ctx, in.ProjectID, in.MilestoneID, ev)
	if err != nil {
		return nil, AchieveMilestoneResponse{}, MapError(err)
	}
	resp := AchieveMilestoneResponse{
		Project:   projectView(out.Project),
		Milestone: milestoneView(out.Milestone),
		Released:  make([]EscrowView, 0, len(out.Released)),
	}
	for _, e := range out.Released {
		resp.Released = append(resp.Released, escrowView(e))
	}
	for _, f := range out.Failed {
		resp.Failed = append(resp.Failed, EscrowFailureView{EscrowID: f.EscrowID, Error: f.Error})
	}
	return nil, resp, nil
}

func (t *toolset) distributeRevenue(ctx context.Context, _ *sdkmcp.CallToolRequest, in DistributeRevenueParams) (*sdkmcp.CallToolResult, DistributeRevenueResponse, error) {
	revenue, err := parseAmount("revenue", in.Revenue)
	if err != nil {
		return nil, DistributeRevenueResponse{}, err
	}
	res, err := t.svc.Projects.DistributeRevenue(ctx, in.ProjectID, revenue)
	if err != nil {
		return nil, DistributeRevenueResponse{}, MapError(err)
	}
	d := res.Distribution
	resp := DistributeRevenueResponse{
		Revenue:   d.Revenue.String(),
		Platform:  d.Platform.String(),
		Creator:   d.Creator.String(),
		Investors: make([]PayoutView, 0, len(d.Investors)),
		BatchID:   res.BatchID,
		TxRef:     res.TxRef,
	}
	for _, p := range d.Investors {
		resp.Investors = append(resp.Investors, PayoutView{Address: p.Address, Tokens: p.Tokens, Amount: p.Amount.String()})
	}
	return nil, resp, nil
}

func (t *toolset) listEscrows(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectIDParams) (*sdkmcp.CallToolResult, ListEscrowsResponse, error) {
	if _, err := t.svc.Projects.Get(ctx, in.ProjectID); err != nil {
		return nil, ListEscrowsResponse{}, MapError(err)
	}
	list, err := t.svc.Escrows.ListByProject(ctx, in.ProjectID)
	if err != nil {
		return nil, ListEscrowsResponse{}, MapError(err)
	}
	resp := ListEscrowsResponse{Escrows: make([]EscrowView, 0, len(list))}
	for _, e := range list {
		resp.Escrows = append(resp.Escrows, escrowView(e))
	}
	return nil, resp, nil
}

func (t *toolset) refreshEscrow(ctx context.Context, _ *sdkmcp.CallToolRequest, in EscrowIDParams) (*sdkmcp.CallToolResult, EscrowView, error) {
	e, err := t.svc.Escrows.Refresh(ctx, in.EscrowID)
	if err != nil {
		return nil, EscrowView{}, MapError(err)
	}
	return nil, escrowView(*e), nil
}

func (t *toolset) reconcileEscrows(ctx context.Context, _ *sdkmcp.CallToolRequest, in ProjectIDParams) (*sdkmcp.CallToolResult, ReconcileResponse, error) {
	rep, err := t.svc.Projects.ReconcileEscrows(ctx, in.ProjectID)
	if err != nil {
		return nil, ReconcileResponse{}, MapError(err)
	}
	return nil, ReconcileResponse{
		OpenedEscrows:       nonNil(rep.OpenedEscrows),
		ReleasedEscrows:     nonNil(rep.ReleasedEscrows),
		RefundedInvestments: nonNil(rep.RefundedInvestments),
	}, nil
}

func (t *toolset) sweepDeadlines(ctx context.Context, _ *sdkmcp.CallToolRequest, _ EmptyParams) (*sdkmcp.CallToolResult, SweepResponse, error) {
	rep, err := t.svc.Projects.SweepDeadlines(ctx)
	if err != nil {
		return nil, SweepResponse{}, MapError(err)
	}
	return nil, SweepResponse{
		FailedProjects:      nonNil(rep.FailedProjects),
		CancelledEscrows:    nonNil(rep.CancelledEscrows),
		RefundedInvestments: nonNil(rep.RefundedInvestments),
		Errors:              rep.Errors,
	}, nil
}

func (t *toolset) getActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetActivityParams) (*sdkmcp.CallToolResult, GetActivityResponse, error) {
	opts := activity.ListActivityOptions{
		ProjectID: in.ProjectID,
		Limit:     in.Limit,
		Offset:    in.Offset,
	}
	if in.InvestmentID != "" {
		opts.InvestmentID = &in.InvestmentID
	}
	if in.EscrowID != "" {
		opts.EscrowID = &in.EscrowID
	}
	if in.Type != "" {
		typ := activity.ActivityType(in.Type)
		opts.ActivityType = &typ
	}
	entries, err := t.svc.Activity.GetRecentActivity(ctx, opts)
	if err != nil {
		return nil, GetActivityResponse{}, MapError(err)
	}
	resp := GetActivityResponse{Activity: make([]ActivityEntryView, 0, len(entries))}
	for _, e := range entries {
		resp.Activity = append(resp.Activity, activityView(e))
	}
	return nil, resp, nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, invalidParam(name, err)
	}
	return d, nil
}

func parseTime(name, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, invalidParam(name, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
