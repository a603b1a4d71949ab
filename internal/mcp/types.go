package mcp

import (
	"sort"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/project"
)

// Amounts and timestamps cross the wire as strings: decimals keep their exact
// scale and times are RFC 3339.

type MilestoneParams struct {
	Title        string `json:"title" jsonschema:"milestone title"`
	Description  string `json:"description,omitempty"`
	TargetAmount string `json:"target_amount" jsonschema:"amount of native funds the milestone unlocks"`
	Deadline     string `json:"deadline,omitempty" jsonschema:"RFC 3339 deadline for the milestone"`
}

type CreateProjectParams struct {
	Name          string            `json:"name" jsonschema:"project display name"`
	Description   string            `json:"description,omitempty"`
	TargetAmount  string            `json:"target_amount" jsonschema:"funding target in native units"`
	Deadline      string            `json:"deadline" jsonschema:"RFC 3339 funding deadline"`
	CreatorWallet string            `json:"creator_wallet" jsonschema:"ledger address receiving released funds"`
	TokenCode     string            `json:"token_code" jsonschema:"3 to 12 character token code"`
	TotalTokens   int64             `json:"total_tokens" jsonschema:"token supply to define"`
	Milestones    []MilestoneParams `json:"milestones" jsonschema:"ordered milestones"`
}

type ProjectIDParams struct {
	ProjectID string `json:"project_id"`
}

type ListProjectsParams struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status such as ACTIVE or FUNDED"`
	Limit  int    `json:"limit,omitempty"`
}

type QuoteParams struct {
	ProjectID string `json:"project_id"`
	Principal string `json:"principal" jsonschema:"amount the investor would pay"`
}

type InvestParams struct {
	ProjectID  string `json:"project_id"`
	InvestorID string `json:"investor_id" jsonschema:"custodial investor identity; a wallet is derived on first use"`
	Principal  string `json:"principal"`
}

type AchieveMilestoneParams struct {
	ProjectID    string `json:"project_id"`
	MilestoneID  string `json:"milestone_id"`
	EvidenceKind string `json:"evidence_kind" jsonschema:"repository_link, external_attestation or manual_approval"`
	Evidence     any    `json:"evidence,omitempty" jsonschema:"kind specific evidence payload"`
}

type ApproveMilestoneParams struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	Note        string `json:"note,omitempty"`
}

type DistributeRevenueParams struct {
	ProjectID string `json:"project_id"`
	Revenue   string `json:"revenue" jsonschema:"revenue held by the project wallet to distribute"`
}

type CancelProjectParams struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason,omitempty"`
}

type EscrowIDParams struct {
	EscrowID string `json:"escrow_id"`
}

type GetActivityParams struct {
	ProjectID    string `json:"project_id,omitempty"`
	InvestmentID string `json:"investment_id,omitempty"`
	EscrowID     string `json:"escrow_id,omitempty"`
	Type         string `json:"type,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

type EmptyParams struct{}

type MilestoneView struct {
	ID           string `json:"id"`
	Position     int    `json:"position"`
	Title        string `json:"title"`
	TargetAmount string `json:"target_amount"`
	Deadline     string `json:"deadline,omitempty"`
	Status       string `json:"status"`
	AchievedAt   string `json:"achieved_at,omitempty"`
}

type InvestmentView struct {
	ID              string `json:"id"`
	InvestorAddress string `json:"investor_address"`
	PrincipalAmount string `json:"principal_amount"`
	PlatformFee     string `json:"platform_fee"`
	NetAmount       string `json:"net_amount"`
	TokenAmount     int64  `json:"token_amount"`
	Status          string `json:"status"`
	SettlementTxRef string `json:"settlement_tx_ref"`
	EscrowID        string `json:"escrow_id,omitempty"`
	RefundTxRef     string `json:"refund_tx_ref,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type ProjectView struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	Description            string           `json:"description,omitempty"`
	Status                 string           `json:"status"`
	TargetAmount           string           `json:"target_amount"`
	CurrentAmount          string           `json:"current_amount"`
	CreatorWallet          string           `json:"creator_wallet"`
	ProjectWallet          string           `json:"project_wallet"`
	TokenCode              string           `json:"token_code"`
	TokenDefinitionID      string           `json:"token_definition_id"`
	TotalTokenSupply       int64            `json:"total_token_supply"`
	ReservedPlatformTokens int64            `json:"reserved_platform_tokens"`
	IssuedTokens           int64            `json:"issued_tokens"`
	Deadline               string           `json:"deadline"`
	Version                int64            `json:"version"`
	Milestones             []MilestoneView  `json:"milestones"`
	Investments            []InvestmentView `json:"investments,omitempty"`
}

type ProjectSummaryView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	TargetAmount    string `json:"target_amount"`
	CurrentAmount   string `json:"current_amount"`
	TokenCode       string `json:"token_code"`
	Deadline        string `json:"deadline"`
	Milestones      int    `json:"milestones"`
	Completed       int    `json:"completed_milestones"`
	InvestmentCount int    `json:"investment_count"`
}

type ListProjectsResponse struct {
	Projects []ProjectSummaryView `json:"projects"`
}

type ListInvestmentsResponse struct {
	Investments []InvestmentView `json:"investments"`
}

type QuoteView struct {
	Principal  string `json:"principal"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
	TokenPrice string `json:"token_price"`
	Tokens     int64  `json:"tokens"`
}

type EscrowView struct {
	ID           string `json:"id"`
	InvestmentID string `json:"investment_id"`
	ProjectID    string `json:"project_id"`
	MilestoneID  string `json:"milestone_id"`
	Owner        string `json:"owner"`
	Destination  string `json:"destination"`
	Amount       string `json:"amount"`
	Condition    string `json:"condition"`
	HoldRef      string `json:"hold_ref"`
	Deadline     string `json:"deadline"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
	FinishTxRef  string `json:"finish_tx_ref,omitempty"`
	CancelTxRef  string `json:"cancel_tx_ref,omitempty"`
}

type ListEscrowsResponse struct {
	Escrows []EscrowView `json:"escrows"`
}

type InvestResponse struct {
	Project       ProjectView    `json:"project"`
	Investment    InvestmentView `json:"investment"`
	Quote         QuoteView      `json:"quote"`
	Escrow        *EscrowView    `json:"escrow,omitempty"`
	EscrowPending bool           `json:"escrow_pending,omitempty"`
}

type EscrowFailureView struct {
	EscrowID string `json:"escrow_id"`
	Error    string `json:"error"`
}

type AchieveMilestoneResponse struct {
	Project   ProjectView         `json:"project"`
	Milestone MilestoneView       `json:"milestone"`
	Released  []EscrowView        `json:"released"`
	Failed    []EscrowFailureView `json:"failed,omitempty"`
}

type ApprovalView struct {
	Approver  string `json:"approver"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

type ApproveMilestoneResponse struct {
	MilestoneID string         `json:"milestone_id"`
	Approvals   []ApprovalView `json:"approvals"`
}

type PayoutView struct {
	Address string `json:"address"`
	Tokens  int64  `json:"tokens"`
	Amount  string `json:"amount"`
}

type DistributeRevenueResponse struct {
	Revenue   string       `json:"revenue"`
	Platform  string       `json:"platform"`
	Creator   string       `json:"creator"`
	Investors []PayoutView `json:"investors"`
	BatchID   string       `json:"batch_id"`
	TxRef     string       `json:"tx_ref"`
}

type SweepResponse struct {
	FailedProjects      []string `json:"failed_projects"`
	CancelledEscrows    []string `json:"cancelled_escrows"`
	RefundedInvestments []string `json:"refunded_investments"`
	Errors              []string `json:"errors,omitempty"`
}

type ReconcileResponse struct {
	OpenedEscrows       []string `json:"opened_escrows"`
	ReleasedEscrows     []string `json:"released_escrows"`
	RefundedInvestments []string `json:"refunded_investments"`
}

type ActivityEntryView struct {
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	InvestmentID string `json:"investment_id,omitempty"`
	EscrowID     string `json:"escrow_id,omitempty"`
	Summary      string `json:"summary"`
	Details      string `json:"details,omitempty"`
}

type GetActivityResponse struct {
	Activity []ActivityEntryView `json:"activity"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func stringValue(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

func projectView(p *project.Project) ProjectView {
	v := ProjectView{
		ID:                     p.ID,
		Name:                   p.Name,
		Description:            p.Description,
		Status:                 string(p.Status),
		TargetAmount:           p.TargetAmount.String(),
		CurrentAmount:          p.CurrentAmount.String(),
		CreatorWallet:          p.CreatorWallet,
		ProjectWallet:          p.ProjectWallet,
		TokenCode:              p.TokenCode,
		TokenDefinitionID:      p.TokenDefinitionID,
		TotalTokenSupply:       p.TotalTokenSupply,
		ReservedPlatformTokens: p.ReservedPlatformTokens,
		IssuedTokens:           p.IssuedTokens,
		Deadline:               formatTime(p.Deadline),
		Version:                p.Version,
		Milestones:             make([]MilestoneView, 0, len(p.Milestones)),
	}
	for _, m := range p.Milestones {
		v.Milestones = append(v.Milestones, milestoneView(m))
	}
	for _, inv := range sortedInvestments(p) {
		v.Investments = append(v.Investments, investmentView(inv))
	}
	return v
}

func sortedInvestments(p *project.Project) []project.Investment {
	out := make([]project.Investment, 0, len(p.Investments))
	for _, inv := range p.Investments {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func milestoneView(m project.Milestone) MilestoneView {
	return MilestoneView{
		ID:           m.ID,
		Position:     m.Position,
		Title:        m.Title,
		TargetAmount: m.TargetAmount.String(),
		Deadline:     formatTimePtr(m.Deadline),
		Status:       string(m.Status),
		AchievedAt:   formatTimePtr(m.AchievedAt),
	}
}

func investmentView(inv project.Investment) InvestmentView {
	return InvestmentView{
		ID:              inv.ID,
		InvestorAddress: inv.InvestorAddress,
		PrincipalAmount: inv.PrincipalAmount.String(),
		PlatformFee:     inv.PlatformFee.String(),
		NetAmount:       inv.NetAmount.String(),
		TokenAmount:     inv.TokenAmount,
		Status:          string(inv.Status),
		SettlementTxRef: inv.SettlementTxRef,
		EscrowID:        inv.EscrowID,
		RefundTxRef:     inv.RefundTxRef,
		CreatedAt:       formatTime(inv.CreatedAt),
	}
}

func summaryView(s project.ProjectSummary) ProjectSummaryView {
	return ProjectSummaryView{
		ID:              s.ID,
		Name:            s.Name,
		Status:          string(s.Status),
		TargetAmount:    s.TargetAmount.String(),
		CurrentAmount:   s.CurrentAmount.String(),
		TokenCode:       s.TokenCode,
		Deadline:        formatTime(s.Deadline),
		Milestones:      s.MilestoneCount,
		Completed:       s.CompletedCount,
		InvestmentCount: s.InvestmentCount,
	}
}

func quoteView(q project.Quote) QuoteView {
	return QuoteView{
		Principal:  q.Principal.String(),
		Fee:        q.Fee.String(),
		Net:        q.Net.String(),
		TokenPrice: q.TokenPrice.String(),
		Tokens:     q.Tokens,
	}
}

func escrowView(e escrow.Escrow) EscrowView {
	return EscrowView{
		ID:           e.ID,
		InvestmentID: e.InvestmentID,
		ProjectID:    e.ProjectID,
		MilestoneID:  e.MilestoneID,
		Owner:        e.Owner,
		Destination:  e.Destination,
		Amount:       e.Amount.String(),
		Condition:    e.Condition.String(),
		HoldRef:      e.HoldRef,
		Deadline:     formatTime(e.Deadline),
		Status:       string(e.Status),
		CancelReason: e.CancelReason,
		FinishTxRef:  e.FinishTxRef,
		CancelTxRef:  e.CancelTxRef,
	}
}

func approvalView(a evidence.Approval) ApprovalView {
	return ApprovalView{Approver: a.Approver, Note: a.Note, CreatedAt: formatTime(a.CreatedAt)}
}

func activityView(e activity.ActivityEntry) ActivityEntryView {
	return ActivityEntryView{
		Timestamp:    formatTime(e.CreatedAt),
		Type:         string(e.ActivityType),
		ProjectID:    e.ProjectID,
		InvestmentID: stringValue(e.InvestmentID),
		EscrowID:     stringValue(e.EscrowID),
		Summary:      e.Summary,
		Details:      e.Details,
	}
}
