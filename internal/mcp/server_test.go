package mcp_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/mcp"
	"github.com/rpggio/escrowfund/internal/testserver"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decodeStructuredContent[T any](t *testing.T, res *sdkmcp.CallToolResult) T {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func resultText(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if text, ok := c.(*sdkmcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func callTool[T any](t *testing.T, session *sdkmcp.ClientSession, name string, args any) T {
	t.Helper()
	res, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, res.IsError, "%s failed: %s", name, resultText(res))
	return decodeStructuredContent[T](t, res)
}

func callToolError(t *testing.T, session *sdkmcp.ClientSession, name string, args any) string {
	t.Helper()
	res, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.True(t, res.IsError, "%s unexpectedly succeeded", name)
	return resultText(res)
}

func createProject(t *testing.T, ts *testserver.TestServer, session *sdkmcp.ClientSession) mcp.ProjectView {
	t.Helper()
	return callTool[mcp.ProjectView](t, session, "create_project", map[string]any{
		"name":           "Solar Farm",
		"target_amount":  "10000",
		"deadline":       ts.Clock.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"creator_wallet": "creator-wallet",
		"token_code":     "SUN",
		"total_tokens":   1000,
		"milestones": []map[string]any{
			{"title": "Permits", "target_amount": "5000"},
			{"title": "Panels", "target_amount": "5000"},
		},
	})
}

func TestServer_ListTools(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	require.Equal(t, []string{
		"achieve_milestone",
		"approve_milestone",
		"cancel_project",
		"create_project",
		"distribute_revenue",
		"finalize_project",
		"get_activity",
		"get_project",
		"invest",
		"list_escrows",
		"list_investments",
		"list_projects",
		"quote_investment",
		"reconcile_escrows",
		"refresh_escrow",
		"sweep_deadlines",
	}, names)
}

func TestServer_DocResources(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)

	res, err := session.ReadResource(context.Background(), &sdkmcp.ReadResourceParams{URI: "escrowfund://docs/evidence"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	require.Contains(t, res.Contents[0].Text, "external_attestation")
}

func TestServer_RejectsUnknownToken(t *testing.T) {
	ts := testserver.New(t, "token", "alice")

	resp, err := http.Post(ts.Server.URL+"/mcp", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	_, err = client.Connect(context.Background(), &sdkmcp.StreamableClientTransport{Endpoint: ts.Server.URL + "/mcp"}, nil)
	require.Error(t, err)
}

func TestServer_InvestAndReleaseWithManualApproval(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)
	proj := createProject(t, ts, session)
	require.Equal(t, "ACTIVE", proj.Status)
	require.Len(t, proj.Milestones, 2)
	require.Equal(t, int64(20), proj.ReservedPlatformTokens)

	quote := callTool[mcp.QuoteView](t, session, "quote_investment", map[string]any{"project_id": proj.ID, "principal": "1000"})
	require.Equal(t, "50", quote.Fee)
	require.Equal(t, "950", quote.Net)
	require.Equal(t, int64(95), quote.Tokens)

	inv := callTool[mcp.InvestResponse](t, session, "invest", map[string]any{
		"project_id":  proj.ID,
		"investor_id": "investor-1",
		"principal":   "1000",
	})
	require.Equal(t, "CONFIRMED", inv.Investment.Status)
	require.Equal(t, "1000", inv.Project.CurrentAmount)
	require.NotNil(t, inv.Escrow)
	require.Equal(t, "ACTIVE", inv.Escrow.Status)
	require.Equal(t, proj.Milestones[0].ID, inv.Escrow.MilestoneID)

	first := proj.Milestones[0].ID
	rejected := callToolError(t, session, "achieve_milestone", map[string]any{
		"project_id":    proj.ID,
		"milestone_id":  first,
		"evidence_kind": "manual_approval",
	})
	require.Contains(t, rejected, "MILESTONE_NOT_VERIFIED")

	approved := callTool[mcp.ApproveMilestoneResponse](t, session, "approve_milestone", map[string]any{
		"project_id":   proj.ID,
		"milestone_id": first,
		"note":         "permits filed",
	})
	require.Len(t, approved.Approvals, 1)
	require.Equal(t, "alice", approved.Approvals[0].Approver)

	again := callToolError(t, session, "approve_milestone", map[string]any{"project_id": proj.ID, "milestone_id": first})
	require.Contains(t, again, "ALREADY_APPROVED")

	out := callTool[mcp.AchieveMilestoneResponse](t, session, "achieve_milestone", map[string]any{
		"project_id":    proj.ID,
		"milestone_id":  first,
		"evidence_kind": "manual_approval",
	})
	require.Equal(t, "COMPLETED", out.Milestone.Status)
	require.Len(t, out.Released, 1)
	require.Equal(t, "FINISHED", out.Released[0].Status)
	require.True(t, decimal.NewFromInt(950).Equal(ts.Ledger.Balance("creator-wallet")))

	escrows := callTool[mcp.ListEscrowsResponse](t, session, "list_escrows", map[string]any{"project_id": proj.ID})
	require.Len(t, escrows.Escrows, 1)
	require.Equal(t, "FINISHED", escrows.Escrows[0].Status)

	activity := callTool[mcp.GetActivityResponse](t, session, "get_activity", map[string]any{
		"project_id": proj.ID,
		"type":       "milestone_approved",
	})
	require.Len(t, activity.Activity, 1)
	require.Contains(t, activity.Activity[0].Summary, "alice")
}

func TestServer_AttestationEvidence(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)
	proj := createProject(t, ts, session)
	first := proj.Milestones[0].ID

	forged := callToolError(t, session, "achieve_milestone", map[string]any{
		"project_id":    proj.ID,
		"milestone_id":  first,
		"evidence_kind": "external_attestation",
		"evidence": map[string]any{
			"attestor":  testserver.AttestorName,
			"signature": hex.EncodeToString(ts.Sign("escrowfund:milestone:other:" + first)),
		},
	})
	require.Contains(t, forged, "MILESTONE_NOT_VERIFIED")

	statement := fmt.Sprintf("escrowfund:milestone:%s:%s", proj.ID, first)
	out := callTool[mcp.AchieveMilestoneResponse](t, session, "achieve_milestone", map[string]any{
		"project_id":    proj.ID,
		"milestone_id":  first,
		"evidence_kind": "external_attestation",
		"evidence": map[string]any{
			"attestor":  testserver.AttestorName,
			"signature": hex.EncodeToString(ts.Sign(statement)),
		},
	})
	require.Equal(t, "COMPLETED", out.Milestone.Status)
	require.Empty(t, out.Released)

	// Only the next milestone in order is claimable.
	got := callTool[mcp.ProjectView](t, session, "get_project", map[string]any{"project_id": proj.ID})
	require.Equal(t, "COMPLETED", got.Milestones[0].Status)
	require.Equal(t, "PENDING", got.Milestones[1].Status)
}

func TestServer_CancelRefundsInvestments(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)
	proj := createProject(t, ts, session)

	for _, investor := range []string{"investor-1", "investor-2"} {
		callTool[mcp.InvestResponse](t, session, "invest", map[string]any{
			"project_id":  proj.ID,
			"investor_id": investor,
			"principal":   "500",
		})
	}

	cancelled := callTool[mcp.ProjectView](t, session, "cancel_project", map[string]any{"project_id": proj.ID, "reason": "permits denied"})
	require.Equal(t, "CANCELLED", cancelled.Status)

	list := callTool[mcp.ListInvestmentsResponse](t, session, "list_investments", map[string]any{"project_id": proj.ID})
	require.Len(t, list.Investments, 2)
	for _, inv := range list.Investments {
		require.Equal(t, "REFUNDED", inv.Status)
		require.NotEmpty(t, inv.RefundTxRef)
	}
	require.Zero(t, ts.Ledger.OpenHolds())

	terminal := callToolError(t, session, "invest", map[string]any{
		"project_id":  proj.ID,
		"investor_id": "investor-3",
		"principal":   "100",
	})
	require.Contains(t, terminal, "PROJECT_TERMINAL")
}

func TestServer_SweepFailsUnderfundedProjects(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)
	proj := createProject(t, ts, session)
	inv := callTool[mcp.InvestResponse](t, session, "invest", map[string]any{
		"project_id":  proj.ID,
		"investor_id": "investor-1",
		"principal":   "1000",
	})

	before := callTool[mcp.SweepResponse](t, session, "sweep_deadlines", map[string]any{})
	require.Empty(t, before.FailedProjects)

	ts.Clock.Advance(31 * 24 * time.Hour)
	after := callTool[mcp.SweepResponse](t, session, "sweep_deadlines", map[string]any{})
	require.Equal(t, []string{proj.ID}, after.FailedProjects)
	require.Contains(t, after.RefundedInvestments, inv.Investment.ID)

	listed := callTool[mcp.ListProjectsResponse](t, session, "list_projects", map[string]any{"status": "failed"})
	require.Len(t, listed.Projects, 1)
	require.Equal(t, proj.ID, listed.Projects[0].ID)
}

func TestServer_ArgumentErrors(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	session := ts.Connect(t, ts.Token)
	proj := createProject(t, ts, session)

	tests := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{"unknown project", "get_project", map[string]any{"project_id": "nope"}, "PROJECT_NOT_FOUND"},
		{"bad principal", "quote_investment", map[string]any{"project_id": proj.ID, "principal": "lots"}, "VALIDATION_ERROR"},
		{"negative principal", "quote_investment", map[string]any{"project_id": proj.ID, "principal": "-5"}, "VALIDATION_ERROR"},
		{"missing investor", "invest", map[string]any{"project_id": proj.ID, "investor_id": " ", "principal": "10"}, "VALIDATION_ERROR"},
		{"unknown milestone", "approve_milestone", map[string]any{"project_id": proj.ID, "milestone_id": "nope"}, "MILESTONE_NOT_FOUND"},
		{"unknown escrow", "refresh_escrow", map[string]any{"escrow_id": "nope"}, "ESCROW_NOT_FOUND"},
		{"revenue without tokens", "distribute_revenue", map[string]any{"project_id": proj.ID, "revenue": "100"}, "INVALID_STATE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text := callToolError(t, session, tc.tool, tc.args)
			require.Contains(t, text, tc.code)
		})
	}
}
