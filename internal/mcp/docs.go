package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `escrowfund runs crowdfunding projects whose investor funds sit in conditional ledger holds until milestones are proven.

Core concepts:
- Project: funding campaign with a target, a deadline, a token supply and ordered milestones.
- Investment: a settled contribution. Fee, net principal and tokens move in one atomic batch or not at all.
- Escrow: a hold of one investment's net amount, released to the creator when its milestone is accepted.
- Milestone: claimable only after every earlier milestone is COMPLETED.

Workflow:
1) create_project, then quote_investment to preview fees and tokens.
2) invest settles and opens the escrow for the current milestone.
3) achieve_milestone with evidence releases that milestone's escrows. manual_approval evidence needs approve_milestone first.
4) distribute_revenue pays revenue held by the project wallet to platform, creator and token holders.
5) cancel_project refunds every unreleased investment. sweep_deadlines fails underfunded projects past their deadline.

Errors carry a code. CONDITION_MISMATCH is never retried. UNKNOWN_OUTCOME means funds may have moved: run reconcile_escrows first, and for invest look up the reported tx_id before investing again.

Docs:
- escrowfund://docs/lifecycle
- escrowfund://docs/evidence
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "escrowfund://docs/lifecycle",
		Name:        "docs_lifecycle",
		Title:       "Project and escrow lifecycle",
		Description: "State machines for projects, investments and escrows.",
		Content: `# Lifecycle

## Project

DRAFT -> ACTIVE -> FUNDED -> COMPLETED

ACTIVE may also become FAILED (deadline passed below target) or CANCELLED.
FUNDED may be CANCELLED. COMPLETED, FAILED and CANCELLED are terminal.

A project becomes FUNDED when confirmed principal reaches the target, and
COMPLETED when its last milestone is achieved (or finalize_project is called
after every milestone is COMPLETED).

## Investment

CONFIRMED on settlement. REFUNDED when the project is cancelled or fails, or
when its escrow expires. Refunds return the net amount; the platform fee is kept.

## Escrow

PENDING -> ACTIVE once the ledger confirms the hold, or FAILED when it never
opened. reconcile_escrows and cancel_project settle PENDING escrows.

ACTIVE -> FINISHED (released to the creator) or CANCELLED (returned to the
project wallet). An ACTIVE escrow past its deadline reads as EXPIRED until
sweep_deadlines cancels it.
`,
	},
	{
		URI:         "escrowfund://docs/evidence",
		Name:        "docs_evidence",
		Title:       "Milestone evidence",
		Description: "Evidence kinds accepted by achieve_milestone.",
		Content: `# Evidence

- repository_link: {"url": "https://github.com/org/repo/releases/tag/v1"}
  The host must be on the allow list.
- external_attestation: {"attestor": "name", "signature": "<hex ed25519 signature>"}
  The attestor signs "escrowfund:milestone:<project_id>:<milestone_id>".
- manual_approval: no payload. Requires approve_milestone from enough distinct operators.

Rejected evidence leaves the milestone PENDING and may be resubmitted.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
