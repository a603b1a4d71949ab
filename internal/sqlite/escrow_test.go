package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testEscrow(t *testing.T, id, milestoneID string, deadline time.Time) *escrow.Escrow {
	t.Helper()
	cond, ful, err := condition.Generate()
	require.NoError(t, err)
	ful.Wipe()
	now := time.Now().UTC()
	return &escrow.Escrow{
		ID:           id,
		InvestmentID: "inv-" + id,
		ProjectID:    "p1",
		MilestoneID:  milestoneID,
		Owner:        "rProject",
		Destination:  "rCreator",
		Amount:       decimal.RequireFromString("950.5"),
		Condition:    cond,
		HoldRef:      "rProject:7",
		CreateTxRef:  "tx-create-" + id,
		Deadline:     deadline.UTC(),
		Status:       escrow.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestEscrowRepository_CreateGet(t *testing.T) {
	db := NewTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()

	e := testEscrow(t, "e1", "m1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, e))
	require.ErrorIs(t, repo.Create(ctx, e), repository.ErrConflict)

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, e.Condition, got.Condition)
	require.True(t, e.Amount.Equal(got.Amount))
	require.Equal(t, escrow.StatusActive, got.Status)
	require.Equal(t, "rProject:7", got.HoldRef)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEscrowRepository_UpdateGuardsStatus(t *testing.T) {
	db := NewTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()

	e := testEscrow(t, "e1", "m1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, e))

	e.Status = escrow.StatusFinished
	e.FinishTxRef = "tx-finish"
	require.NoError(t, repo.Update(ctx, e, escrow.StatusActive))

	// A concurrent cancel that still believes the escrow is ACTIVE loses.
	e.Status = escrow.StatusCancelled
	require.ErrorIs(t, repo.Update(ctx, e, escrow.StatusActive), repository.ErrConflict)

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFinished, got.Status)
	require.Equal(t, "tx-finish", got.FinishTxRef)

	missing := testEscrow(t, "nope", "m1", time.Now())
	require.ErrorIs(t, repo.Update(ctx, missing, escrow.StatusActive), repository.ErrNotFound)
}

func TestEscrowRepository_Lists(t *testing.T) {
	db := NewTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()

	now := time.Now()
	past := testEscrow(t, "e1", "m1", now.Add(-time.Minute))
	future := testEscrow(t, "e2", "m1", now.Add(time.Hour))
	other := testEscrow(t, "e3", "m2", now.Add(-time.Hour))
	other.Status = escrow.StatusCancelled
	for _, e := range []*escrow.Escrow{past, future, other} {
		require.NoError(t, repo.Create(ctx, e))
	}

	byMilestone, err := repo.ListByMilestone(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, byMilestone, 2)

	byProject, err := repo.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byProject, 3)

	byInvestment, err := repo.ListByInvestment(ctx, "inv-e2")
	require.NoError(t, err)
	require.Len(t, byInvestment, 1)
	require.Equal(t, "e2", byInvestment[0].ID)

	due, err := repo.ListActiveDueBy(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "e1", due[0].ID)
}
