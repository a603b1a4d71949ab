package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/stretchr/testify/require"
)

func TestActivityRepository_LogList(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	repo := NewActivityRepository(db)
	entry1 := &activity.ActivityEntry{
		ProjectID:    "p1",
		ActivityType: activity.TypeProjectCreated,
		Summary:      "Created project",
		Details:      `{"target":"10000"}`,
	}
	entry2 := &activity.ActivityEntry{
		ProjectID:    "p1",
		ActivityType: activity.TypeInvestmentConfirmed,
		Summary:      "Invested 1000",
	}

	require.NoError(t, repo.Log(ctx, entry1))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.Log(ctx, entry2))
	require.NotZero(t, entry1.ID)

	entries, err := repo.List(ctx, activity.ListActivityOptions{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, entry2.ActivityType, entries[0].ActivityType)
	require.Equal(t, entry1.ActivityType, entries[1].ActivityType)
	require.Nil(t, entries[0].InvestmentID)
}

func TestActivityRepository_Filters(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	repo := NewActivityRepository(db)
	investmentID := "i1"
	escrowID := "e1"
	require.NoError(t, repo.Log(ctx, &activity.ActivityEntry{
		ProjectID:    "p1",
		InvestmentID: &investmentID,
		EscrowID:     &escrowID,
		ActivityType: activity.TypeEscrowCreated,
		Summary:      "Escrow created",
	}))
	require.NoError(t, repo.Log(ctx, &activity.ActivityEntry{
		ProjectID:    "p2",
		ActivityType: activity.TypeProjectCreated,
		Summary:      "Other project",
	}))

	activityType := activity.TypeEscrowCreated
	entries, err := repo.List(ctx, activity.ListActivityOptions{
		ProjectID:    "p1",
		InvestmentID: &investmentID,
		EscrowID:     &escrowID,
		ActivityType: &activityType,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "e1", *entries[0].EscrowID)

	entries, err = repo.List(ctx, activity.ListActivityOptions{ProjectID: "p3"})
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = repo.List(ctx, activity.ListActivityOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "p2", entries[0].ProjectID)
}
