package sqlite

import (
	"context"
	"testing"

	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRepository(t *testing.T) {
	db := NewTestDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, "secret-token", "ops", "primary"))
	require.ErrorIs(t, repo.Add(ctx, "secret-token", "other", ""), repository.ErrConflict)
	require.ErrorIs(t, repo.Add(ctx, "", "ops", ""), repository.ErrInvalidInput)

	operator, err := repo.ResolveOperator(ctx, "secret-token")
	require.NoError(t, err)
	require.Equal(t, "ops", operator)

	var stored string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT key_hash FROM api_keys`).Scan(&stored))
	require.Equal(t, HashAPIKey("secret-token"), stored)
	require.NotEqual(t, "secret-token", stored)

	var touched int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE last_used IS NOT NULL`).Scan(&touched))
	require.Equal(t, 1, touched)

	_, err = repo.ResolveOperator(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Revoke(ctx, "secret-token"))
	require.ErrorIs(t, repo.Revoke(ctx, "secret-token"), repository.ErrNotFound)
	_, err = repo.ResolveOperator(ctx, "secret-token")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
