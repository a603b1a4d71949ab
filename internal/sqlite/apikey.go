package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/escrowfund/internal/repository"
)

// APIKeyRepository stores operator API keys by their SHA-256 hash.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// HashAPIKey returns the stored form of a key.
func HashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Add registers token for operator.
func (r *APIKeyRepository) Add(ctx context.Context, token, operator, description string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(operator) == "" {
		return fmt.Errorf("token and operator are required: %w", repository.ErrInvalidInput)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, operator, description, created_at) VALUES (?, ?, ?, ?)`,
		HashAPIKey(token), operator, description, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to add api key: %w", err)
	}
	return nil
}

// ResolveOperator returns the operator owning token and stamps its last use.
func (r *APIKeyRepository) ResolveOperator(ctx context.Context, token string) (string, error) {
	hash := HashAPIKey(token)
	var operator string
	err := r.db.QueryRowContext(ctx, `SELECT operator FROM api_keys WHERE key_hash = ?`, hash).Scan(&operator)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve api key: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, time.Now().UTC(), hash); err != nil {
		return "", fmt.Errorf("failed to touch api key: %w", err)
	}
	return operator, nil
}

// Revoke deletes token. Revoking an unknown key is ErrNotFound.
func (r *APIKeyRepository) Revoke(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key_hash = ?`, HashAPIKey(token))
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
