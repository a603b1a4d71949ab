package sqlite

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/repository"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealKeySize is the length of the key that seals stored fulfillments.
const SealKeySize = chacha20poly1305.KeySize

// SecretStore implements escrow.SecretStore, sealing each fulfillment with
// XChaCha20-Poly1305 bound to its escrow ID.
type SecretStore struct {
	db   *DB
	aead cipher.AEAD
}

// NewSecretStore creates a SecretStore sealing with key.
func NewSecretStore(db *DB, key []byte) (*SecretStore, error) {
	if len(key) != SealKeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d: %w", SealKeySize, len(key), repository.ErrInvalidInput)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return &SecretStore{db: db, aead: aead}, nil
}

// NewSealKey returns a random seal key.
func NewSealKey() ([]byte, error) {
	key := make([]byte, SealKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate seal key: %w", err)
	}
	return key, nil
}

// Put seals and stores the fulfillment for an escrow.
func (s *SecretStore) Put(ctx context.Context, escrowID string, f condition.Fulfillment) error {
	if f.IsZero() {
		return fmt.Errorf("empty fulfillment: %w", repository.ErrInvalidInput)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	plain := f.Reveal()
	sealed := s.aead.Seal(nil, nonce, plain, []byte(escrowID))
	clear(plain)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escrow_secrets (escrow_id, nonce, ciphertext, created_at) VALUES (?, ?, ?, ?)`,
		escrowID, nonce, sealed, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Get unseals the fulfillment for an escrow.
func (s *SecretStore) Get(ctx context.Context, escrowID string) (condition.Fulfillment, error) {
	var nonce, sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT nonce, ciphertext FROM escrow_secrets WHERE escrow_id = ?`, escrowID,
	).Scan(&nonce, &sealed)
	if err == sql.ErrNoRows {
		return condition.Fulfillment{}, repository.ErrNotFound
	}
	if err != nil {
		return condition.Fulfillment{}, fmt.Errorf("failed to load secret: %w", err)
	}

	plain, err := s.aead.Open(nil, nonce, sealed, []byte(escrowID))
	if err != nil {
		return condition.Fulfillment{}, fmt.Errorf("failed to unseal secret for escrow %s: %w", escrowID, err)
	}
	defer clear(plain)

	f, err := condition.FulfillmentFromDER(plain)
	if err != nil {
		return condition.Fulfillment{}, fmt.Errorf("stored secret for escrow %s: %w", escrowID, err)
	}
	return f, nil
}

// Delete removes the fulfillment for an escrow. Deleting a missing secret is not an error.
func (s *SecretStore) Delete(ctx context.Context, escrowID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM escrow_secrets WHERE escrow_id = ?`, escrowID); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// CountSecrets returns how many sealed fulfillments are stored. It needs no key.
func CountSecrets(ctx context.Context, db *DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escrow_secrets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count secrets: %w", err)
	}
	return n, nil
}
