package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/repository"
)

// WalletRepository implements wallet.Repository for SQLite
type WalletRepository struct {
	db *DB
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(db *DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create registers a wallet. A second wallet for the same role and owner is a conflict.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	query := `
		INSERT INTO wallets (role, owner_id, address, public_key, derivation_info, funded_via, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		string(w.Role),
		w.OwnerID,
		w.Address,
		w.PublicKey,
		w.DerivationInfo,
		string(w.FundedVia),
		w.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// Get retrieves the wallet of an owner in a role
func (r *WalletRepository) Get(ctx context.Context, role wallet.Role, ownerID string) (*wallet.Wallet, error) {
	query := `
		SELECT role, owner_id, address, public_key, derivation_info, funded_via, created_at
		FROM wallets
		WHERE role = ? AND owner_id = ?
	`

	w, err := scanWallet(r.db.QueryRowContext(ctx, query, string(role), ownerID))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// List returns every wallet in a role
func (r *WalletRepository) List(ctx context.Context, role wallet.Role) ([]wallet.Wallet, error) {
	query := `
		SELECT role, owner_id, address, public_key, derivation_info, funded_via, created_at
		FROM wallets
		WHERE role = ?
		ORDER BY created_at, owner_id
	`

	rows, err := r.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}
	return wallets, nil
}

func scanWallet(row rowScanner) (*wallet.Wallet, error) {
	var w wallet.Wallet
	var role, fundedVia string
	err := row.Scan(&role, &w.OwnerID, &w.Address, &w.PublicKey, &w.DerivationInfo, &fundedVia, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Role = wallet.Role(role)
	w.FundedVia = wallet.FundingSource(fundedVia)
	return &w, nil
}
