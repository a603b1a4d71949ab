package wallet

import "context"

// Repository persists registered wallets.
type Repository interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, role Role, ownerID string) (*Wallet, error)
	List(ctx context.Context, role Role) ([]Wallet, error)
}
