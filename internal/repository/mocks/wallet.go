package mocks

import (
	"context"

	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/stretchr/testify/mock"
)

// WalletRepository is a mock for wallet.Repository.
type WalletRepository struct {
	mock.Mock
}

func (m *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *WalletRepository) Get(ctx context.Context, role wallet.Role, ownerID string) (*wallet.Wallet, error) {
	args := m.Called(ctx, role, ownerID)
	if w, ok := args.Get(0).(*wallet.Wallet); ok {
		return w, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *WalletRepository) List(ctx context.Context, role wallet.Role) ([]wallet.Wallet, error) {
	args := m.Called(ctx, role)
	if list, ok := args.Get(0).([]wallet.Wallet); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
