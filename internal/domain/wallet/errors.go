package wallet

import (
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/fault"
)

var (
	// ErrWalletNotFound indicates no wallet is registered for the owner.
	ErrWalletNotFound = fmt.Errorf("wallet not found: %w", fault.ErrNotFound)
	// ErrSeedTooShort indicates a master seed below MinSeedSize bytes.
	ErrSeedTooShort = fmt.Errorf("master seed too short: %w", fault.ErrValidation)
	// ErrNotInitialized indicates the platform wallet has not been initialized.
	ErrNotInitialized = fmt.Errorf("wallet registry not initialized: %w", fault.ErrInvalidState)
	// ErrFundingFailed indicates neither the faucet nor a platform transfer funded the wallet.
	ErrFundingFailed = fmt.Errorf("wallet funding failed: %w", fault.ErrGateway)
	// ErrInvalidInput indicates a missing owner ID.
	ErrInvalidInput = fmt.Errorf("invalid wallet input: %w", fault.ErrValidation)
)
