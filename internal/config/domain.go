package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/gateway"
	"github.com/shopspring/decimal"
)

// ProjectSettings returns the project ledger settings.
func (c Config) ProjectSettings() project.Config {
	return project.Config{
		Fees: project.FeeConfig{
			Stage:              project.Stage(c.Fees.Stage),
			EarlyRate:          decimal.NewFromFloat(c.Fees.EarlyRate),
			GrowthRate:         decimal.NewFromFloat(c.Fees.GrowthRate),
			PlatformTokenShare: decimal.NewFromFloat(c.Fees.PlatformTokenShare),
		},
		Split: project.RevenueSplit{
			Platform: decimal.NewFromFloat(c.Revenue.Platform),
			Creator:  decimal.NewFromFloat(c.Revenue.Creator),
			Investor: decimal.NewFromFloat(c.Revenue.Investor),
		},
		DefaultHold: c.Escrow.DefaultHold,
	}
}

// EscrowSettings returns the escrow coordinator settings.
func (c Config) EscrowSettings() escrow.Config {
	return escrow.Config{Fee: decimal.NewFromFloat(c.Escrow.Fee)}
}

// WalletSettings returns the wallet registry settings.
func (c Config) WalletSettings() wallet.Config {
	return wallet.Config{ProjectFunding: decimal.NewFromFloat(c.Wallet.ProjectFunding)}
}

// GatewaySettings returns the gateway adapter settings.
func (c Config) GatewaySettings() gateway.Config {
	return gateway.Config{
		CallTimeout:    c.Ledger.CallTimeout,
		MaxAttempts:    c.Ledger.MaxAttempts,
		BackoffInitial: c.Ledger.BackoffInitial,
		BackoffMax:     c.Ledger.BackoffMax,
	}
}

// TrustedAttestors decodes the configured attestor keys.
func (c Config) TrustedAttestors() (map[string]ed25519.PublicKey, error) {
	keys := make(map[string]ed25519.PublicKey, len(c.Evidence.Attestors))
	for name, encoded := range c.Evidence.Attestors {
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("attestor %s key is not hex: %w", name, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("attestor %s key must be %d bytes, got %d", name, ed25519.PublicKeySize, len(raw))
		}
		keys[name] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
