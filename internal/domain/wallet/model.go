package wallet

import "time"

// Role identifies whose identity a wallet is.
type Role string

const (
	RolePlatform Role = "platform"
	RoleProject  Role = "project"
	RoleInvestor Role = "investor"
)

// PlatformOwnerID is the owner ID recorded for the platform wallet.
const PlatformOwnerID = "platform"

// FundingSource records how a wallet received its initial balance.
type FundingSource string

const (
	FundedByFaucet           FundingSource = "faucet"
	FundedByPlatformTransfer FundingSource = "platform_transfer"
	FundedExisting           FundingSource = "existing"
)

// Wallet is a registered ledger identity. The private key is never stored;
// it is derived from the master seed and DerivationInfo on demand.
type Wallet struct {
	Role           Role          `json:"role"`
	OwnerID        string        `json:"owner_id"`
	Address        string        `json:"address"`
	PublicKey      []byte        `json:"public_key"`
	DerivationInfo string        `json:"derivation_info"`
	FundedVia      FundingSource `json:"funded_via"`
	CreatedAt      time.Time     `json:"created_at"`
}
