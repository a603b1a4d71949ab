// Package wallet derives, funds and records the ledger identities used by the
// platform, each project and custodial investors.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/hkdf"
)

// MinSeedSize is the smallest accepted master seed in bytes.
const MinSeedSize = 32

const derivationSalt = "escrowfund/wallet"

// Config holds registry settings.
type Config struct {
	// ProjectFunding is transferred from the platform wallet when the faucet
	// cannot fund a new project wallet.
	ProjectFunding decimal.Decimal
}

// Registry manages wallets. It must be initialized with InitializePlatformWallet
// before any other identity can be derived.
type Registry struct {
	repo    Repository
	gateway ledger.Gateway
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	seed     []byte
	platform *Wallet
}

// NewRegistry creates a Registry.
func NewRegistry(repo Repository, gateway ledger.Gateway, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, gateway: gateway, cfg: cfg, logger: logger, now: time.Now}
}

// InitializePlatformWallet derives the platform identity from masterSeed, funds it
// from the faucet when the account is missing or empty, and records it. The seed
// is copied and retained for later derivations.
func (r *Registry) InitializePlatformWallet(ctx context.Context, masterSeed []byte) (*Wallet, error) {
	if len(masterSeed) < MinSeedSize {
		return nil, fmt.Errorf("%d bytes, need %d: %w", len(masterSeed), MinSeedSize, ErrSeedTooShort)
	}
	seed := append([]byte(nil), masterSeed...)
	info := derivationInfo(RolePlatform, PlatformOwnerID)
	key, err := derive(seed, info)
	if err != nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	address := ledger.AddressFromPublicKey(pub)

	existing, err := r.lookup(ctx, RolePlatform, PlatformOwnerID)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	if existing != nil && existing.Address != address {
		return nil, fmt.Errorf("master seed does not match registered platform wallet %s: %w", existing.Address, ErrInvalidInput)
	}

	state, err := r.gateway.Query(ctx, ledger.AccountRef(address))
	if err != nil {
		return nil, fmt.Errorf("querying platform account: %w", err)
	}
	via := FundedExisting
	if !state.Found || !state.Balance.IsPositive() {
		amount, err := r.gateway.Fund(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("funding platform wallet: %w", err)
		}
		via = FundedByFaucet
		r.logger.Info("platform wallet funded", "address", address, "amount", amount)
	}

	w := existing
	if w == nil {
		w = &Wallet{
			Role:           RolePlatform,
			OwnerID:        PlatformOwnerID,
			Address:        address,
			PublicKey:      pub,
			DerivationInfo: info,
			FundedVia:      via,
			CreatedAt:      r.now().UTC(),
		}
		if err := r.store(ctx, w); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.seed = seed
	r.platform = w
	r.mu.Unlock()
	return w, nil
}

// CreateProjectWallet derives and funds the wallet for projectID. Calling it again
// returns the registered wallet. When both faucet and platform transfer fail,
// nothing is registered.
func (r *Registry) CreateProjectWallet(ctx context.Context, projectID string) (*Wallet, error) {
	return r.ensure(ctx, RoleProject, projectID, true)
}

// EnsureInvestorWallet derives and registers a custodial wallet for investorID.
func (r *Registry) EnsureInvestorWallet(ctx context.Context, investorID string) (*Wallet, error) {
	return r.ensure(ctx, RoleInvestor, investorID, false)
}

// GetWallet returns the wallet registered for projectID.
func (r *Registry) GetWallet(ctx context.Context, projectID string) (*Wallet, error) {
	return r.lookup(ctx, RoleProject, projectID)
}

// GetInvestorWallet returns the wallet registered for investorID.
func (r *Registry) GetInvestorWallet(ctx context.Context, investorID string) (*Wallet, error) {
	return r.lookup(ctx, RoleInvestor, investorID)
}

// GetPlatformWallet returns the platform wallet.
func (r *Registry) GetPlatformWallet(ctx context.Context) (*Wallet, error) {
	r.mu.Lock()
	w := r.platform
	r.mu.Unlock()
	if w != nil {
		return w, nil
	}
	return r.lookup(ctx, RolePlatform, PlatformOwnerID)
}

// Signer re-derives the signing key for w.
func (r *Registry) Signer(_ context.Context, w *Wallet) (ledger.Signer, error) {
	if w == nil {
		return nil, ErrWalletNotFound
	}
	r.mu.Lock()
	seed := r.seed
	r.mu.Unlock()
	if seed == nil {
		return nil, ErrNotInitialized
	}
	key, err := derive(seed, w.DerivationInfo)
	if err != nil {
		return nil, err
	}
	signer := ledger.NewKeySigner(key)
	if signer.Address() != w.Address {
		return nil, fmt.Errorf("derived address %s does not match wallet %s: %w", signer.Address(), w.Address, ErrInvalidInput)
	}
	return signer, nil
}

// PlatformSigner returns the platform signing identity.
func (r *Registry) PlatformSigner(ctx context.Context) (ledger.Signer, error) {
	w, err := r.GetPlatformWallet(ctx)
	if err != nil {
		return nil, err
	}
	return r.Signer(ctx, w)
}

// ProjectSigner returns the signing identity of projectID's wallet.
func (r *Registry) ProjectSigner(ctx context.Context, projectID string) (ledger.Signer, error) {
	w, err := r.GetWallet(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return r.Signer(ctx, w)
}

// InvestorSigner returns the signing identity of investorID's custodial wallet.
func (r *Registry) InvestorSigner(ctx context.Context, investorID string) (ledger.Signer, error) {
	w, err := r.GetInvestorWallet(ctx, investorID)
	if err != nil {
		return nil, err
	}
	return r.Signer(ctx, w)
}

func (r *Registry) ensure(ctx context.Context, role Role, ownerID string, platformFallback bool) (*Wallet, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%s owner ID is required: %w", role, ErrInvalidInput)
	}
	existing, err := r.lookup(ctx, role, ownerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	r.mu.Lock()
	seed := r.seed
	r.mu.Unlock()
	if seed == nil {
		return nil, ErrNotInitialized
	}

	info := derivationInfo(role, ownerID)
	key, err := derive(seed, info)
	if err != nil {
		return nil, err
	}
	signer := ledger.NewKeySigner(key)
	defer signer.Wipe()

	via, err := r.fund(ctx, signer.Address(), platformFallback)
	if err != nil {
		return nil, fmt.Errorf("funding %s wallet %s: %w", role, ownerID, err)
	}

	w := &Wallet{
		Role:           role,
		OwnerID:        ownerID,
		Address:        signer.Address(),
		PublicKey:      signer.PublicKey(),
		DerivationInfo: info,
		FundedVia:      via,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.store(ctx, w); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return r.lookup(ctx, role, ownerID)
		}
		return nil, err
	}
	r.logger.Info("wallet registered", "role", role, "owner_id", ownerID, "address", w.Address, "funded_via", via)
	return w, nil
}

func (r *Registry) fund(ctx context.Context, address string, platformFallback bool) (FundingSource, error) {
	_, faucetErr := r.gateway.Fund(ctx, address)
	if faucetErr == nil {
		return FundedByFaucet, nil
	}
	if !platformFallback || !r.cfg.ProjectFunding.IsPositive() {
		return "", errors.Join(ErrFundingFailed, faucetErr)
	}
	r.logger.Warn("faucet funding failed, using platform transfer", "address", address, "error", faucetErr)

	platform, err := r.PlatformSigner(ctx)
	if err != nil {
		return "", errors.Join(ErrFundingFailed, faucetErr, err)
	}
	tx, err := ledger.NewFundTransfer(platform.Address(), address, r.cfg.ProjectFunding)
	if err != nil {
		return "", err
	}
	res, err := r.gateway.Submit(ctx, tx, platform)
	if err != nil {
		return "", errors.Join(ErrFundingFailed, faucetErr, err)
	}
	if !res.Accepted {
		return "", errors.Join(ErrFundingFailed, faucetErr, ledger.Reject(tx, res))
	}
	return FundedByPlatformTransfer, nil
}

func (r *Registry) lookup(ctx context.Context, role Role, ownerID string) (*Wallet, error) {
	w, err := r.repo.Get(ctx, role, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("getting %s wallet %s: %w", role, ownerID, err)
	}
	return w, nil
}

func (r *Registry) store(ctx context.Context, w *Wallet) error {
	if err := r.repo.Create(ctx, w); err != nil {
		return fmt.Errorf("registering %s wallet %s: %w", w.Role, w.OwnerID, err)
	}
	return nil
}

func derivationInfo(role Role, ownerID string) string {
	if role == RolePlatform {
		return string(RolePlatform)
	}
	return string(role) + "/" + ownerID
}

func derive(seed []byte, info string) (ed25519.PrivateKey, error) {
	kdf := hkdf.New(sha256.New, seed, []byte(derivationSalt), []byte(info))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, keySeed); err != nil {
		return nil, fmt.Errorf("deriving key for %s: %w", info, err)
	}
	key := ed25519.NewKeyFromSeed(keySeed)
	for i := range keySeed {
		keySeed[i] = 0
	}
	return key, nil
}
