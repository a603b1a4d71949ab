// Package ledger defines the contract between escrowfund and the distributed ledger.
//
// Transactions form a closed union: only the types declared here implement Tx, and
// each is obtained from a validating constructor that assigns a client transaction
// ID. Gateways deduplicate submissions by that ID, which is what makes retrying an
// ambiguous submission safe.
package ledger

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places the ledger keeps for native funds.
const Scale = 6

// Kind names a transaction type.
type Kind string

const (
	KindTokenDefinition Kind = "token_definition"
	KindFundTransfer    Kind = "fund_transfer"
	KindTokenTransfer   Kind = "token_transfer"
	KindHoldCreate      Kind = "hold_create"
	KindHoldRelease     Kind = "hold_release"
	KindHoldCancel      Kind = "hold_cancel"
	KindAtomicContainer Kind = "atomic_container"
)

// Tx is a ledger transaction.
type Tx interface {
	// ID is the client transaction ID.
	ID() string
	Kind() Kind
	// Account is the address whose signature authorizes the transaction.
	Account() string
	sealed()
}

// Asset identifies what a transfer moves. The zero value is the native currency.
type Asset struct {
	Code   string `json:"code,omitempty"`
	Issuer string `json:"issuer,omitempty"`
}

// Native reports whether a is the ledger's native currency.
func (a Asset) Native() bool { return a.Code == "" }

func (a Asset) String() string {
	if a.Native() {
		return "native"
	}
	return a.Code + "@" + a.Issuer
}

// Token returns the asset defined by issuer under code.
func Token(code, issuer string) Asset { return Asset{Code: code, Issuer: issuer} }

var tokenCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

// ValidTokenCode reports whether code is an acceptable token code.
func ValidTokenCode(code string) bool { return tokenCodePattern.MatchString(code) }

// TokenDefinition creates a capped-supply token issued by Issuer.
type TokenDefinition struct {
	TxID   string `json:"tx_id"`
	Issuer string `json:"issuer"`
	Code   string `json:"code"`
	Supply int64  `json:"supply"`
}

// NewTokenDefinition validates and builds a TokenDefinition.
func NewTokenDefinition(issuer, code string, supply int64) (TokenDefinition, error) {
	if strings.TrimSpace(issuer) == "" {
		return TokenDefinition{}, invalid("token definition", "issuer is required")
	}
	if !tokenCodePattern.MatchString(code) {
		return TokenDefinition{}, invalid("token definition", "code %q must be 3-12 upper-case letters or digits", code)
	}
	if supply <= 0 {
		return TokenDefinition{}, invalid("token definition", "supply must be positive")
	}
	return TokenDefinition{TxID: newTxID(), Issuer: issuer, Code: code, Supply: supply}, nil
}

func (t TokenDefinition) ID() string      { return t.TxID }
func (t TokenDefinition) Kind() Kind      { return KindTokenDefinition }
func (t TokenDefinition) Account() string { return t.Issuer }
func (TokenDefinition) sealed()           {}

// Asset returns the token this definition creates.
func (t TokenDefinition) Asset() Asset { return Token(t.Code, t.Issuer) }

// FundTransfer moves native funds.
type FundTransfer struct {
	TxID        string          `json:"tx_id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
}

// NewFundTransfer validates and builds a FundTransfer.
func NewFundTransfer(source, destination string, amount decimal.Decimal) (FundTransfer, error) {
	if err := checkParties("fund transfer", source, destination); err != nil {
		return FundTransfer{}, err
	}
	if err := checkAmount("fund transfer", amount); err != nil {
		return FundTransfer{}, err
	}
	return FundTransfer{TxID: newTxID(), Source: source, Destination: destination, Amount: amount}, nil
}

func (t FundTransfer) ID() string      { return t.TxID }
func (t FundTransfer) Kind() Kind      { return KindFundTransfer }
func (t FundTransfer) Account() string { return t.Source }
func (FundTransfer) sealed()           {}

// TokenTransfer moves whole units of an issued token. A transfer whose source is the
// issuer mints from the remaining supply.
type TokenTransfer struct {
	TxID        string `json:"tx_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Asset       Asset  `json:"asset"`
	Amount      int64  `json:"amount"`
}

// NewTokenTransfer validates and builds a TokenTransfer.
func NewTokenTransfer(source, destination string, asset Asset, amount int64) (TokenTransfer, error) {
	if err := checkParties("token transfer", source, destination); err != nil {
		return TokenTransfer{}, err
	}
	if asset.Native() || asset.Issuer == "" {
		return TokenTransfer{}, invalid("token transfer", "asset must be an issued token")
	}
	if amount <= 0 {
		return TokenTransfer{}, invalid("token transfer", "amount must be positive")
	}
	return TokenTransfer{TxID: newTxID(), Source: source, Destination: destination, Asset: asset, Amount: amount}, nil
}

func (t TokenTransfer) ID() string      { return t.TxID }
func (t TokenTransfer) Kind() Kind      { return KindTokenTransfer }
func (t TokenTransfer) Account() string { return t.Source }
func (TokenTransfer) sealed()           {}

// HoldCreate locks Amount from Owner until the condition is fulfilled or CancelAfter passes.
// It never carries the fulfillment.
type HoldCreate struct {
	TxID        string              `json:"tx_id"`
	Owner       string              `json:"owner"`
	Destination string              `json:"destination"`
	Amount      decimal.Decimal     `json:"amount"`
	Condition   condition.Condition `json:"condition"`
	CancelAfter time.Time           `json:"cancel_after"`
	Fee         decimal.Decimal     `json:"fee"`
}

// NewHoldCreate validates and builds a HoldCreate.
func NewHoldCreate(owner, destination string, amount decimal.Decimal, cond condition.Condition, cancelAfter time.Time, fee decimal.Decimal) (HoldCreate, error) {
	if err := checkParties("hold create", owner, destination); err != nil {
		return HoldCreate{}, err
	}
	if err := checkAmount("hold create", amount); err != nil {
		return HoldCreate{}, err
	}
	if _, err := cond.Digest(); err != nil {
		return HoldCreate{}, invalid("hold create", "condition: %v", err)
	}
	if cancelAfter.IsZero() {
		return HoldCreate{}, invalid("hold create", "cancel-after time is required")
	}
	if fee.IsNegative() {
		return HoldCreate{}, invalid("hold create", "fee must not be negative")
	}
	return HoldCreate{
		TxID:        newTxID(),
		Owner:       owner,
		Destination: destination,
		Amount:      amount,
		Condition:   cond,
		CancelAfter: cancelAfter.UTC(),
		Fee:         fee,
	}, nil
}

func (t HoldCreate) ID() string      { return t.TxID }
func (t HoldCreate) Kind() Kind      { return KindHoldCreate }
func (t HoldCreate) Account() string { return t.Owner }
func (HoldCreate) sealed()           {}

// HoldRelease finishes a hold by presenting its fulfillment.
type HoldRelease struct {
	TxID        string                `json:"tx_id"`
	Submitter   string                `json:"submitter"`
	HoldRef     string                `json:"hold_ref"`
	Condition   condition.Condition   `json:"condition"`
	Fulfillment condition.Fulfillment `json:"fulfillment"`
}

// NewHoldRelease validates and builds a HoldRelease.
func NewHoldRelease(submitter, holdRef string, cond condition.Condition, ful condition.Fulfillment) (HoldRelease, error) {
	if strings.TrimSpace(submitter) == "" || strings.TrimSpace(holdRef) == "" {
		return HoldRelease{}, invalid("hold release", "submitter and hold reference are required")
	}
	if ful.IsZero() {
		return HoldRelease{}, invalid("hold release", "fulfillment is required")
	}
	return HoldRelease{TxID: newTxID(), Submitter: submitter, HoldRef: holdRef, Condition: cond, Fulfillment: ful}, nil
}

func (t HoldRelease) ID() string      { return t.TxID }
func (t HoldRelease) Kind() Kind      { return KindHoldRelease }
func (t HoldRelease) Account() string { return t.Submitter }
func (HoldRelease) sealed()           {}

// HoldCancel returns held funds to the owner once the hold's CancelAfter has passed.
type HoldCancel struct {
	TxID      string `json:"tx_id"`
	Submitter string `json:"submitter"`
	HoldRef   string `json:"hold_ref"`
}

// NewHoldCancel validates and builds a HoldCancel.
func NewHoldCancel(submitter, holdRef string) (HoldCancel, error) {
	if strings.TrimSpace(submitter) == "" || strings.TrimSpace(holdRef) == "" {
		return HoldCancel{}, invalid("hold cancel", "submitter and hold reference are required")
	}
	return HoldCancel{TxID: newTxID(), Submitter: submitter, HoldRef: holdRef}, nil
}

func (t HoldCancel) ID() string      { return t.TxID }
func (t HoldCancel) Kind() Kind      { return KindHoldCancel }
func (t HoldCancel) Account() string { return t.Submitter }
func (HoldCancel) sealed()           {}

// Mode selects how an AtomicContainer applies its inner transactions.
type Mode string

const (
	// ModeAllOrNothing applies every inner transaction or none of them.
	ModeAllOrNothing Mode = "ALL_OR_NOTHING"
	// ModeIndependent applies each inner transaction on its own.
	ModeIndependent Mode = "INDEPENDENT"
	// ModeOnlyOne applies the first inner transaction that succeeds.
	ModeOnlyOne Mode = "ONLY_ONE"
	// ModeUntilFailure applies inner transactions in order until one fails.
	ModeUntilFailure Mode = "UNTIL_FAILURE"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAllOrNothing, ModeIndependent, ModeOnlyOne, ModeUntilFailure:
		return true
	}
	return false
}

// Signature is a co-signature authorizing inner transactions of another account.
type Signature struct {
	Account   string `json:"account"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// AtomicContainer bundles inner transactions into one submission.
type AtomicContainer struct {
	TxID      string      `json:"tx_id"`
	Submitter string      `json:"submitter"`
	Mode      Mode        `json:"mode"`
	Inner     []Tx        `json:"inner"`
	CoSigners []Signature `json:"-"`
}

// NewAtomicContainer validates and builds an AtomicContainer. Containers do not nest.
func NewAtomicContainer(submitter string, mode Mode, inner []Tx) (AtomicContainer, error) {
	if strings.TrimSpace(submitter) == "" {
		return AtomicContainer{}, invalid("atomic container", "submitter is required")
	}
	if !mode.Valid() {
		return AtomicContainer{}, invalid("atomic container", "unknown mode %q", mode)
	}
	if len(inner) == 0 {
		return AtomicContainer{}, invalid("atomic container", "at least one inner transaction is required")
	}
	seen := make(map[string]struct{}, len(inner))
	for i, tx := range inner {
		if tx == nil {
			return AtomicContainer{}, invalid("atomic container", "inner transaction %d is nil", i)
		}
		if tx.Kind() == KindAtomicContainer {
			return AtomicContainer{}, invalid("atomic container", "containers cannot nest")
		}
		if _, dup := seen[tx.ID()]; dup {
			return AtomicContainer{}, invalid("atomic container", "duplicate inner transaction %s", tx.ID())
		}
		seen[tx.ID()] = struct{}{}
	}
	copied := make([]Tx, len(inner))
	copy(copied, inner)
	return AtomicContainer{TxID: newTxID(), Submitter: submitter, Mode: mode, Inner: copied}, nil
}

func (t AtomicContainer) ID() string      { return t.TxID }
func (t AtomicContainer) Kind() Kind      { return KindAtomicContainer }
func (t AtomicContainer) Account() string { return t.Submitter }
func (AtomicContainer) sealed()           {}

// Accounts lists the distinct inner accounts other than the submitter.
func (t AtomicContainer) Accounts() []string {
	var out []string
	seen := map[string]struct{}{t.Submitter: {}}
	for _, tx := range t.Inner {
		if _, ok := seen[tx.Account()]; ok {
			continue
		}
		seen[tx.Account()] = struct{}{}
		out = append(out, tx.Account())
	}
	return out
}

func newTxID() string { return uuid.NewString() }

func checkParties(op, source, destination string) error {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(destination) == "" {
		return invalid(op, "source and destination are required")
	}
	if source == destination {
		return invalid(op, "source and destination must differ")
	}
	return nil
}

func checkAmount(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(op, "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return invalid(op, "amount %s has more than %d decimal places", amount, Scale)
	}
	return nil
}

func invalid(op, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, args...), ErrInvalidTransaction)
}
