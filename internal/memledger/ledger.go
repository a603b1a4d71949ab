// Package memledger is an in-process ledger implementing ledger.Gateway.
//
// It keeps native balances, capped-supply tokens and conditional holds, enforces
// signatures and co-signatures, deduplicates by client transaction ID and applies
// atomic containers on a copy of the state so a failing inner transaction leaves
// nothing behind. Fault injection hooks let tests force rejections, drop responses
// after applying a transaction, or make the network unavailable.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// DefaultFaucetAmount is credited by Fund unless WithFaucet overrides it.
var DefaultFaucetAmount = decimal.NewFromInt(1000)

// Ledger is a mutex-guarded simulated ledger. The zero value is not usable; call New.
type Ledger struct {
	mu sync.Mutex

	now       func() time.Time
	faucet    decimal.Decimal
	hasFaucet bool
	st        *state
	txs       map[string]ledger.Result
	seq       int64

	failWhen    func(tx ledger.Tx) string
	dropping    int
	unavailable bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects the time source used for hold deadlines.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithFaucet sets the amount credited by Fund.
func WithFaucet(amount decimal.Decimal) Option {
	return func(l *Ledger) { l.faucet = amount }
}

// WithoutFaucet makes Fund fail, as on networks with no faucet.
func WithoutFaucet() Option {
	return func(l *Ledger) { l.hasFaucet = false }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:       time.Now,
		faucet:    DefaultFaucetAmount,
		hasFaucet: true,
		st:        newState(),
		txs:       make(map[string]ledger.Result),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailWhen installs a hook consulted before every transaction, inner ones included.
// A non-empty return value rejects the transaction with that result code.
func (l *Ledger) FailWhen(fn func(tx ledger.Tx) string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWhen = fn
}

// DropResponses makes the next n submissions apply normally and then report ErrTimeout.
func (l *Ledger) DropResponses(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropping = n
}

// SetUnavailable toggles whether every call fails with ErrUnavailable.
func (l *Ledger) SetUnavailable(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = down
}

// SetFaucetEnabled toggles whether Fund succeeds.
func (l *Ledger) SetFaucetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasFaucet = enabled
}

// Connect implements ledger.Gateway.
func (l *Ledger) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return ledger.ErrUnavailable
	}
	return nil
}

// Fund implements ledger.Gateway.
func (l *Ledger) Fund(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return decimal.Zero, ledger.ErrUnavailable
	}
	if !l.hasFaucet {
		return decimal.Zero, ledger.ErrFaucetUnavailable
	}
	if strings.TrimSpace(address) == "" {
		return decimal.Zero, fmt.Errorf("funding empty address: %w", ledger.ErrInvalidTransaction)
	}
	acct := l.st.account(address)
	acct.balance = acct.balance.Add(l.faucet)
	return l.faucet, nil
}

// Submit implements ledger.Gateway.
func (l *Ledger) Submit(ctx context.Context, tx ledger.Tx, signer ledger.Signer) (ledger.Result, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Result{}, err
	}
	if tx == nil || signer == nil {
		return ledger.Result{}, fmt.Errorf("submit requires a transaction and signer: %w", ledger.ErrInvalidTransaction)
	}
	payload, err := ledger.SigningPayload(tx)
	if err != nil {
		return ledger.Result{}, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return ledger.Result{}, fmt.Errorf("signing %s: %w", tx.Kind(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return ledger.Result{}, ledger.ErrUnavailable
	}
	if tx.ID() == "" {
		return ledger.Result{TxID: tx.ID(), ResultCode: ledger.CodeMalformed}, nil
	}
	if prior, ok := l.txs[tx.ID()]; ok {
		return l.respond(prior)
	}

	var res ledger.Result
	switch {
	case signer.Address() != tx.Account():
		res = l.reject(tx, ledger.CodeNoPermission)
	case !ledger.VerifySignature(tx, signer.Address(), signer.PublicKey(), sig):
		res = l.reject(tx, ledger.CodeBadSignature)
	default:
		res = l.apply(tx)
	}
	l.txs[tx.ID()] = res
	return l.respond(res)
}

func (l *Ledger) respond(res ledger.Result) (ledger.Result, error) {
	if l.dropping > 0 {
		l.dropping--
		return ledger.Result{}, ledger.ErrTimeout
	}
	return res, nil
}

// Query implements ledger.Gateway.
func (l *Ledger) Query(ctx context.Context, ref ledger.Ref) (ledger.State, error) {
	if err := ctx.Err(); err != nil {
		return ledger.State{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return ledger.State{}, ledger.ErrUnavailable
	}

	switch ref.Kind {
	case ledger.RefAccount:
		acct, ok := l.st.accounts[ref.ID]
		if !ok {
			return ledger.State{}, nil
		}
		tokens := make(map[ledger.Asset]int64, len(acct.tokens))
		for k, v := range acct.tokens {
			tokens[k] = v
		}
		return ledger.State{Found: true, Balance: acct.balance, Tokens: tokens}, nil
	case ledger.RefTransaction:
		res, ok := l.txs[ref.ID]
		if !ok {
			return ledger.State{}, nil
		}
		return ledger.State{Found: true, Tx: &res}, nil
	case ledger.RefHold:
		h, ok := l.st.holds[ref.ID]
		if !ok {
			return ledger.State{}, nil
		}
		return ledger.State{Found: true, Hold: &ledger.HoldState{
			Owner:       h.owner,
			Destination: h.destination,
			Amount:      h.amount,
			Condition:   h.condition.String(),
			CancelAfter: h.cancelAfter,
		}}, nil
	default:
		return ledger.State{}, fmt.Errorf("unknown reference kind %q: %w", ref.Kind, ledger.ErrInvalidTransaction)
	}
}

// Balance returns the native balance of address.
func (l *Ledger) Balance(address string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.st.accounts[address]; ok {
		return acct.balance
	}
	return decimal.Zero
}

// TokenBalance returns how many units of asset address holds.
func (l *Ledger) TokenBalance(address string, asset ledger.Asset) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.st.accounts[address]; ok {
		return acct.tokens[asset]
	}
	return 0
}

// OpenHolds returns the number of holds not yet released or cancelled.
func (l *Ledger) OpenHolds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.st.holds)
}

// Submissions returns the number of distinct transactions the ledger has recorded.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}

func (l *Ledger) txRef(txID string) string {
	sum := sha256.Sum256([]byte(txID))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}

func (l *Ledger) reject(tx ledger.Tx, code string) ledger.Result {
	return ledger.Result{TxID: tx.ID(), TxRef: l.txRef(tx.ID()), ResultCode: code}
}

func (l *Ledger) accept(tx ledger.Tx, objectRef string) ledger.Result {
	return ledger.Result{TxID: tx.ID(), Accepted: true, TxRef: l.txRef(tx.ID()), ObjectRef: objectRef, ResultCode: ledger.CodeSuccess}
}

func (l *Ledger) apply(tx ledger.Tx) ledger.Result {
	container, ok := tx.(ledger.AtomicContainer)
	if !ok {
		return l.applyOne(l.st, tx)
	}
	if code := l.authorize(container); code != "" {
		return l.reject(tx, code)
	}
	if code := l.injected(container); code != "" {
		return l.reject(tx, code)
	}

	inner := make([]ledger.Result, len(container.Inner))
	switch container.Mode {
	case ledger.ModeAllOrNothing:
		work := l.st.clone()
		failed := false
		for i, in := range container.Inner {
			if failed {
				inner[i] = l.reject(in, ledger.CodeNotApplied)
				continue
			}
			inner[i] = l.applyOne(work, in)
			failed = !inner[i].Accepted
		}
		if failed {
			for i := range inner {
				if inner[i].Accepted {
					inner[i] = l.reject(container.Inner[i], ledger.CodeNotApplied)
				}
			}
			res := l.reject(tx, ledger.CodeBatchFailed)
			res.Inner = inner
			return res
		}
		l.st = work
	case ledger.ModeIndependent:
		for i, in := range container.Inner {
			inner[i] = l.applyOne(l.st, in)
		}
	case ledger.ModeOnlyOne:
		done := false
		for i, in := range container.Inner {
			if done {
				inner[i] = l.reject(in, ledger.CodeNotApplied)
				continue
			}
			inner[i] = l.applyOne(l.st, in)
			done = inner[i].Accepted
		}
		if !done {
			res := l.reject(tx, ledger.CodeBatchFailed)
			res.Inner = inner
			return res
		}
	case ledger.ModeUntilFailure:
		stopped := false
		for i, in := range container.Inner {
			if stopped {
				inner[i] = l.reject(in, ledger.CodeNotApplied)
				continue
			}
			inner[i] = l.applyOne(l.st, in)
			stopped = !inner[i].Accepted
		}
	}
	for _, r := range inner {
		l.txs[r.TxID] = r
	}
	res := l.accept(tx, "")
	res.Inner = inner
	return res
}

// authorize checks that every inner account other than the submitter co-signed.
func (l *Ledger) authorize(c ledger.AtomicContainer) string {
	signed := make(map[string]bool, len(c.CoSigners))
	for _, s := range c.CoSigners {
		if ledger.VerifySignature(c, s.Account, s.PublicKey, s.Signature) {
			signed[s.Account] = true
		}
	}
	for _, acct := range c.Accounts() {
		if !signed[acct] {
			return ledger.CodeNoPermission
		}
	}
	return ""
}

func (l *Ledger) injected(tx ledger.Tx) string {
	if l.failWhen == nil {
		return ""
	}
	return l.failWhen(tx)
}

func (l *Ledger) applyOne(st *state, tx ledger.Tx) ledger.Result {
	if code := l.injected(tx); code != "" {
		return l.reject(tx, code)
	}
	switch t := tx.(type) {
	case ledger.TokenDefinition:
		return l.defineToken(st, t)
	case ledger.FundTransfer:
		return l.transferFunds(st, t)
	case ledger.TokenTransfer:
		return l.transferTokens(st, t)
	case ledger.HoldCreate:
		return l.createHold(st, t)
	case ledger.HoldRelease:
		return l.releaseHold(st, t)
	case ledger.HoldCancel:
		return l.cancelHold(st, t)
	default:
		return l.reject(tx, ledger.CodeMalformed)
	}
}

func (l *Ledger) defineToken(st *state, t ledger.TokenDefinition) ledger.Result {
	if _, ok := st.accounts[t.Issuer]; !ok {
		return l.reject(t, ledger.CodeNoEntry)
	}
	asset := t.Asset()
	if _, exists := st.tokens[asset]; exists {
		return l.reject(t, ledger.CodeDuplicateToken)
	}
	st.tokens[asset] = &token{supply: t.Supply}
	return l.accept(t, asset.String())
}

func (l *Ledger) transferFunds(st *state, t ledger.FundTransfer) ledger.Result {
	src, ok := st.accounts[t.Source]
	if !ok || src.balance.LessThan(t.Amount) {
		return l.reject(t, ledger.CodeUnfunded)
	}
	dst := st.account(t.Destination)
	src.balance = src.balance.Sub(t.Amount)
	dst.balance = dst.balance.Add(t.Amount)
	return l.accept(t, "")
}

func (l *Ledger) transferTokens(st *state, t ledger.TokenTransfer) ledger.Result {
	tok, ok := st.tokens[t.Asset]
	if !ok {
		return l.reject(t, ledger.CodeNoEntry)
	}
	if t.Source == t.Asset.Issuer {
		if tok.issued+t.Amount > tok.supply {
			return l.reject(t, ledger.CodeSupplyExceeded)
		}
		tok.issued += t.Amount
	} else {
		src, ok := st.accounts[t.Source]
		if !ok || src.tokens[t.Asset] < t.Amount {
			return l.reject(t, ledger.CodeUnfunded)
		}
		src.tokens[t.Asset] -= t.Amount
	}
	if t.Destination == t.Asset.Issuer {
		tok.issued -= t.Amount
	} else {
		st.account(t.Destination).tokens[t.Asset] += t.Amount
	}
	return l.accept(t, "")
}

func (l *Ledger) createHold(st *state, t ledger.HoldCreate) ledger.Result {
	owner, ok := st.accounts[t.Owner]
	debit := t.Amount.Add(t.Fee)
	if !ok || owner.balance.LessThan(debit) {
		return l.reject(t, ledger.CodeUnfunded)
	}
	if !t.CancelAfter.After(l.now()) {
		return l.reject(t, ledger.CodeTooLate)
	}
	owner.balance = owner.balance.Sub(debit)
	l.seq++
	ref := fmt.Sprintf("HOLD-%06d", l.seq)
	st.holds[ref] = &hold{
		owner:       t.Owner,
		destination: t.Destination,
		amount:      t.Amount,
		condition:   t.Condition,
		cancelAfter: t.CancelAfter,
	}
	return l.accept(t, ref)
}

func (l *Ledger) releaseHold(st *state, t ledger.HoldRelease) ledger.Result {
	h, ok := st.holds[t.HoldRef]
	if !ok {
		return l.reject(t, ledger.CodeNoEntry)
	}
	if !l.now().Before(h.cancelAfter) {
		return l.reject(t, ledger.CodeTooLate)
	}
	if t.Condition != h.condition || !conditionMet(h, t) {
		return l.reject(t, ledger.CodeCryptoCondition)
	}
	dst := st.account(h.destination)
	dst.balance = dst.balance.Add(h.amount)
	delete(st.holds, t.HoldRef)
	return l.accept(t, t.HoldRef)
}

// cancelHold lets anyone cancel once the deadline has passed and lets the owner
// revoke the hold earlier.
func (l *Ledger) cancelHold(st *state, t ledger.HoldCancel) ledger.Result {
	h, ok := st.holds[t.HoldRef]
	if !ok {
		return l.reject(t, ledger.CodeNoEntry)
	}
	if t.Submitter != h.owner && l.now().Before(h.cancelAfter) {
		return l.reject(t, ledger.CodeTooSoon)
	}
	owner := st.account(h.owner)
	owner.balance = owner.balance.Add(h.amount)
	delete(st.holds, t.HoldRef)
	return l.accept(t, t.HoldRef)
}
