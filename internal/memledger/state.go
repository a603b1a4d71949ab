package memledger

import (
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

type account struct {
	balance decimal.Decimal
	tokens  map[ledger.Asset]int64
}

type token struct {
	supply int64
	issued int64
}

type hold struct {
	owner       string
	destination string
	amount      decimal.Decimal
	condition   condition.Condition
	cancelAfter time.Time
}

type state struct {
	accounts map[string]*account
	tokens   map[ledger.Asset]*token
	holds    map[string]*hold
}

func newState() *state {
	return &state{
		accounts: make(map[string]*account),
		tokens:   make(map[ledger.Asset]*token),
		holds:    make(map[string]*hold),
	}
}

// account returns the account at address, creating it empty if missing.
func (s *state) account(address string) *account {
	acct, ok := s.accounts[address]
	if !ok {
		acct = &account{tokens: make(map[ledger.Asset]int64)}
		s.accounts[address] = acct
	}
	return acct
}

func (s *state) clone() *state {
	out := newState()
	for addr, acct := range s.accounts {
		tokens := make(map[ledger.Asset]int64, len(acct.tokens))
		for k, v := range acct.tokens {
			tokens[k] = v
		}
		out.accounts[addr] = &account{balance: acct.balance, tokens: tokens}
	}
	for k, t := range s.tokens {
		cp := *t
		out.tokens[k] = &cp
	}
	for k, h := range s.holds {
		cp := *h
		out.holds[k] = &cp
	}
	return out
}

func conditionMet(h *hold, t ledger.HoldRelease) bool {
	return condition.Verify(h.condition, t.Fulfillment)
}
