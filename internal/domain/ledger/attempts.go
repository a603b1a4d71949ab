package ledger

import (
	"context"
	"fmt"
)

// MaxAttempts bounds the transaction IDs derived for one operation.
const MaxAttempts = 8

// Querier reads ledger state.
type Querier interface {
	Query(ctx context.Context, ref Ref) (State, error)
}

// AttemptID returns the client transaction ID of attempt n at an operation:
// base itself for the first attempt, base-n after that.
func AttemptID(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// FindAttempt walks the transaction IDs derived from base in attempt order.
// When the ledger already accepted one of them its result is returned and the
// caller must not submit again. Otherwise next is the first ID the ledger has
// not recorded; every rejected attempt moves one ID along. next is empty when
// all MaxAttempts IDs were rejected.
func FindAttempt(ctx context.Context, q Querier, base string) (next string, applied *Result, err error) {
	for n := 1; n <= MaxAttempts; n++ {
		id := AttemptID(base, n)
		state, err := q.Query(ctx, TransactionRef(id))
		if err != nil {
			return "", nil, fmt.Errorf("looking up transaction %s: %w", id, err)
		}
		if !state.Found || state.Tx == nil {
			return id, nil, nil
		}
		if state.Tx.Accepted {
			return id, state.Tx, nil
		}
	}
	return "", nil, nil
}
