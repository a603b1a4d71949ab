package gateway_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/gateway"
	"github.com/rpggio/escrowfund/internal/memledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockGateway) Submit(ctx context.Context, tx ledger.Tx, signer ledger.Signer) (ledger.Result, error) {
	args := m.Called(ctx, tx, signer)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *mockGateway) Query(ctx context.Context, ref ledger.Ref) (ledger.State, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(ledger.State), args.Error(1)
}

func (m *mockGateway) Fund(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func fastConfig() gateway.Config {
	return gateway.Config{
		CallTimeout:    time.Second,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return ledger.NewKeySigner(priv)
}

func TestSubmit_ReconcilesDroppedResponse(t *testing.T) {
	ctx := context.Background()
	mem := memledger.New()
	gw := gateway.New(mem, fastConfig(), nil)
	alice, bob := newSigner(t), newSigner(t)
	_, err := gw.Fund(ctx, alice.Address())
	require.NoError(t, err)

	tx, err := ledger.NewFundTransfer(alice.Address(), bob.Address(), decimal.NewFromInt(10))
	require.NoError(t, err)

	mem.DropResponses(1)
	res, err := gw.Submit(ctx, tx, alice)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, tx.ID(), res.TxID)
	require.True(t, decimal.NewFromInt(10).Equal(mem.Balance(bob.Address())))
	require.Equal(t, 1, mem.Submissions())
}

func TestSubmit_RetriesWhileUnavailable(t *testing.T) {
	ctx := context.Background()
	tx, err := ledger.NewHoldCancel("owner", "HOLD-1")
	require.NoError(t, err)
	want := ledger.Result{TxID: tx.ID(), Accepted: true, ResultCode: ledger.CodeSuccess}

	next := &mockGateway{}
	next.On("Submit", mock.Anything, tx, mock.Anything).Return(ledger.Result{}, ledger.ErrUnavailable).Twice()
	next.On("Submit", mock.Anything, tx, mock.Anything).Return(want, nil).Once()

	gw := gateway.New(next, fastConfig(), nil)
	got, err := gw.Submit(ctx, tx, newSigner(t))
	require.NoError(t, err)
	require.Equal(t, want, got)
	next.AssertExpectations(t)
}

func TestSubmit_UnknownOutcomeWhenQueryFails(t *testing.T) {
	ctx := context.Background()
	tx, err := ledger.NewHoldCancel("owner", "HOLD-1")
	require.NoError(t, err)

	next := &mockGateway{}
	next.On("Submit", mock.Anything, tx, mock.Anything).Return(ledger.Result{}, ledger.ErrTimeout).Once()
	next.On("Query", mock.Anything, ledger.TransactionRef(tx.ID())).Return(ledger.State{}, errors.New("connection reset")).Once()

	gw := gateway.New(next, fastConfig(), nil)
	_, err = gw.Submit(ctx, tx, newSigner(t))
	require.ErrorIs(t, err, ledger.ErrUnknownOutcome)
	require.ErrorIs(t, err, fault.ErrGateway)
	next.AssertExpectations(t)
}

func TestSubmit_UnknownOutcomeAfterExhaustingAttempts(t *testing.T) {
	ctx := context.Background()
	tx, err := ledger.NewHoldCancel("owner", "HOLD-1")
	require.NoError(t, err)

	next := &mockGateway{}
	next.On("Submit", mock.Anything, tx, mock.Anything).Return(ledger.Result{}, ledger.ErrTimeout).Times(3)
	next.On("Query", mock.Anything, ledger.TransactionRef(tx.ID())).Return(ledger.State{}, nil).Times(3)

	gw := gateway.New(next, fastConfig(), nil)
	_, err = gw.Submit(ctx, tx, newSigner(t))
	require.ErrorIs(t, err, ledger.ErrUnknownOutcome)
	next.AssertExpectations(t)
}

func TestSubmit_RejectionIsNotRetried(t *testing.T) {
	ctx := context.Background()
	tx, err := ledger.NewHoldCancel("owner", "HOLD-1")
	require.NoError(t, err)
	rejected := ledger.Result{TxID: tx.ID(), ResultCode: ledger.CodeTooSoon}

	next := &mockGateway{}
	next.On("Submit", mock.Anything, tx, mock.Anything).Return(rejected, nil).Once()

	gw := gateway.New(next, fastConfig(), nil)
	got, err := gw.Submit(ctx, tx, newSigner(t))
	require.NoError(t, err)
	require.False(t, got.Accepted)
	next.AssertExpectations(t)
}

func TestFund_DoesNotRetryFaucetRefusal(t *testing.T) {
	ctx := context.Background()
	next := &mockGateway{}
	next.On("Fund", mock.Anything, "ef01").Return(decimal.Zero, ledger.ErrFaucetUnavailable).Once()

	gw := gateway.New(next, fastConfig(), nil)
	_, err := gw.Fund(ctx, "ef01")
	require.ErrorIs(t, err, ledger.ErrFaucetUnavailable)
	next.AssertExpectations(t)
}

func TestConnect_RetriesUnavailable(t *testing.T) {
	next := &mockGateway{}
	next.On("Connect", mock.Anything).Return(ledger.ErrUnavailable).Once()
	next.On("Connect", mock.Anything).Return(nil).Once()

	gw := gateway.New(next, fastConfig(), nil)
	require.NoError(t, gw.Connect(context.Background()))
	next.AssertExpectations(t)
}
