package mocks

import (
	"context"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/stretchr/testify/mock"
)

// EscrowRepository is a mock for escrow.Repository.
type EscrowRepository struct {
	mock.Mock
}

func (m *EscrowRepository) Create(ctx context.Context, e *escrow.Escrow) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *EscrowRepository) Get(ctx context.Context, id string) (*escrow.Escrow, error) {
	args := m.Called(ctx, id)
	if e, ok := args.Get(0).(*escrow.Escrow); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EscrowRepository) Update(ctx context.Context, e *escrow.Escrow, expected escrow.Status) error {
	args := m.Called(ctx, e, expected)
	return args.Error(0)
}

func (m *EscrowRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]escrow.Escrow, error) {
	args := m.Called(ctx, milestoneID)
	return escrowList(args)
}

func (m *EscrowRepository) ListByProject(ctx context.Context, projectID string) ([]escrow.Escrow, error) {
	args := m.Called(ctx, projectID)
	return escrowList(args)
}

func (m *EscrowRepository) ListByInvestment(ctx context.Context, investmentID string) ([]escrow.Escrow, error) {
	args := m.Called(ctx, investmentID)
	return escrowList(args)
}

func (m *EscrowRepository) ListActiveDueBy(ctx context.Context, t time.Time) ([]escrow.Escrow, error) {
	args := m.Called(ctx, t)
	return escrowList(args)
}

func escrowList(args mock.Arguments) ([]escrow.Escrow, error) {
	if list, ok := args.Get(0).([]escrow.Escrow); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// SecretStore is a mock for escrow.SecretStore.
type SecretStore struct {
	mock.Mock
}

func (m *SecretStore) Put(ctx context.Context, escrowID string, f condition.Fulfillment) error {
	args := m.Called(ctx, escrowID, f)
	return args.Error(0)
}

func (m *SecretStore) Get(ctx context.Context, escrowID string) (condition.Fulfillment, error) {
	args := m.Called(ctx, escrowID)
	if f, ok := args.Get(0).(condition.Fulfillment); ok {
		return f, args.Error(1)
	}
	return condition.Fulfillment{}, args.Error(1)
}

func (m *SecretStore) Delete(ctx context.Context, escrowID string) error {
	args := m.Called(ctx, escrowID)
	return args.Error(0)
}
