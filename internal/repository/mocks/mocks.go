package mocks

import (
	"context"

	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/ledger"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/stretchr/testify/mock"
)

// ProjectRepository is a mock for project.Repository.
type ProjectRepository struct {
	mock.Mock
}

func (m *ProjectRepository) Create(ctx context.Context, proj *project.Project) error {
	args := m.Called(ctx, proj)
	return args.Error(0)
}

func (m *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	args := m.Called(ctx, id)
	if proj, ok := args.Get(0).(*project.Project); ok {
		return proj, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) Update(ctx context.Context, proj *project.Project, expectedVersion int64) error {
	args := m.Called(ctx, proj, expectedVersion)
	return args.Error(0)
}

func (m *ProjectRepository) List(ctx context.Context, opts project.ListOptions) ([]project.ProjectSummary, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]project.ProjectSummary); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// ApprovalRepository is a mock for evidence.ApprovalRepository.
type ApprovalRepository struct {
	mock.Mock
}

func (m *ApprovalRepository) Add(ctx context.Context, a *evidence.Approval) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *ApprovalRepository) List(ctx context.Context, milestoneID string) ([]evidence.Approval, error) {
	args := m.Called(ctx, milestoneID)
	if list, ok := args.Get(0).([]evidence.Approval); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// MilestoneLookup is a mock for evidence.MilestoneLookup.
type MilestoneLookup struct {
	mock.Mock
}

func (m *MilestoneLookup) MilestoneExists(ctx context.Context, milestoneID string) (bool, error) {
	args := m.Called(ctx, milestoneID)
	return args.Bool(0), args.Error(1)
}

// Settlement is a mock for project.Settlement.
type Settlement struct {
	mock.Mock
}

func (m *Settlement) Execute(ctx context.Context, ops []batch.Operation, signer ledger.Signer, mode ledger.Mode, opts ...batch.ExecOption) (batch.Result, error) {
	args := m.Called(ctx, ops, signer, mode)
	if res, ok := args.Get(0).(batch.Result); ok {
		return res, args.Error(1)
	}
	return batch.Result{}, args.Error(1)
}

func (m *Settlement) MaxOperations() int {
	args := m.Called()
	return args.Int(0)
}
