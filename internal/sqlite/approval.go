package sqlite

import (
	"context"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/repository"
)

// ApprovalRepository implements evidence.ApprovalRepository for SQLite
type ApprovalRepository struct {
	db *DB
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Add records an approval. A second approval by the same approver is a conflict.
func (r *ApprovalRepository) Add(ctx context.Context, a *evidence.Approval) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO milestone_approvals (milestone_id, approver, note, created_at) VALUES (?, ?, ?, ?)`,
		a.MilestoneID, a.Approver, a.Note, a.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to add approval: %w", err)
	}
	return nil
}

// List returns the approvals of a milestone, oldest first
func (r *ApprovalRepository) List(ctx context.Context, milestoneID string) ([]evidence.Approval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT milestone_id, approver, note, created_at
		FROM milestone_approvals
		WHERE milestone_id = ?
		ORDER BY created_at, approver
	`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []evidence.Approval
	for rows.Next() {
		var a evidence.Approval
		if err := rows.Scan(&a.MilestoneID, &a.Approver, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval rows: %w", err)
	}
	return approvals, nil
}
