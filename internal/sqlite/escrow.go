package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/repository"
)

// EscrowRepository implements escrow.Repository for SQLite
type EscrowRepository struct {
	db *DB
}

// NewEscrowRepository creates a new EscrowRepository
func NewEscrowRepository(db *DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

const escrowColumns = `id, investment_id, project_id, milestone_id, owner, destination, amount,
	condition, hold_ref, create_tx_ref, finish_tx_ref, cancel_tx_ref, deadline, status,
	cancel_reason, created_at, updated_at`

// Create inserts a new escrow
func (r *EscrowRepository) Create(ctx context.Context, e *escrow.Escrow) error {
	query := `INSERT INTO escrows (` + escrowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.InvestmentID,
		e.ProjectID,
		e.MilestoneID,
		e.Owner,
		e.Destination,
		e.Amount.String(),
		e.Condition.String(),
		e.HoldRef,
		e.CreateTxRef,
		e.FinishTxRef,
		e.CancelTxRef,
		e.Deadline.UTC(),
		string(e.Status),
		e.CancelReason,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

// Get retrieves an escrow by ID
func (r *EscrowRepository) Get(ctx context.Context, id string) (*escrow.Escrow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = ?`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return e, nil
}

// Update writes the mutable fields of e when the stored status equals expected.
func (r *EscrowRepository) Update(ctx context.Context, e *escrow.Escrow, expected escrow.Status) error {
	query := `
		UPDATE escrows
		SET status = ?, hold_ref = ?, create_tx_ref = ?, finish_tx_ref = ?, cancel_tx_ref = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(e.Status),
		e.HoldRef,
		e.CreateTxRef,
		e.FinishTxRef,
		e.CancelTxRef,
		e.CancelReason,
		e.UpdatedAt.UTC(),
		e.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return r.missingOrConflict(ctx, e.ID)
	}
	return nil
}

func (r *EscrowRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escrows WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check escrow: %w", err)
	}
	if exists == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// ListByMilestone returns the escrows gated on a milestone, oldest first
func (r *EscrowRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]escrow.Escrow, error) {
	return r.list(ctx, `WHERE milestone_id = ? ORDER BY created_at, id`, milestoneID)
}

// ListByProject returns every escrow of a project, oldest first
func (r *EscrowRepository) ListByProject(ctx context.Context, projectID string) ([]escrow.Escrow, error) {
	return r.list(ctx, `WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

// ListByInvestment returns the escrows that secured an investment
func (r *EscrowRepository) ListByInvestment(ctx context.Context, investmentID string) ([]escrow.Escrow, error) {
	return r.list(ctx, `WHERE investment_id = ? ORDER BY created_at, id`, investmentID)
}

// ListActiveDueBy returns ACTIVE escrows whose deadline is at or before t
func (r *EscrowRepository) ListActiveDueBy(ctx context.Context, t time.Time) ([]escrow.Escrow, error) {
	return r.list(ctx, `WHERE status = 'ACTIVE' AND deadline <= ? ORDER BY deadline, id`, t.UTC())
}

func (r *EscrowRepository) list(ctx context.Context, where string, args ...any) ([]escrow.Escrow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+escrowColumns+` FROM escrows `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escrows: %w", err)
	}
	defer rows.Close()

	var escrows []escrow.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow: %w", err)
		}
		escrows = append(escrows, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escrow rows: %w", err)
	}
	return escrows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*escrow.Escrow, error) {
	var (
		e      escrow.Escrow
		cond   string
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.InvestmentID,
		&e.ProjectID,
		&e.MilestoneID,
		&e.Owner,
		&e.Destination,
		&e.Amount,
		&cond,
		&e.HoldRef,
		&e.CreateTxRef,
		&e.FinishTxRef,
		&e.CancelTxRef,
		&e.Deadline,
		&status,
		&e.CancelReason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Condition = condition.Condition(cond)
	e.Status = escrow.Status(status)
	return &e, nil
}
