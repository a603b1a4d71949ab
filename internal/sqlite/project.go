package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/repository"
)

// ProjectRepository implements project.Repository for SQLite
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a project with its milestones and investments
func (r *ProjectRepository) Create(ctx context.Context, proj *project.Project) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO projects (id, name, description, target_amount, current_amount, status,
				creator_wallet, project_wallet, token_definition_id, token_code, total_token_supply,
				reserved_platform_tokens, issued_tokens, deadline, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			proj.ID,
			proj.Name,
			proj.Description,
			proj.TargetAmount.String(),
			proj.CurrentAmount.String(),
			string(proj.Status),
			proj.CreatorWallet,
			proj.ProjectWallet,
			proj.TokenDefinitionID,
			proj.TokenCode,
			proj.TotalTokenSupply,
			proj.ReservedPlatformTokens,
			proj.IssuedTokens,
			proj.Deadline.UTC(),
			proj.Version,
			proj.CreatedAt.UTC(),
			proj.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("failed to create project: %w", err)
		}

		for i := range proj.Milestones {
			if err := insertMilestone(ctx, tx, &proj.Milestones[i]); err != nil {
				return err
			}
		}
		for _, inv := range proj.Investments {
			if err := upsertInvestment(ctx, tx, inv); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMilestone(ctx context.Context, db execer, m *project.Milestone) error {
	query := `
		INSERT INTO milestones (id, project_id, position, title, description, target_amount,
			deadline, status, evidence, achieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		m.ID,
		m.ProjectID,
		m.Position,
		m.Title,
		m.Description,
		m.TargetAmount.String(),
		nullTime(m.Deadline),
		string(m.Status),
		nullText(m.Evidence),
		nullTime(m.AchievedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create milestone: %w", err)
	}
	return nil
}

func upsertInvestment(ctx context.Context, db execer, inv *project.Investment) error {
	query := `
		INSERT INTO investments (id, project_id, investor_address, principal_amount, platform_fee,
			net_amount, token_amount, status, settlement_tx_ref, batch_id, escrow_id, refund_tx_ref,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			escrow_id = excluded.escrow_id,
			refund_tx_ref = excluded.refund_tx_ref,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		inv.ID,
		inv.ProjectID,
		inv.InvestorAddress,
		inv.PrincipalAmount.String(),
		inv.PlatformFee.String(),
		inv.NetAmount.String(),
		inv.TokenAmount,
		string(inv.Status),
		inv.SettlementTxRef,
		inv.BatchID,
		inv.EscrowID,
		inv.RefundTxRef,
		inv.CreatedAt.UTC(),
		inv.UpdatedAt.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to save investment: %w", err)
	}
	return nil
}

// Get retrieves a project with its milestones and investments
func (r *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	query := `
		SELECT id, name, description, target_amount, current_amount, status, creator_wallet,
			project_wallet, token_definition_id, token_code, total_token_supply,
			reserved_platform_tokens, issued_tokens, deadline, version, created_at, updated_at
		FROM projects
		WHERE id = ?
	`

	var proj project.Project
	var status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&proj.ID,
		&proj.Name,
		&proj.Description,
		&proj.TargetAmount,
		&proj.CurrentAmount,
		&status,
		&proj.CreatorWallet,
		&proj.ProjectWallet,
		&proj.TokenDefinitionID,
		&proj.TokenCode,
		&proj.TotalTokenSupply,
		&proj.ReservedPlatformTokens,
		&proj.IssuedTokens,
		&proj.Deadline,
		&proj.Version,
		&proj.CreatedAt,
		&proj.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	proj.Status = project.Status(status)

	if proj.Milestones, err = r.milestones(ctx, id); err != nil {
		return nil, err
	}
	if proj.Investments, err = r.investments(ctx, id); err != nil {
		return nil, err
	}
	return &proj, nil
}

// MilestoneExists reports whether any project has the milestone.
func (r *ProjectRepository) MilestoneExists(ctx context.Context, milestoneID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones WHERE id = ?`, milestoneID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up milestone: %w", err)
	}
	return n > 0, nil
}

func (r *ProjectRepository) milestones(ctx context.Context, projectID string) ([]project.Milestone, error) {
	query := `
		SELECT id, project_id, position, title, description, target_amount, deadline, status,
			evidence, achieved_at
		FROM milestones
		WHERE project_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var milestones []project.Milestone
	for rows.Next() {
		var m project.Milestone
		var status string
		var evidence sql.NullString
		var deadline, achievedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Position, &m.Title, &m.Description,
			&m.TargetAmount, &deadline, &status, &evidence, &achievedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.Status = project.MilestoneStatus(status)
		m.Evidence = evidence.String
		m.Deadline = timePtr(deadline)
		m.AchievedAt = timePtr(achievedAt)
		milestones = append(milestones, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating milestone rows: %w", err)
	}
	return milestones, nil
}

func (r *ProjectRepository) investments(ctx context.Context, projectID string) (map[string]*project.Investment, error) {
	query := `
		SELECT id, project_id, investor_address, principal_amount, platform_fee, net_amount,
			token_amount, status, settlement_tx_ref, batch_id, escrow_id, refund_tx_ref,
			created_at, updated_at
		FROM investments
		WHERE project_id = ?
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	investments := make(map[string]*project.Investment)
	for rows.Next() {
		var inv project.Investment
		var status string
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.InvestorAddress, &inv.PrincipalAmount,
			&inv.PlatformFee, &inv.NetAmount, &inv.TokenAmount, &status, &inv.SettlementTxRef,
			&inv.BatchID, &inv.EscrowID, &inv.RefundTxRef, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		inv.Status = project.InvestmentStatus(status)
		investments[inv.ID] = &inv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investment rows: %w", err)
	}
	return investments, nil
}

// Update writes a project, its milestone progress and its investments when the
// stored version matches expectedVersion.
func (r *ProjectRepository) Update(ctx context.Context, proj *project.Project, expectedVersion int64) error {
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE projects
			SET current_amount = ?, status = ?, token_definition_id = ?, issued_tokens = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`
		res, err := tx.ExecContext(ctx, query,
			proj.CurrentAmount.String(),
			string(proj.Status),
			proj.TokenDefinitionID,
			proj.IssuedTokens,
			proj.UpdatedAt.UTC(),
			proj.ID,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, proj.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check project: %w", err)
			}
			if exists == 0 {
				return repository.ErrNotFound
			}
			return repository.ErrConflict
		}

		for i := range proj.Milestones {
			m := &proj.Milestones[i]
			if _, err := tx.ExecContext(ctx,
				`UPDATE milestones SET status = ?, evidence = ?, achieved_at = ? WHERE id = ? AND project_id = ?`,
				string(m.Status), nullText(m.Evidence), nullTime(m.AchievedAt), m.ID, proj.ID,
			); err != nil {
				return fmt.Errorf("failed to update milestone: %w", err)
			}
		}
		for _, inv := range proj.Investments {
			if err := upsertInvestment(ctx, tx, inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	proj.Version = expectedVersion + 1
	return nil
}

// List returns project summaries, newest first
func (r *ProjectRepository) List(ctx context.Context, opts project.ListOptions) ([]project.ProjectSummary, error) {
	query := `
		SELECT
			p.id,
			p.name,
			p.status,
			p.target_amount,
			p.current_amount,
			p.token_code,
			p.deadline,
			p.created_at,
			(SELECT COUNT(*) FROM milestones m WHERE m.project_id = p.id) AS milestone_count,
			(SELECT COUNT(*) FROM milestones m WHERE m.project_id = p.id AND m.status = 'COMPLETED') AS completed_count,
			(SELECT COUNT(*) FROM investments i WHERE i.project_id = p.id) AS investment_count
		FROM projects p
	`
	var args []any
	if opts.Status != nil {
		query += " WHERE p.status = ?"
		args = append(args, string(*opts.Status))
	}
	query += " ORDER BY p.created_at DESC, p.id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var summaries []project.ProjectSummary
	for rows.Next() {
		var summary project.ProjectSummary
		var status string
		err := rows.Scan(
			&summary.ID,
			&summary.Name,
			&status,
			&summary.TargetAmount,
			&summary.CurrentAmount,
			&summary.TokenCode,
			&summary.Deadline,
			&summary.CreatedAt,
			&summary.MilestoneCount,
			&summary.CompletedCount,
			&summary.InvestmentCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project summary: %w", err)
		}
		summary.Status = project.Status(status)
		summaries = append(summaries, summary)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return summaries, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
