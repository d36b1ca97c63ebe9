package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/infrastructure/persistence/sqlite"
)

const stepSelect = `
	SELECT s.id, s.proposal_id, s.user_id, u.email, s.role, s.status, s.position,
		s.active, s.completed_at, s.created_at, s.updated_at
	FROM steps s
	JOIN users u ON u.id = s.user_id
`

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) port.StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a ledger step
func (r *StepRepository) Create(ctx context.Context, step *entity.Step) error {
	query := `
		INSERT INTO steps (proposal_id, user_id, role, status, position, active, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ts := now()
	exec := sqlite.ExecutorFor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		step.ProposalID,
		step.UserID,
		step.Role,
		step.Status,
		step.Position,
		step.Active,
		timeArg(step.CompletedAt),
		ts,
		ts,
	)
	if err != nil {
		r.logger.Error("Failed to create step",
			zap.Int64("proposal_id", step.ProposalID),
			zap.Int64("user_id", step.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	step.ID = id
	step.CreatedAt, step.UpdatedAt = ts, ts
	if step.UserEmail == "" {
		_ = exec.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, step.UserID).Scan(&step.UserEmail)
	}
	return nil
}

// GetByID retrieves a step by ID, nil when absent
func (r *StepRepository) GetByID(ctx context.Context, id int64) (*entity.Step, error) {
	step, err := scanStep(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, stepSelect+` WHERE s.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// ListByProposal returns the ledger ordered by position, then id
func (r *StepRepository) ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Step, error) {
	query := stepSelect + ` WHERE s.proposal_id = ? ORDER BY s.position, s.id`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, proposalID)
	if err != nil {
		r.logger.Error("Failed to list steps", zap.Int64("proposal_id", proposalID), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// UpdateStatus sets the approver status and completion time
func (r *StepRepository) UpdateStatus(ctx context.Context, id int64, status string, completedAt *time.Time) error {
	query := `UPDATE steps SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, status, timeArg(completedAt), now(), id)
	if err != nil {
		r.logger.Error("Failed to update step status",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update step status: %w", err)
	}
	return nil
}

// SetActive toggles an observer subscription
func (r *StepRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE steps SET active = ?, updated_at = ? WHERE id = ?`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, active, now(), id)
	if err != nil {
		r.logger.Error("Failed to update step activity", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update step activity: %w", err)
	}
	return nil
}

// DeleteByProposal removes the whole ledger of a proposal
func (r *StepRepository) DeleteByProposal(ctx context.Context, proposalID int64) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM steps WHERE proposal_id = ?`, proposalID)
	if err != nil {
		r.logger.Error("Failed to delete steps", zap.Int64("proposal_id", proposalID), zap.Error(err))
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	return nil
}

func scanStep(row rowScanner) (*entity.Step, error) {
	var step entity.Step
	var completedAt sql.NullTime
	err := row.Scan(
		&step.ID,
		&step.ProposalID,
		&step.UserID,
		&step.UserEmail,
		&step.Role,
		&step.Status,
		&step.Position,
		&step.Active,
		&completedAt,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	step.CompletedAt = nullTimePtr(completedAt)
	return &step, nil
}

// Verify interface compliance
var _ port.StepRepository = (*StepRepository)(nil)
