package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/infrastructure/persistence/sqlite"
)

const commentColumns = `id, proposal_id, user_id, body, update_comment, created_at, updated_at`

// CommentRepository implements port.CommentRepository
type CommentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *sql.DB, logger *zap.Logger) port.CommentRepository {
	return &CommentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a comment
func (r *CommentRepository) Create(ctx context.Context, c *entity.Comment) error {
	query := `
		INSERT INTO comments (proposal_id, user_id, body, update_comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ts := now()
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		c.ProposalID, c.UserID, c.Body, c.UpdateComment, ts, ts,
	)
	if err != nil {
		r.logger.Error("Failed to create comment", zap.Int64("proposal_id", c.ProposalID), zap.Error(err))
		return fmt.Errorf("failed to create comment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	c.ID = id
	c.CreatedAt, c.UpdatedAt = ts, ts
	return nil
}

// GetByID retrieves a comment by ID, nil when absent
func (r *CommentRepository) GetByID(ctx context.Context, id int64) (*entity.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id = ?`

	c, err := scanComment(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get comment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return c, nil
}

// ListByProposal returns comments ordered by update time
func (r *CommentRepository) ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE proposal_id = ? ORDER BY updated_at, id`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, proposalID)
	if err != nil {
		r.logger.Error("Failed to list comments", zap.Int64("proposal_id", proposalID), zap.Error(err))
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*entity.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteByProposal removes every comment of a proposal
func (r *CommentRepository) DeleteByProposal(ctx context.Context, proposalID int64) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM comments WHERE proposal_id = ?`, proposalID)
	if err != nil {
		r.logger.Error("Failed to delete comments", zap.Int64("proposal_id", proposalID), zap.Error(err))
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	return nil
}

func scanComment(row rowScanner) (*entity.Comment, error) {
	var c entity.Comment
	if err := row.Scan(&c.ID, &c.ProposalID, &c.UserID, &c.Body, &c.UpdateComment, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Verify interface compliance
var _ port.CommentRepository = (*CommentRepository)(nil)
