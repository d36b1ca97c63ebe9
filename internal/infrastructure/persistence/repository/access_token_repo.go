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

const accessTokenColumns = `id, jti, proposal_id, step_id, user_id, expires_at, used_at, created_at`

// AccessTokenRepository implements port.AccessTokenRepository
type AccessTokenRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAccessTokenRepository creates a new access token repository
func NewAccessTokenRepository(db *sql.DB, logger *zap.Logger) port.AccessTokenRepository {
	return &AccessTokenRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a minted credential
func (r *AccessTokenRepository) Create(ctx context.Context, t *entity.AccessToken) error {
	query := `
		INSERT INTO access_tokens (jti, proposal_id, step_id, user_id, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		t.JTI, t.ProposalID, t.StepID, t.UserID, t.ExpiresAt.UTC(), timeArg(t.UsedAt), t.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create access token", zap.Int64("step_id", t.StepID), zap.Error(err))
		return fmt.Errorf("failed to create access token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	t.ID = id
	return nil
}

// GetByJTI retrieves a credential record, nil when absent
func (r *AccessTokenRepository) GetByJTI(ctx context.Context, jti string) (*entity.AccessToken, error) {
	query := `SELECT ` + accessTokenColumns + ` FROM access_tokens WHERE jti = ?`

	t, err := scanAccessToken(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, jti))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get access token", zap.Error(err))
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return t, nil
}

// FindLive returns the newest unused, unexpired credential for a step
func (r *AccessTokenRepository) FindLive(ctx context.Context, stepID int64, at time.Time) (*entity.AccessToken, error) {
	query := `SELECT ` + accessTokenColumns + `
		FROM access_tokens
		WHERE step_id = ? AND used_at IS NULL AND expires_at > ?
		ORDER BY id DESC LIMIT 1`

	t, err := scanAccessToken(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, stepID, at.UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find live access token", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to find live access token: %w", err)
	}
	return t, nil
}

// MarkUsed spends a credential
func (r *AccessTokenRepository) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`UPDATE access_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, usedAt.UTC(), id,
	)
	if err != nil {
		r.logger.Error("Failed to mark access token used", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark access token used: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("access token %d already used or missing", id)
	}
	return nil
}

// DeleteByProposal removes every credential minted for a proposal
func (r *AccessTokenRepository) DeleteByProposal(ctx context.Context, proposalID int64) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM access_tokens WHERE proposal_id = ?`, proposalID)
	if err != nil {
		r.logger.Error("Failed to delete access tokens", zap.Int64("proposal_id", proposalID), zap.Error(err))
		return fmt.Errorf("failed to delete access tokens: %w", err)
	}
	return nil
}

func scanAccessToken(row rowScanner) (*entity.AccessToken, error) {
	var t entity.AccessToken
	var usedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.JTI, &t.ProposalID, &t.StepID, &t.UserID, &t.ExpiresAt, &usedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UsedAt = nullTimePtr(usedAt)
	return &t, nil
}

// Verify interface compliance
var _ port.AccessTokenRepository = (*AccessTokenRepository)(nil)
