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

const notificationColumns = `
	id, proposal_id, step_id, user_id, recipient, kind, token, context,
	status, attempts, error_message, sent_at, created_at, updated_at
`

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create writes a pending outbox row
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			proposal_id, step_id, user_id, recipient, kind, token, context,
			status, attempts, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ts := now()
	if n.Status == "" {
		n.Status = entity.NotificationStatusPending
	}
	if n.Context == "" {
		n.Context = "{}"
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		n.ProposalID,
		n.StepID,
		n.UserID,
		n.Recipient,
		n.Kind,
		n.Token,
		n.Context,
		n.Status,
		n.Attempts,
		n.ErrorMessage,
		ts,
		ts,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.Int64("proposal_id", n.ProposalID),
			zap.String("kind", n.Kind),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	n.ID = id
	n.CreatedAt, n.UpdatedAt = ts, ts
	return nil
}

// GetByID retrieves an outbox row, nil when absent
func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	n, err := scanNotification(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get notification", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// GetPending returns undelivered rows that still have attempts left, oldest first
func (r *NotificationRepository) GetPending(ctx context.Context, maxAttempts, limit int) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status IN (?, ?) AND attempts < ?
		ORDER BY id
		LIMIT ?`

	return r.list(ctx, query, entity.NotificationStatusPending, entity.NotificationStatusFailed, maxAttempts, limit)
}

// ListByProposal returns every outbox row of a proposal in creation order
func (r *NotificationRepository) ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE proposal_id = ? ORDER BY id`
	return r.list(ctx, query, proposalID)
}

func (r *NotificationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Notification, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*entity.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSent marks a row delivered
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, error_message = '', sent_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, entity.NotificationStatusSent, sentAt.UTC(), now(), id)
	if err != nil {
		r.logger.Error("Failed to mark notification as sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt; the row stays eligible until attempts run out
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, entity.NotificationStatusFailed, errMsg, now(), id)
	if err != nil {
		r.logger.Error("Failed to mark notification as failed", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}

func scanNotification(row rowScanner) (*entity.Notification, error) {
	var n entity.Notification
	var sentAt sql.NullTime
	err := row.Scan(
		&n.ID,
		&n.ProposalID,
		&n.StepID,
		&n.UserID,
		&n.Recipient,
		&n.Kind,
		&n.Token,
		&n.Context,
		&n.Status,
		&n.Attempts,
		&n.ErrorMessage,
		&sentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.SentAt = nullTimePtr(sentAt)
	return &n, nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
