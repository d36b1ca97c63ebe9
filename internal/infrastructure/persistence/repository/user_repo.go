package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/infrastructure/persistence/sqlite"
)

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// FindOrCreateByEmail returns the user with email, creating it on first sight
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email string) (*entity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	exec := sqlite.ExecutorFor(ctx, r.db)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO users (email, created_at) VALUES (?, ?) ON CONFLICT(email) DO NOTHING`,
		email, now(),
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	u, err := r.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s vanished after insert", email)
	}
	return u, nil
}

// FindByEmail retrieves a user by email, nil when absent
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.get(ctx, `SELECT id, email, full_name, created_at FROM users WHERE email = ?`, email)
}

// GetByID retrieves a user by ID, nil when absent
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.get(ctx, `SELECT id, email, full_name, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) get(ctx context.Context, query string, arg interface{}) (*entity.User, error) {
	var u entity.User
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Verify interface compliance
var _ port.UserRepository = (*UserRepository)(nil)
