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

// ApprovalGroupRepository implements port.ApprovalGroupRepository
type ApprovalGroupRepository struct {
	db     *sql.DB
	tx     port.TransactionManager
	logger *zap.Logger
}

// NewApprovalGroupRepository creates a new approval group repository
func NewApprovalGroupRepository(db *sql.DB, tx port.TransactionManager, logger *zap.Logger) port.ApprovalGroupRepository {
	return &ApprovalGroupRepository{
		db:     db,
		tx:     tx,
		logger: logger,
	}
}

// GetByName loads a group and its members, nil when absent
func (r *ApprovalGroupRepository) GetByName(ctx context.Context, name string) (*entity.ApprovalGroup, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)

	var g entity.ApprovalGroup
	err := exec.QueryRowContext(ctx,
		`SELECT id, name, flow, created_at, updated_at FROM approval_groups WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.Flow, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval group", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval group: %w", err)
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT user_id, email, role, position
		FROM approval_group_members
		WHERE group_id = ?
		ORDER BY position, id
	`, g.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m entity.ApprovalGroupMember
		if err := rows.Scan(&m.UserID, &m.Email, &m.Role, &m.Position); err != nil {
			return nil, fmt.Errorf("failed to scan approval group member: %w", err)
		}
		g.Members = append(g.Members, m)
	}
	return &g, rows.Err()
}

// Upsert creates or replaces a group template and its member list
func (r *ApprovalGroupRepository) Upsert(ctx context.Context, g *entity.ApprovalGroup) error {
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := sqlite.ExecutorFor(txCtx, r.db)
		ts := now()

		_, err := exec.ExecContext(txCtx, `
			INSERT INTO approval_groups (name, flow, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET flow = excluded.flow, updated_at = excluded.updated_at
		`, g.Name, g.Flow, ts, ts)
		if err != nil {
			r.logger.Error("Failed to upsert approval group", zap.String("name", g.Name), zap.Error(err))
			return fmt.Errorf("failed to upsert approval group: %w", err)
		}

		if err := exec.QueryRowContext(txCtx,
			`SELECT id, created_at FROM approval_groups WHERE name = ?`, g.Name,
		).Scan(&g.ID, &g.CreatedAt); err != nil {
			return fmt.Errorf("failed to reload approval group: %w", err)
		}
		g.UpdatedAt = ts

		if _, err := exec.ExecContext(txCtx, `DELETE FROM approval_group_members WHERE group_id = ?`, g.ID); err != nil {
			return fmt.Errorf("failed to clear approval group members: %w", err)
		}
		for _, m := range g.Members {
			_, err := exec.ExecContext(txCtx, `
				INSERT INTO approval_group_members (group_id, user_id, email, role, position)
				VALUES (?, ?, ?, ?, ?)
			`, g.ID, m.UserID, m.Email, m.Role, m.Position)
			if err != nil {
				return fmt.Errorf("failed to add approval group member %s: %w", m.Email, err)
			}
		}
		return nil
	})
}

// Verify interface compliance
var _ port.ApprovalGroupRepository = (*ApprovalGroupRepository)(nil)
