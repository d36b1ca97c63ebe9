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

const proposalColumns = `id, name, status, flow, client_data_type, client_data, created_at, updated_at`

// ProposalRepository implements port.ProposalRepository
type ProposalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *sql.DB, logger *zap.Logger) port.ProposalRepository {
	return &ProposalRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a proposal and sets its ID and timestamps
func (r *ProposalRepository) Create(ctx context.Context, p *entity.Proposal) error {
	query := `
		INSERT INTO proposals (name, status, flow, client_data_type, client_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ts := now()
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		p.Name, p.Status, p.Flow, p.ClientDataType, p.ClientData, ts, ts,
	)
	if err != nil {
		r.logger.Error("Failed to create proposal", zap.String("name", p.Name), zap.Error(err))
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	p.ID = id
	p.CreatedAt, p.UpdatedAt = ts, ts
	return nil
}

// GetByID retrieves a proposal by ID, nil when absent
func (r *ProposalRepository) GetByID(ctx context.Context, id int64) (*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = ?`

	p, err := scanProposal(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get proposal", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// FindLatestByName returns the newest proposal with name, optionally filtered by status
func (r *ProposalRepository) FindLatestByName(ctx context.Context, name, status string) (*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE name = ?`
	args := []interface{}{name}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	p, err := scanProposal(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find proposal by name", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to find proposal: %w", err)
	}
	return p, nil
}

// UpdateStatus updates the proposal status
func (r *ProposalRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.update(ctx, id, `status = ?`, status)
}

// UpdateFlow updates the proposal flow
func (r *ProposalRepository) UpdateFlow(ctx context.Context, id int64, flow string) error {
	return r.update(ctx, id, `flow = ?`, flow)
}

// UpdateClientData replaces the client payload
func (r *ProposalRepository) UpdateClientData(ctx context.Context, id int64, clientType, data string) error {
	return r.update(ctx, id, `client_data_type = ?, client_data = ?`, clientType, data)
}

func (r *ProposalRepository) update(ctx context.Context, id int64, set string, args ...interface{}) error {
	query := `UPDATE proposals SET ` + set + `, updated_at = ? WHERE id = ?`
	args = append(args, now(), id)

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update proposal", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update proposal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("proposal %d not found", id)
	}
	return nil
}

// List returns proposals newest first, optionally filtered by status
func (r *ProposalRepository) List(ctx context.Context, status string, limit, offset int) ([]*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list proposals", zap.Error(err))
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*entity.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func scanProposal(row rowScanner) (*entity.Proposal, error) {
	var p entity.Proposal
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Status,
		&p.Flow,
		&p.ClientDataType,
		&p.ClientData,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Verify interface compliance
var _ port.ProposalRepository = (*ProposalRepository)(nil)
