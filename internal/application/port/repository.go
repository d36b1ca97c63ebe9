package port

import (
	"context"
	"time"

	"github.com/mobomo/C2/internal/domain/entity"
)

// ProposalRepository defines persistence operations for Proposal
type ProposalRepository interface {
	Create(ctx context.Context, proposal *entity.Proposal) error
	GetByID(ctx context.Context, id int64) (*entity.Proposal, error)
	// FindLatestByName returns the most recent proposal with the name, newest
	// creation time first and highest id on ties. An empty status matches any.
	FindLatestByName(ctx context.Context, name, status string) (*entity.Proposal, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateFlow(ctx context.Context, id int64, flow string) error
	UpdateClientData(ctx context.Context, id int64, clientType, data string) error
	List(ctx context.Context, status string, limit, offset int) ([]*entity.Proposal, error)
}

// StepRepository defines persistence operations for proposal ledger steps
type StepRepository interface {
	Create(ctx context.Context, step *entity.Step) error
	GetByID(ctx context.Context, id int64) (*entity.Step, error)
	// ListByProposal returns the ledger ordered by position, then id
	ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Step, error)
	UpdateStatus(ctx context.Context, id int64, status string, completedAt *time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteByProposal(ctx context.Context, proposalID int64) error
}

// CommentRepository defines persistence operations for Comment
type CommentRepository interface {
	Create(ctx context.Context, comment *entity.Comment) error
	GetByID(ctx context.Context, id int64) (*entity.Comment, error)
	// ListByProposal returns comments ordered by update time
	ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Comment, error)
	DeleteByProposal(ctx context.Context, proposalID int64) error
}

// UserRepository is the identity collaborator
type UserRepository interface {
	FindOrCreateByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}

// ApprovalGroupRepository defines persistence operations for ApprovalGroup
type ApprovalGroupRepository interface {
	GetByName(ctx context.Context, name string) (*entity.ApprovalGroup, error)
	Upsert(ctx context.Context, group *entity.ApprovalGroup) error
}

// AccessTokenRepository defines persistence operations for AccessToken
type AccessTokenRepository interface {
	Create(ctx context.Context, token *entity.AccessToken) error
	GetByJTI(ctx context.Context, jti string) (*entity.AccessToken, error)
	// FindLive returns an unused, unexpired token for the step, or nil
	FindLive(ctx context.Context, stepID int64, now time.Time) (*entity.AccessToken, error)
	MarkUsed(ctx context.Context, id int64, usedAt time.Time) error
	DeleteByProposal(ctx context.Context, proposalID int64) error
}

// NotificationRepository defines persistence operations for the notification outbox
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	GetByID(ctx context.Context, id int64) (*entity.Notification, error)
	GetPending(ctx context.Context, maxAttempts, limit int) ([]*entity.Notification, error)
	ListByProposal(ctx context.Context, proposalID int64) ([]*entity.Notification, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
