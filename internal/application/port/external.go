package port

import (
	"context"
	"time"

	"github.com/mobomo/C2/internal/domain/entity"
)

// Mailer is the delivery collaborator. Enqueue only has to persist the message;
// transport happens later and failures never reach the caller's transaction.
type Mailer interface {
	Enqueue(ctx context.Context, msg *entity.Message) error
}

// Credential is a minted approval credential
type Credential struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// CredentialClaims are the facts a verified credential carries
type CredentialClaims struct {
	JTI        string
	ProposalID int64
	StepID     int64
	UserID     int64
	ExpiresAt  time.Time
}

// CredentialIssuer signs and verifies approval credentials
type CredentialIssuer interface {
	Issue(proposalID, stepID, userID int64) (*Credential, error)
	Verify(token string) (*CredentialClaims, error)
}

// Locker serializes work on one proposal. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
