// Package mail turns queued messages into delivered email.
package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
)

// Outbox implements port.Mailer by writing pending notification rows.
// The delivery worker picks them up, so transport failures never reach the caller.
type Outbox struct {
	repo   port.NotificationRepository
	logger *zap.Logger
}

// NewOutbox creates an Outbox
func NewOutbox(repo port.NotificationRepository, logger *zap.Logger) *Outbox {
	return &Outbox{repo: repo, logger: logger}
}

// Enqueue implements port.Mailer
func (o *Outbox) Enqueue(ctx context.Context, msg *entity.Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("message %s for user %d has no recipient", msg.Kind, msg.UserID)
	}

	context := msg.Context
	if context == nil {
		context = map[string]string{}
	}
	encoded, err := json.Marshal(context)
	if err != nil {
		return fmt.Errorf("encode message context: %w", err)
	}

	n := &entity.Notification{
		ProposalID: msg.ProposalID,
		StepID:     msg.StepID,
		UserID:     msg.UserID,
		Recipient:  msg.Recipient,
		Kind:       msg.Kind,
		Token:      msg.Token,
		Context:    string(encoded),
		Status:     entity.NotificationStatusPending,
	}
	if err := o.repo.Create(ctx, n); err != nil {
		return err
	}

	o.logger.Debug("Message queued",
		zap.Int64("notification_id", n.ID),
		zap.Int64("proposal_id", n.ProposalID),
		zap.String("kind", n.Kind),
		zap.String("recipient", n.Recipient))
	return nil
}

var _ port.Mailer = (*Outbox)(nil)
