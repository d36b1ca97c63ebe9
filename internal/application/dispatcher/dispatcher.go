// Package dispatcher turns proposal events into outbound messages.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mobomo/C2/internal/application/eventbus"
	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives per-message outcomes
type Metrics interface {
	NotificationEnqueued(kind string)
	NotificationFailed(kind string)
}

type noopMetrics struct{}

func (noopMetrics) NotificationEnqueued(string) {}
func (noopMetrics) NotificationFailed(string)   {}

// Dispatcher computes recipients for proposal events and hands each message to the mailer
type Dispatcher struct {
	proposals port.ProposalRepository
	steps     port.StepRepository
	tokens    port.AccessTokenRepository
	issuer    port.CredentialIssuer
	mailer    port.Mailer
	registry  *clientdata.Registry
	metrics   Metrics
	logger    Logger
	now       func() time.Time
}

// Option configures the dispatcher
type Option func(*Dispatcher)

// WithMetrics records enqueue outcomes
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClientData adds client payload details to message context
func WithClientData(r *clientdata.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher
func New(
	proposals port.ProposalRepository,
	steps port.StepRepository,
	tokens port.AccessTokenRepository,
	issuer port.CredentialIssuer,
	mailer port.Mailer,
	logger Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		proposals: proposals,
		steps:     steps,
		tokens:    tokens,
		issuer:    issuer,
		mailer:    mailer,
		metrics:   noopMetrics{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register subscribes the dispatcher to every proposal event on the bus
func (d *Dispatcher) Register(bus eventbus.Bus) {
	for _, t := range []event.Type{
		event.TypeProposalCreated,
		event.TypeApprovalChanged,
		event.TypeProposalRestart,
		event.TypeCommentAdded,
	} {
		bus.SubscribeNamed(t, "notification-dispatcher", d.Handle)
	}
}

// Handle reloads the proposal and notifies everyone the event concerns.
// Individual delivery failures are logged and never stop the batch.
func (d *Dispatcher) Handle(ctx context.Context, evt *event.Event) error {
	proposal, err := d.proposals.GetByID(ctx, evt.ProposalID)
	if err != nil {
		return fmt.Errorf("load proposal %d: %w", evt.ProposalID, err)
	}
	if proposal == nil {
		return fmt.Errorf("proposal %d not found", evt.ProposalID)
	}
	steps, err := d.steps.ListByProposal(ctx, proposal.ID)
	if err != nil {
		return fmt.Errorf("load steps for proposal %d: %w", proposal.ID, err)
	}

	ch := changeFromEvent(evt)
	recipients := Plan(proposal, steps, ch, func(s *entity.Step) bool {
		return d.hasLiveCredential(ctx, s)
	})

	sent := d.deliverAll(ctx, proposal, recipients)
	d.logger.Info("Notifications dispatched",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"proposal_id", proposal.ID,
		"planned", len(recipients),
		"enqueued", sent,
	)
	return nil
}

// NotifyApprover mints a fresh credential for one approver step and enqueues
// the action-needed message.
func (d *Dispatcher) NotifyApprover(ctx context.Context, proposal *entity.Proposal, step *entity.Step) error {
	r := Recipient{
		Step: step,
		Kind: entity.MessageActionsForApprover,
		Mint: true,
		Context: map[string]string{
			"proposal_id":   strconv.FormatInt(proposal.ID, 10),
			"proposal_name": proposal.Name,
			"status":        proposal.Status,
			"role":          step.Role,
		},
	}
	return d.deliver(ctx, proposal, r)
}

func (d *Dispatcher) deliverAll(ctx context.Context, proposal *entity.Proposal, recipients []Recipient) int {
	sent := 0
	for _, r := range recipients {
		if err := d.deliver(ctx, proposal, r); err != nil {
			d.logger.Error("Failed to enqueue notification",
				"proposal_id", proposal.ID,
				"user_id", r.Step.UserID,
				"kind", r.Kind,
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent
}

func (d *Dispatcher) deliver(ctx context.Context, proposal *entity.Proposal, r Recipient) error {
	msg := &entity.Message{
		ProposalID: proposal.ID,
		StepID:     r.Step.ID,
		UserID:     r.Step.UserID,
		Recipient:  r.Step.UserEmail,
		Kind:       r.Kind,
		Context:    r.Context,
	}
	d.decorate(proposal, msg)

	if r.Mint {
		token, err := d.mint(ctx, proposal, r.Step)
		if err != nil {
			d.metrics.NotificationFailed(r.Kind)
			return err
		}
		msg.Token = token
	}

	if err := d.mailer.Enqueue(ctx, msg); err != nil {
		d.metrics.NotificationFailed(r.Kind)
		return fmt.Errorf("enqueue %s for user %d: %w", r.Kind, r.Step.UserID, err)
	}
	d.metrics.NotificationEnqueued(r.Kind)
	return nil
}

func (d *Dispatcher) mint(ctx context.Context, proposal *entity.Proposal, step *entity.Step) (string, error) {
	cred, err := d.issuer.Issue(proposal.ID, step.ID, step.UserID)
	if err != nil {
		return "", fmt.Errorf("issue credential for step %d: %w", step.ID, err)
	}
	record := &entity.AccessToken{
		JTI:        cred.JTI,
		ProposalID: proposal.ID,
		StepID:     step.ID,
		UserID:     step.UserID,
		ExpiresAt:  cred.ExpiresAt,
		CreatedAt:  d.now(),
	}
	if err := d.tokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("store credential for step %d: %w", step.ID, err)
	}
	return cred.Token, nil
}

func (d *Dispatcher) hasLiveCredential(ctx context.Context, s *entity.Step) bool {
	tok, err := d.tokens.FindLive(ctx, s.ID, d.now())
	if err != nil {
		d.logger.Error("Failed to look up credential", "step_id", s.ID, "error", err)
		return false
	}
	return tok != nil
}

func (d *Dispatcher) decorate(proposal *entity.Proposal, msg *entity.Message) {
	if msg.Context == nil {
		msg.Context = map[string]string{}
	}
	if d.registry == nil || proposal.ClientDataType == "" {
		return
	}
	data, err := d.registry.Decode(proposal.ClientDataType, []byte(proposal.ClientData))
	if err != nil {
		return
	}
	msg.Context["display_name"] = data.DisplayName()
	msg.Context["total_price"] = strconv.FormatFloat(data.TotalPrice(), 'f', 2, 64)
}

func changeFromEvent(evt *event.Event) Change {
	ch := Change{
		Type:          evt.Type,
		Modifier:      evt.ActorID,
		NeedsReview:   evt.GetPayloadBool(event.KeyNeedsReview),
		ActedStepID:   evt.GetPayloadInt(event.KeyStepID),
		Transition:    evt.GetPayloadString(event.KeyTransition),
		CommentID:     evt.GetPayloadInt(event.KeyCommentID),
		UpdateComment: evt.GetPayloadBool(event.KeyUpdateComment),
	}
	if ids := evt.GetPayloadInt64s(event.KeyPrenotified); len(ids) > 0 {
		ch.Prenotified = make(map[int64]bool, len(ids))
		for _, id := range ids {
			ch.Prenotified[id] = true
		}
	}
	return ch
}
