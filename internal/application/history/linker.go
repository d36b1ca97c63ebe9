// Package history carries approver chains forward when a rejected proposal is resubmitted.
package history

import (
	"context"
	"fmt"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ApproverNotifier sends the action-needed message to one approver
type ApproverNotifier interface {
	NotifyApprover(ctx context.Context, proposal *entity.Proposal, step *entity.Step) error
}

// Linker copies approvers from a rejected proposal into its successor
type Linker struct {
	steps    port.StepRepository
	notifier ApproverNotifier
	logger   Logger
}

// NewLinker creates a Linker
func NewLinker(steps port.StepRepository, notifier ApproverNotifier, logger Logger) *Linker {
	return &Linker{
		steps:    steps,
		notifier: notifier,
		logger:   logger,
	}
}

// Link copies the approver steps of prior into next when prior was rejected.
// Only user and relative order are carried over; statuses start fresh per next's flow.
// It runs inside the caller's transaction and returns the new steps.
func (l *Linker) Link(ctx context.Context, prior, next *entity.Proposal) ([]*entity.Step, error) {
	if prior == nil || !prior.IsRejected() || prior.ID == next.ID {
		return nil, nil
	}

	priorSteps, err := l.steps.ListByProposal(ctx, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps of proposal %d: %w", prior.ID, err)
	}

	approvers := workflow.Approvers(priorSteps)
	copied := make([]*entity.Step, 0, len(approvers))
	for i, src := range approvers {
		copied = append(copied, &entity.Step{
			ProposalID: next.ID,
			UserID:     src.UserID,
			UserEmail:  src.UserEmail,
			Role:       entity.RoleApprover,
			Status:     entity.StepStatusPending,
			Position:   i,
		})
	}

	workflow.Advance(copied, workflow.Flow(next.Flow))

	for _, s := range copied {
		if err := l.steps.Create(ctx, s); err != nil {
			return nil, fmt.Errorf("copy approver %d into proposal %d: %w", s.UserID, next.ID, err)
		}
	}

	l.logger.Info("Approvers carried forward",
		"from_proposal_id", prior.ID,
		"to_proposal_id", next.ID,
		"count", len(copied),
	)
	return copied, nil
}

// NotifyCopied sends each copied approver a fresh credential and notice.
// Call it after the creating transaction commits. It returns the ids of users
// that were notified.
func (l *Linker) NotifyCopied(ctx context.Context, proposal *entity.Proposal, copied []*entity.Step) []int64 {
	notified := make([]int64, 0, len(copied))
	for _, s := range copied {
		if err := l.notifier.NotifyApprover(ctx, proposal, s); err != nil {
			l.logger.Error("Failed to notify carried-forward approver",
				"proposal_id", proposal.ID,
				"step_id", s.ID,
				"user_id", s.UserID,
				"error", err,
			)
			continue
		}
		notified = append(notified, s.UserID)
	}
	return notified
}
