package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	appwf "github.com/mobomo/C2/internal/application/workflow"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
	"github.com/mobomo/C2/internal/domain/workflow"
	"github.com/mobomo/C2/pkg/utils"
)

const updateCommentBody = "Request details were updated."

// RecordAction applies an approve or reject decision to an actionable approver
// step and recomputes the proposal status. actorID 0 skips the assignee check.
func (s *proposalServiceImpl) RecordAction(ctx context.Context, stepID int64, status string, actorID int64) (TransitionKind, error) {
	return s.act(ctx, stepID, status, actorID, nil)
}

// RecordActionWithToken acts as the user an emailed credential was minted for.
// The credential is spent only when the action succeeds.
func (s *proposalServiceImpl) RecordActionWithToken(ctx context.Context, token, status string) (TransitionKind, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return TransitionNone, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	record, err := s.repos.Tokens.GetByJTI(ctx, claims.JTI)
	if err != nil {
		return TransitionNone, fmt.Errorf("load credential: %w", err)
	}
	if record == nil || !record.IsLive(s.now()) || record.StepID != claims.StepID || record.UserID != claims.UserID {
		return TransitionNone, ErrInvalidCredential
	}

	return s.act(ctx, claims.StepID, status, claims.UserID, func(txCtx context.Context) error {
		if err := s.repos.Tokens.MarkUsed(txCtx, record.ID, s.now()); err != nil {
			return fmt.Errorf("spend credential %s: %w", record.JTI, err)
		}
		return nil
	})
}

func (s *proposalServiceImpl) act(ctx context.Context, stepID int64, status string, actorID int64, after func(ctx context.Context) error) (TransitionKind, error) {
	if status != entity.StepStatusApproved && status != entity.StepStatusRejected {
		return TransitionNone, fmt.Errorf("%w: %q", ErrInvalidStepStatus, status)
	}

	step, err := s.repos.Steps.GetByID(ctx, stepID)
	if err != nil {
		return TransitionNone, fmt.Errorf("load step %d: %w", stepID, err)
	}
	if step == nil {
		return TransitionNone, fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}

	result := TransitionNone
	var proposal *entity.Proposal
	var modifier int64

	err = s.withLock(ctx, proposalLockKey(step.ProposalID), func() error {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.loadProposal(txCtx, step.ProposalID)
			if err != nil {
				return err
			}
			ledger, err := s.repos.Steps.ListByProposal(txCtx, p.ID)
			if err != nil {
				return fmt.Errorf("load steps of proposal %d: %w", p.ID, err)
			}

			var target *entity.Step
			for _, st := range ledger {
				if st.ID == stepID {
					target = st
				}
			}
			if target == nil {
				return fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
			}
			if !target.IsApprover() {
				return fmt.Errorf("%w: step %d is not an approver step", ErrOutOfTurn, stepID)
			}
			if actorID != 0 && target.UserID != actorID {
				return fmt.Errorf("%w: step %d", ErrNotAssignee, stepID)
			}
			flow := workflow.Flow(p.Flow)
			if !workflow.IsActionable(ledger, flow, target) {
				return fmt.Errorf("%w: step %d", ErrOutOfTurn, stepID)
			}

			now := s.now()
			target.Status = status
			target.CompletedAt = &now
			if err := s.repos.Steps.UpdateStatus(txCtx, target.ID, status, &now); err != nil {
				return fmt.Errorf("update step %d: %w", target.ID, err)
			}

			current, err := workflow.ParseState(p.Status)
			if err != nil {
				return err
			}
			if next := workflow.RecomputeStatus(ledger); next != current {
				state, err := appwf.Transition(txCtx, current, next)
				if err != nil {
					return err
				}
				if err := s.repos.Proposals.UpdateStatus(txCtx, p.ID, string(state)); err != nil {
					return fmt.Errorf("update status of proposal %d: %w", p.ID, err)
				}
				p.Status = string(state)
				result = TransitionKind(strings.ToLower(string(state)))
			} else {
				for _, st := range workflow.Advance(ledger, flow) {
					if err := s.repos.Steps.UpdateStatus(txCtx, st.ID, st.Status, st.CompletedAt); err != nil {
						return fmt.Errorf("advance step %d: %w", st.ID, err)
					}
				}
			}

			if after != nil {
				if err := after(txCtx); err != nil {
					return err
				}
			}
			proposal = p
			modifier = actorID
			if modifier == 0 {
				modifier = target.UserID
			}
			return nil
		})
		if err != nil {
			return err
		}

		transition := ""
		if result != TransitionNone {
			transition = proposal.Status
		}
		s.publish(ctx, event.NewEvent(event.TypeApprovalChanged, proposal.ID, modifier, map[string]interface{}{
			event.KeyStepID:      stepID,
			event.KeyTransition:  transition,
			event.KeyNeedsReview: false,
		}))
		return nil
	})
	if err != nil {
		return TransitionNone, err
	}

	s.logger.Info("Approval recorded",
		"proposal_id", proposal.ID,
		"step_id", stepID,
		"status", status,
		"proposal_status", proposal.Status,
	)
	return result, nil
}

// Restart puts every approver back to pending and re-opens the proposal
func (s *proposalServiceImpl) Restart(ctx context.Context, proposalID, modifierID int64) error {
	err := s.withLock(ctx, proposalLockKey(proposalID), func() error {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.loadProposal(txCtx, proposalID)
			if err != nil {
				return err
			}
			return s.restart(txCtx, p)
		})
		if err != nil {
			return err
		}
		s.publish(ctx, event.NewEvent(event.TypeProposalRestart, proposalID, modifierID, nil))
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Proposal restarted", "proposal_id", proposalID, "modifier_id", modifierID)
	return nil
}

func (s *proposalServiceImpl) restart(ctx context.Context, p *entity.Proposal) error {
	current, err := workflow.ParseState(p.Status)
	if err != nil {
		return err
	}
	state, err := appwf.Restart(ctx, current)
	if err != nil {
		return err
	}

	ledger, err := s.repos.Steps.ListByProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load steps of proposal %d: %w", p.ID, err)
	}
	if len(workflow.Approvers(ledger)) == 0 {
		return fmt.Errorf("%w: proposal %d", ErrMissingApprovalGroup, p.ID)
	}
	for _, st := range workflow.ResetApprovers(ledger, workflow.Flow(p.Flow)) {
		if err := s.repos.Steps.UpdateStatus(ctx, st.ID, st.Status, nil); err != nil {
			return fmt.Errorf("reset step %d: %w", st.ID, err)
		}
	}

	if err := s.repos.Proposals.UpdateStatus(ctx, p.ID, string(state)); err != nil {
		return fmt.Errorf("update status of proposal %d: %w", p.ID, err)
	}
	p.Status = string(state)
	return nil
}

// UpdateClientData replaces the client payload. A rejected proposal is
// restarted; otherwise approvers hear about the change, flagged for re-review
// when the edit touches a reviewed field.
func (s *proposalServiceImpl) UpdateClientData(ctx context.Context, proposalID, modifierID int64, clientType string, raw []byte) error {
	data, err := s.decodeClientData(clientType, raw)
	if err != nil {
		return err
	}
	encoded, err := clientdata.Encode(data)
	if err != nil {
		return err
	}

	var needsReview, restarted bool
	var comment *entity.Comment

	err = s.withLock(ctx, proposalLockKey(proposalID), func() error {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.loadProposal(txCtx, proposalID)
			if err != nil {
				return err
			}

			needsReview = true
			if p.ClientDataType == clientType && p.ClientData != "" {
				if prev, err := s.registry.Decode(p.ClientDataType, []byte(p.ClientData)); err == nil {
					needsReview = data.RequiresReview(prev)
				}
			}

			if err := s.repos.Proposals.UpdateClientData(txCtx, p.ID, clientType, encoded); err != nil {
				return fmt.Errorf("update client data of proposal %d: %w", p.ID, err)
			}

			comment = &entity.Comment{
				ProposalID:    p.ID,
				UserID:        modifierID,
				Body:          updateCommentBody,
				UpdateComment: true,
			}
			if err := s.repos.Comments.Create(txCtx, comment); err != nil {
				return fmt.Errorf("record update comment: %w", err)
			}

			if p.IsRejected() {
				restarted = true
				return s.restart(txCtx, p)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.publish(ctx, event.NewEvent(event.TypeCommentAdded, proposalID, modifierID, map[string]interface{}{
			event.KeyCommentID:     comment.ID,
			event.KeyUpdateComment: true,
		}))
		if restarted {
			s.publish(ctx, event.NewEvent(event.TypeProposalRestart, proposalID, modifierID, nil))
		} else {
			s.publish(ctx, event.NewEvent(event.TypeApprovalChanged, proposalID, modifierID, map[string]interface{}{
				event.KeyNeedsReview: needsReview,
			}))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Client data updated",
		"proposal_id", proposalID,
		"modifier_id", modifierID,
		"needs_review", needsReview,
		"restarted", restarted,
	)
	return nil
}

// AddComment records a user comment and notifies the other participants
func (s *proposalServiceImpl) AddComment(ctx context.Context, proposalID, userID int64, body string) (*entity.Comment, error) {
	body = utils.SanitizeString(strings.TrimSpace(body))
	if body == "" {
		v := &clientdata.ValidationError{}
		v.Add("body", "is required")
		return nil, v
	}
	comment := &entity.Comment{ProposalID: proposalID, UserID: userID, Body: body}
	err := s.withLock(ctx, proposalLockKey(proposalID), func() error {
		if _, err := s.loadProposal(ctx, proposalID); err != nil {
			return err
		}
		if err := s.repos.Comments.Create(ctx, comment); err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		s.publish(ctx, event.NewEvent(event.TypeCommentAdded, proposalID, userID, map[string]interface{}{
			event.KeyCommentID: comment.ID,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// AddObserver subscribes a user to a proposal, re-activating an existing
// observer step when there is one.
func (s *proposalServiceImpl) AddObserver(ctx context.Context, proposalID int64, email string) (*entity.Step, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		v := &clientdata.ValidationError{}
		v.Add("email", "is not a valid address")
		return nil, v
	}

	var observer *entity.Step
	err := s.withLock(ctx, proposalLockKey(proposalID), func() error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			p, err := s.loadProposal(txCtx, proposalID)
			if err != nil {
				return err
			}
			user, err := s.repos.Users.FindOrCreateByEmail(txCtx, email)
			if err != nil {
				return fmt.Errorf("resolve observer %s: %w", email, err)
			}

			ledger, err := s.repos.Steps.ListByProposal(txCtx, p.ID)
			if err != nil {
				return fmt.Errorf("load steps of proposal %d: %w", p.ID, err)
			}
			for _, st := range ledger {
				if st.IsObserver() && st.UserID == user.ID {
					if !st.Active {
						if err := s.repos.Steps.SetActive(txCtx, st.ID, true); err != nil {
							return fmt.Errorf("activate observer step %d: %w", st.ID, err)
						}
						st.Active = true
					}
					observer = st
					return nil
				}
			}

			if err := s.addStep(txCtx, p.ID, user, entity.RoleObserver, 0); err != nil {
				return err
			}
			ledger, err = s.repos.Steps.ListByProposal(txCtx, p.ID)
			if err != nil {
				return fmt.Errorf("reload steps of proposal %d: %w", p.ID, err)
			}
			for _, st := range ledger {
				if st.IsObserver() && st.UserID == user.ID {
					observer = st
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return observer, nil
}

// SetObserverActive toggles whether an observer still receives updates
func (s *proposalServiceImpl) SetObserverActive(ctx context.Context, proposalID, stepID int64, active bool) error {
	step, err := s.repos.Steps.GetByID(ctx, stepID)
	if err != nil {
		return fmt.Errorf("load step %d: %w", stepID, err)
	}
	if step == nil || step.ProposalID != proposalID || !step.IsObserver() {
		return fmt.Errorf("%w: observer %d on proposal %d", ErrStepNotFound, stepID, proposalID)
	}
	if err := s.repos.Steps.SetActive(ctx, stepID, active); err != nil {
		return fmt.Errorf("update observer step %d: %w", stepID, err)
	}
	return nil
}

func sortMembers(members []entity.ApprovalGroupMember) {
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Position < members[j].Position
	})
}

func statuses(steps []*entity.Step) map[int64]string {
	out := make(map[int64]string, len(steps))
	for _, st := range steps {
		out[st.ID] = st.Status
	}
	return out
}

// persistStatusChanges writes back every step whose status differs from before
func (s *proposalServiceImpl) persistStatusChanges(ctx context.Context, steps []*entity.Step, before map[int64]string) error {
	for _, st := range steps {
		if before[st.ID] == st.Status {
			continue
		}
		if err := s.repos.Steps.UpdateStatus(ctx, st.ID, st.Status, st.CompletedAt); err != nil {
			return fmt.Errorf("update step %d: %w", st.ID, err)
		}
	}
	return nil
}
