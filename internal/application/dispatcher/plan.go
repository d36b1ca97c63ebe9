package dispatcher

import (
	"strconv"

	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
	"github.com/mobomo/C2/internal/domain/workflow"
)

// Change describes the event a recipient plan is computed for
type Change struct {
	Type event.Type
	// Modifier caused the event and is never notified about it. Zero means nobody.
	Modifier      int64
	NeedsReview   bool
	ActedStepID   int64
	Transition    string
	CommentID     int64
	UpdateComment bool
	// Prenotified users already received their action notice for this event
	Prenotified map[int64]bool
}

// Recipient is one planned message
type Recipient struct {
	Step    *entity.Step
	Kind    string
	Mint    bool
	Context map[string]string
}

// Plan computes who hears about a change and with which message. hasLiveCredential
// tells whether an approver already holds an unused credential. Each user appears
// at most once; the first rule that matches wins.
func Plan(proposal *entity.Proposal, steps []*entity.Step, ch Change, hasLiveCredential func(*entity.Step) bool) []Recipient {
	p := &planner{
		proposal: proposal,
		change:   ch,
		seen:     make(map[int64]bool),
	}
	flow := workflow.Flow(proposal.Flow)
	ledger := workflow.SortLedger(steps)

	switch ch.Type {
	case event.TypeProposalCreated:
		for _, s := range workflow.Approvers(ledger) {
			if !ch.Prenotified[s.UserID] && !s.IsDecided() {
				p.add(s, entity.MessageActionsForApprover, true)
			}
		}
		for _, s := range ledger {
			if s.IsRequester() {
				p.add(s, entity.MessageProposalCreatedConfirmation, false)
			}
		}

	case event.TypeApprovalChanged:
		for _, s := range workflow.Approvers(ledger) {
			if s.Status != entity.StepStatusApproved {
				continue
			}
			kind := entity.MessageProposalUpdatedStepComplete
			if ch.NeedsReview {
				kind = entity.MessageProposalUpdatedNeedsReReview
			}
			p.add(s, kind, false)
		}
		for _, s := range workflow.ActionableSteps(ledger, flow) {
			kind := entity.MessageActionsForApprover
			if hasLiveCredential != nil && hasLiveCredential(s) {
				kind = entity.MessageActionsForApproverUpdated
			}
			p.add(s, kind, true)
		}
		for _, s := range ledger {
			if s.IsRequester() {
				p.addRequesterUpdate(s, ledger, flow)
			}
		}
		for _, s := range ledger {
			if s.IsObserver() && s.Active {
				p.add(s, entity.MessageNotificationForSubscriberUpdated, false)
			}
		}

	case event.TypeProposalRestart:
		for _, s := range workflow.Approvers(ledger) {
			if !s.IsDecided() {
				p.add(s, entity.MessageActionsForApprover, true)
			}
		}

	case event.TypeCommentAdded:
		if ch.UpdateComment {
			return nil
		}
		for _, s := range ledger {
			if s.IsRequester() || s.IsApprover() || (s.IsObserver() && s.Active) {
				p.add(s, entity.MessageCommentAdded, false)
			}
		}
	}

	return p.out
}

type planner struct {
	proposal *entity.Proposal
	change   Change
	seen     map[int64]bool
	out      []Recipient
}

func (p *planner) add(s *entity.Step, kind string, mint bool) *Recipient {
	if p.change.Modifier != 0 && s.UserID == p.change.Modifier {
		return nil
	}
	if p.seen[s.UserID] {
		return nil
	}
	p.seen[s.UserID] = true

	ctx := map[string]string{
		"proposal_id":   strconv.FormatInt(p.proposal.ID, 10),
		"proposal_name": p.proposal.Name,
		"status":        p.proposal.Status,
		"role":          s.Role,
	}
	if p.change.Modifier != 0 {
		ctx["modifier_id"] = strconv.FormatInt(p.change.Modifier, 10)
	}
	if p.change.CommentID != 0 {
		ctx["comment_id"] = strconv.FormatInt(p.change.CommentID, 10)
	}

	p.out = append(p.out, Recipient{Step: s, Kind: kind, Mint: mint, Context: ctx})
	return &p.out[len(p.out)-1]
}

// addRequesterUpdate sends a reply notice when an approver acted, flagging the
// action that closed the proposal, and a plain update for edits.
func (p *planner) addRequesterUpdate(s *entity.Step, ledger []*entity.Step, flow workflow.Flow) {
	if p.change.ActedStepID == 0 {
		p.add(s, entity.MessageNotificationForSubscriberUpdated, false)
		return
	}

	r := p.add(s, entity.MessageApprovalReplyReceived, false)
	if r == nil {
		return
	}
	r.Context["step_id"] = strconv.FormatInt(p.change.ActedStepID, 10)
	if p.change.Transition != "" {
		r.Context["transition"] = p.change.Transition
	}
	if p.proposal.IsApproved() {
		if final := workflow.FinalApprover(ledger, flow); final != nil && final.ID == p.change.ActedStepID {
			r.Context["alert"] = entity.AlertApprovalsComplete
		}
	}
}
