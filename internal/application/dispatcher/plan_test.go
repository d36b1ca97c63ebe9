package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/event"
)

const (
	requesterID = 100
	aliceID     = 101
	bobID       = 102
	carolID     = 103
	olgaID      = 104
	mutedID     = 105
)

func ledger(aliceStatus, bobStatus string) []*entity.Step {
	return []*entity.Step{
		{ID: 1, UserID: requesterID, Role: entity.RoleRequester},
		{ID: 2, UserID: aliceID, Role: entity.RoleApprover, Position: 0, Status: aliceStatus},
		{ID: 3, UserID: bobID, Role: entity.RoleApprover, Position: 1, Status: bobStatus},
		{ID: 4, UserID: olgaID, Role: entity.RoleObserver, Active: true},
		{ID: 5, UserID: mutedID, Role: entity.RoleObserver, Active: false},
	}
}

func kinds(rs []Recipient) map[int64]string {
	out := make(map[int64]string, len(rs))
	for _, r := range rs {
		out[r.Step.UserID] = r.Kind
	}
	return out
}

func TestPlan_Created(t *testing.T) {
	p := &entity.Proposal{ID: 9, Name: "CART1", Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	rs := Plan(p, ledger(entity.StepStatusActionable, entity.StepStatusPending), Change{Type: event.TypeProposalCreated}, nil)

	assert.Equal(t, map[int64]string{
		aliceID:     entity.MessageActionsForApprover,
		bobID:       entity.MessageActionsForApprover,
		requesterID: entity.MessageProposalCreatedConfirmation,
	}, kinds(rs))
	for _, r := range rs {
		assert.Equal(t, r.Step.IsApprover(), r.Mint, "only approvers get credentials")
		assert.Equal(t, "CART1", r.Context["proposal_name"])
	}
}

func TestPlan_CreatedSkipsPrenotified(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowParallel}
	rs := Plan(p, ledger(entity.StepStatusActionable, entity.StepStatusActionable), Change{
		Type:        event.TypeProposalCreated,
		Prenotified: map[int64]bool{aliceID: true},
	}, nil)

	got := kinds(rs)
	assert.NotContains(t, got, int64(aliceID))
	assert.Contains(t, got, int64(bobID))
}

func TestPlan_CreatedAndRestartSkipDecidedApprovers(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	steps := ledger(entity.StepStatusApproved, entity.StepStatusActionable)

	for _, typ := range []event.Type{event.TypeProposalCreated, event.TypeProposalRestart} {
		got := kinds(Plan(p, steps, Change{Type: typ}, nil))
		assert.NotContains(t, got, int64(aliceID), typ)
		assert.Equal(t, entity.MessageActionsForApprover, got[bobID], typ)
	}
}

func TestPlan_ApprovalChanged_LinearAdvance(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	steps := ledger(entity.StepStatusApproved, entity.StepStatusActionable)

	rs := Plan(p, steps, Change{Type: event.TypeApprovalChanged, Modifier: aliceID, ActedStepID: 2}, func(s *entity.Step) bool {
		return s.UserID == bobID
	})

	assert.Equal(t, map[int64]string{
		bobID:       entity.MessageActionsForApproverUpdated,
		requesterID: entity.MessageApprovalReplyReceived,
		olgaID:      entity.MessageNotificationForSubscriberUpdated,
	}, kinds(rs))
}

func TestPlan_ApprovalChanged_FinalApproval(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusApproved, Flow: entity.FlowLinear}
	steps := ledger(entity.StepStatusApproved, entity.StepStatusApproved)

	rs := Plan(p, steps, Change{Type: event.TypeApprovalChanged, Modifier: bobID, ActedStepID: 3, Transition: entity.ProposalStatusApproved}, nil)

	var requesterMsgs []Recipient
	for _, r := range rs {
		assert.NotEqual(t, int64(bobID), r.Step.UserID)
		if r.Step.UserID == requesterID {
			requesterMsgs = append(requesterMsgs, r)
		}
	}
	if assert.Len(t, requesterMsgs, 1) {
		assert.Equal(t, entity.AlertApprovalsComplete, requesterMsgs[0].Context["alert"])
		assert.Equal(t, entity.ProposalStatusApproved, requesterMsgs[0].Context["transition"])
	}
	assert.Equal(t, entity.MessageProposalUpdatedStepComplete, kinds(rs)[aliceID])
}

func TestPlan_ApprovalChanged_ParallelRejection(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusRejected, Flow: entity.FlowParallel}
	steps := ledger(entity.StepStatusActionable, entity.StepStatusRejected)

	rs := Plan(p, steps, Change{Type: event.TypeApprovalChanged, Modifier: bobID, ActedStepID: 3, Transition: entity.ProposalStatusRejected}, nil)

	got := kinds(rs)
	assert.NotContains(t, got, int64(aliceID), "pending approver gets no actionable notice after rejection")
	assert.NotContains(t, got, int64(bobID))
	assert.Equal(t, entity.MessageApprovalReplyReceived, got[requesterID])
	assert.Empty(t, rs[0].Context["alert"])
}

func TestPlan_ApprovalChanged_NeedsReview(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	steps := ledger(entity.StepStatusApproved, entity.StepStatusActionable)

	rs := Plan(p, steps, Change{Type: event.TypeApprovalChanged, Modifier: requesterID, NeedsReview: true}, nil)

	got := kinds(rs)
	assert.Equal(t, entity.MessageProposalUpdatedNeedsReReview, got[aliceID])
	assert.Equal(t, entity.MessageActionsForApprover, got[bobID])
	assert.NotContains(t, got, int64(requesterID))
	assert.Equal(t, entity.MessageNotificationForSubscriberUpdated, got[olgaID])
	assert.NotContains(t, got, int64(mutedID))
}

func TestPlan_NoDuplicateWhenRequesterIsApprover(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowParallel}
	steps := []*entity.Step{
		{ID: 1, UserID: aliceID, Role: entity.RoleRequester},
		{ID: 2, UserID: aliceID, Role: entity.RoleApprover, Status: entity.StepStatusActionable},
		{ID: 3, UserID: aliceID, Role: entity.RoleObserver, Active: true},
	}

	for _, typ := range []event.Type{event.TypeProposalCreated, event.TypeApprovalChanged, event.TypeCommentAdded} {
		rs := Plan(p, steps, Change{Type: typ}, nil)
		assert.Len(t, rs, 1, "event %s", typ)
	}
}

func TestPlan_Restarted(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	rs := Plan(p, ledger(entity.StepStatusActionable, entity.StepStatusPending), Change{Type: event.TypeProposalRestart, Modifier: requesterID}, nil)

	assert.Equal(t, map[int64]string{
		aliceID: entity.MessageActionsForApprover,
		bobID:   entity.MessageActionsForApprover,
	}, kinds(rs))
}

func TestPlan_CommentAdded(t *testing.T) {
	p := &entity.Proposal{ID: 9, Status: entity.ProposalStatusPending, Flow: entity.FlowLinear}
	steps := ledger(entity.StepStatusActionable, entity.StepStatusPending)

	rs := Plan(p, steps, Change{Type: event.TypeCommentAdded, Modifier: aliceID, CommentID: 77}, nil)
	assert.Equal(t, map[int64]string{
		requesterID: entity.MessageCommentAdded,
		bobID:       entity.MessageCommentAdded,
		olgaID:      entity.MessageCommentAdded,
	}, kinds(rs))
	assert.Equal(t, "77", rs[0].Context["comment_id"])

	assert.Empty(t, Plan(p, steps, Change{Type: event.TypeCommentAdded, Modifier: aliceID, UpdateComment: true}, nil))
}

func TestPlan_ModifierNeverNotified(t *testing.T) {
	statuses := []string{entity.StepStatusPending, entity.StepStatusActionable, entity.StepStatusApproved, entity.StepStatusRejected}
	types := []event.Type{event.TypeProposalCreated, event.TypeApprovalChanged, event.TypeProposalRestart, event.TypeCommentAdded}
	users := []int64{requesterID, aliceID, bobID, olgaID, carolID}

	for _, flow := range []string{entity.FlowLinear, entity.FlowParallel} {
		for _, a := range statuses {
			for _, b := range statuses {
				for _, typ := range types {
					for _, modifier := range users {
						p := &entity.Proposal{ID: 1, Status: entity.ProposalStatusPending, Flow: flow}
						rs := Plan(p, ledger(a, b), Change{Type: typ, Modifier: modifier, NeedsReview: a == b}, func(*entity.Step) bool { return true })
						seen := map[int64]bool{}
						for _, r := range rs {
							if r.Step.UserID == modifier {
								t.Fatalf("modifier %d notified for %s (%s/%s, %s)", modifier, typ, a, b, flow)
							}
							if seen[r.Step.UserID] {
								t.Fatalf("user %d notified twice for %s", r.Step.UserID, typ)
							}
							seen[r.Step.UserID] = true
						}
					}
				}
			}
		}
	}
}
