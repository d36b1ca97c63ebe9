package workflow

import (
	"sort"

	"github.com/mobomo/C2/internal/domain/entity"
)

// SortLedger returns the steps ordered by position, then id.
// The input slice is left untouched.
func SortLedger(steps []*entity.Step) []*entity.Step {
	sorted := append([]*entity.Step(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Approvers returns the approver steps in ledger order
func Approvers(steps []*entity.Step) []*entity.Step {
	approvers := make([]*entity.Step, 0, len(steps))
	for _, s := range SortLedger(steps) {
		if s.IsApprover() {
			approvers = append(approvers, s)
		}
	}
	return approvers
}

// ActionableSteps returns the approver steps that may act right now.
//
// Parallel: every undecided approver. Linear: the first undecided approver,
// provided every approver before it has approved. A ledger holding any
// rejection has nothing left to act on.
func ActionableSteps(steps []*entity.Step, flow Flow) []*entity.Step {
	approvers := Approvers(steps)
	for _, s := range approvers {
		if s.Status == entity.StepStatusRejected {
			return nil
		}
	}

	var actionable []*entity.Step
	for _, s := range approvers {
		if s.IsDecided() {
			continue
		}
		actionable = append(actionable, s)
		if flow == FlowLinear {
			// every earlier approver is approved, else the loop would have stopped here
			break
		}
	}
	return actionable
}

// IsActionable reports whether the given step is currently actionable
func IsActionable(steps []*entity.Step, flow Flow, step *entity.Step) bool {
	for _, s := range ActionableSteps(steps, flow) {
		if s.ID == step.ID {
			return true
		}
	}
	return false
}

// RecomputeStatus derives the proposal state from its approver steps.
// A single rejection wins. Approved requires at least one approver and all of
// them approved; an empty ledger stays pending.
func RecomputeStatus(steps []*entity.Step) State {
	total, approved := 0, 0
	for _, s := range steps {
		if !s.IsApprover() {
			continue
		}
		switch s.Status {
		case entity.StepStatusRejected:
			return StateRejected
		case entity.StepStatusApproved:
			approved++
		}
		total++
	}
	if total > 0 && approved == total {
		return StateApproved
	}
	return StatePending
}

// FinalApprover returns the approver whose sign-off closes the proposal:
// the last one in position order for linear flows, the last inserted for parallel.
func FinalApprover(steps []*entity.Step, flow Flow) *entity.Step {
	approvers := Approvers(steps)
	if len(approvers) == 0 {
		return nil
	}
	if flow == FlowLinear {
		return approvers[len(approvers)-1]
	}
	last := approvers[0]
	for _, s := range approvers[1:] {
		if s.ID > last.ID {
			last = s
		}
	}
	return last
}

// Advance marks newly actionable steps as ACTIONABLE and returns the steps it changed
func Advance(steps []*entity.Step, flow Flow) []*entity.Step {
	var changed []*entity.Step
	for _, s := range ActionableSteps(steps, flow) {
		if s.Status != entity.StepStatusActionable {
			s.Status = entity.StepStatusActionable
			changed = append(changed, s)
		}
	}
	return changed
}

// ResetApprovers puts every approver back to PENDING, then advances the ledger.
// It returns all approver steps in ledger order.
func ResetApprovers(steps []*entity.Step, flow Flow) []*entity.Step {
	approvers := Approvers(steps)
	for _, s := range approvers {
		s.Status = entity.StepStatusPending
		s.CompletedAt = nil
	}
	Advance(steps, flow)
	return approvers
}
