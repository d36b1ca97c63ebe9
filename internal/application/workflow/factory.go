// Package workflow wires the proposal status machine.
package workflow

import (
	"context"
	"fmt"

	domainwf "github.com/mobomo/C2/internal/domain/workflow"
)

// BuildProposalStateMachine creates the status machine for one proposal generation
func BuildProposalStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// PENDING is decided by the ledger; restart re-opens a pending chain
	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerRestart, domainwf.StatePending)

	// APPROVED and REJECTED close the generation until restarted
	builder.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerRestart, domainwf.StatePending)

	builder.Configure(domainwf.StateRejected).
		Permit(domainwf.TriggerRestart, domainwf.StatePending)

	return builder.Build(initialState)
}

// Transition moves a proposal from its persisted status to target through the
// status machine and returns the resulting state.
func Transition(ctx context.Context, current, target domainwf.State) (domainwf.State, error) {
	if current == target {
		return current, nil
	}
	trigger, ok := domainwf.TriggerFor(target)
	if !ok {
		return current, fmt.Errorf("%w: %s", domainwf.ErrInvalidState, target)
	}
	machine := BuildProposalStateMachine(current)
	if err := machine.Fire(ctx, trigger); err != nil {
		return current, err
	}
	return machine.State(), nil
}

// Restart re-opens a proposal in any state
func Restart(ctx context.Context, current domainwf.State) (domainwf.State, error) {
	machine := BuildProposalStateMachine(current)
	if err := machine.Fire(ctx, domainwf.TriggerRestart); err != nil {
		return current, err
	}
	return machine.State(), nil
}
