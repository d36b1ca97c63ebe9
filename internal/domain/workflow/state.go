package workflow

import "github.com/mobomo/C2/internal/domain/entity"

// State is the derived status of a proposal
type State string

const (
	StatePending  State = entity.ProposalStatusPending
	StateApproved State = entity.ProposalStatusApproved
	StateRejected State = entity.ProposalStatusRejected
)

var validStates = map[State]bool{
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
}

// IsTerminal reports whether the state closes the current generation.
// Only an explicit restart leaves a terminal state.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid proposal state
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState converts a persisted status into a State
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", ErrInvalidState
	}
	return state, nil
}
