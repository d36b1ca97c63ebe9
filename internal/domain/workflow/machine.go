package workflow

import "context"

// StateMachine walks one proposal's status through a fixed transition table.
type StateMachine interface {
	State() State
	CanFire(trigger Trigger) bool
	// Fire moves to the first target whose guard passes. A failed Fire leaves
	// the state unchanged.
	Fire(ctx context.Context, trigger Trigger) error
	PermittedTriggers() []Trigger
}
