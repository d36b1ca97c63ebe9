package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrInvalidFlow is returned for an unknown flow mode
	ErrInvalidFlow = errors.New("invalid flow mode")

	// ErrOutOfTurnAction is returned when an approver acts on a step that is not actionable
	ErrOutOfTurnAction = errors.New("step is not actionable")

	// ErrMissingApprovalGroup is returned when a proposal would be created without approvers
	ErrMissingApprovalGroup = errors.New("proposal has no approvers")

	// ErrUnknownApprovalGroup is returned when a named approval group does not exist
	ErrUnknownApprovalGroup = errors.New("unknown approval group")
)
