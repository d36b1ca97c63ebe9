package service

import (
	"errors"

	"github.com/mobomo/C2/internal/domain/workflow"
)

var (
	// ErrOutOfTurn is returned when an approver acts on a step that is not actionable
	ErrOutOfTurn = workflow.ErrOutOfTurnAction

	// ErrMissingApprovalGroup is returned when a proposal would end up with no approvers
	ErrMissingApprovalGroup = workflow.ErrMissingApprovalGroup

	// ErrUnknownApprovalGroup is returned when the named approval group does not exist
	ErrUnknownApprovalGroup = workflow.ErrUnknownApprovalGroup

	// ErrProposalNotFound is returned when a proposal does not exist
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrStepNotFound is returned when a step does not exist or belongs to another proposal
	ErrStepNotFound = errors.New("step not found")

	// ErrNotAssignee is returned when someone other than the step's user acts on it
	ErrNotAssignee = errors.New("actor is not assigned to this step")

	// ErrInvalidStepStatus is returned for actions other than approve or reject
	ErrInvalidStepStatus = errors.New("invalid step status")

	// ErrAlreadyDecided is returned when the ledger of a decided proposal would be
	// rebuilt in place; Restart is the way back from a decision
	ErrAlreadyDecided = workflow.ErrInvalidTransition

	// ErrInvalidCredential is returned for unknown, expired or used access tokens
	ErrInvalidCredential = errors.New("invalid or expired credential")
)
