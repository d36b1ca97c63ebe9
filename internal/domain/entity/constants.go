package entity

// Proposal status constants
const (
	ProposalStatusPending  = "PENDING"
	ProposalStatusApproved = "APPROVED"
	ProposalStatusRejected = "REJECTED"
)

// Flow modes for a proposal's approver ledger
const (
	FlowLinear   = "linear"
	FlowParallel = "parallel"
)

// Step role constants
const (
	RoleRequester = "REQUESTER"
	RoleApprover  = "APPROVER"
	RoleObserver  = "OBSERVER"
)

// Step status constants. Only meaningful for approver steps.
const (
	StepStatusPending    = "PENDING"
	StepStatusActionable = "ACTIONABLE"
	StepStatusApproved   = "APPROVED"
	StepStatusRejected   = "REJECTED"
)

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// Message kinds handed to the mail collaborator
const (
	MessageActionsForApprover               = "actions_for_approver"
	MessageActionsForApproverUpdated        = "actions_for_approver_updated"
	MessageProposalCreatedConfirmation      = "proposal_created_confirmation"
	MessageApprovalReplyReceived            = "approval_reply_received"
	MessageProposalUpdatedStepComplete      = "proposal_updated_step_complete"
	MessageProposalUpdatedNeedsReReview     = "proposal_updated_step_complete_needs_re_review"
	MessageNotificationForSubscriberUpdated = "notification_for_subscriber_updated"
	MessageCommentAdded                     = "comment_added"
)

// AlertApprovalsComplete marks the requester message sent when the final approver closes a proposal.
const AlertApprovalsComplete = "approvals_complete"
