package event

// Type identifies the type of domain event
type Type string

const (
	TypeProposalCreated Type = "proposal.created"
	TypeApprovalChanged Type = "proposal.approval_changed"
	TypeProposalRestart Type = "proposal.restarted"
	TypeCommentAdded    Type = "proposal.comment_added"
)

// Payload keys
const (
	KeyNeedsReview   = "needs_review"
	KeyStepID        = "step_id"
	KeyTransition    = "transition"
	KeyCommentID     = "comment_id"
	KeyUpdateComment = "update_comment"
	KeyPrenotified   = "prenotified_user_ids"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeProposalCreated,
		TypeApprovalChanged,
		TypeProposalRestart,
		TypeCommentAdded:
		return true
	default:
		return false
	}
}
