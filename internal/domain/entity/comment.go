package entity

import "time"

// Comment is a free-text note attached to a proposal.
// UpdateComment marks entries written by the system when client data changes.
type Comment struct {
	ID            int64     `json:"id"`
	ProposalID    int64     `json:"proposal_id"`
	UserID        int64     `json:"user_id"`
	Body          string    `json:"body"`
	UpdateComment bool      `json:"update_comment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
