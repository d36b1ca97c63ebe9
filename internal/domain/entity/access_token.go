package entity

import "time"

// AccessTokenTTL is how long an emailed approval credential stays valid
const AccessTokenTTL = 7 * 24 * time.Hour

// AccessToken records a credential minted for one approver step so the
// approver can act from a notification without a session.
type AccessToken struct {
	ID         int64      `json:"id"`
	JTI        string     `json:"jti"`
	ProposalID int64      `json:"proposal_id"`
	StepID     int64      `json:"step_id"`
	UserID     int64      `json:"user_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsLive reports whether the token is unused and not yet expired
func (t *AccessToken) IsLive(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
