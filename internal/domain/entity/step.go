package entity

import "time"

// Step is one ledger entry of a proposal. Status and Position only carry
// meaning for approver steps; Active only for observers.
type Step struct {
	ID          int64      `json:"id"`
	ProposalID  int64      `json:"proposal_id"`
	UserID      int64      `json:"user_id"`
	UserEmail   string     `json:"user_email,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	Active      bool       `json:"active"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsApprover reports whether the step belongs to an approver
func (s *Step) IsApprover() bool {
	return s.Role == RoleApprover
}

// IsRequester reports whether the step belongs to the requester
func (s *Step) IsRequester() bool {
	return s.Role == RoleRequester
}

// IsObserver reports whether the step belongs to an observer
func (s *Step) IsObserver() bool {
	return s.Role == RoleObserver
}

// IsDecided reports whether the approver already approved or rejected
func (s *Step) IsDecided() bool {
	return s.Status == StepStatusApproved || s.Status == StepStatusRejected
}

// Clone returns a copy that can be mutated without touching the original
func (s *Step) Clone() *Step {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
