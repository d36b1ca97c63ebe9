package entity

import "time"

// Proposal is the aggregate root of one approval request. Name is the business key
// (for example a cart number) shared by successive resubmissions.
type Proposal struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Flow           string    `json:"flow"`
	ClientDataType string    `json:"client_data_type,omitempty"`
	ClientData     string    `json:"client_data,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsPending reports whether the proposal is still awaiting decisions
func (p *Proposal) IsPending() bool {
	return p.Status == ProposalStatusPending
}

// IsApproved reports whether every approver signed off
func (p *Proposal) IsApproved() bool {
	return p.Status == ProposalStatusApproved
}

// IsRejected reports whether any approver rejected the proposal
func (p *Proposal) IsRejected() bool {
	return p.Status == ProposalStatusRejected
}
