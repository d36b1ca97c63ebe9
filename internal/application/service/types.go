package service

import (
	"github.com/mobomo/C2/internal/domain/entity"
)

// TransitionKind reports what an approval action did to the proposal status
type TransitionKind string

const (
	TransitionNone     TransitionKind = "none"
	TransitionApproved TransitionKind = "approved"
	TransitionRejected TransitionKind = "rejected"
)

// RoleSpec says who takes part in a proposal. Approvers come either from
// ApproverEmails or from the named ApprovalGroup.
type RoleSpec struct {
	RequesterEmail string
	ApproverEmails []string
	ApprovalGroup  string
	ObserverEmails []string
}

// SubmitInput is a complete submission under a business key
type SubmitInput struct {
	Name           string
	Flow           string
	Roles          RoleSpec
	ClientDataType string
	ClientData     []byte
	InitialComment string
}

// ProposalView is a proposal with its ledger and comments
type ProposalView struct {
	Proposal      *entity.Proposal  `json:"proposal"`
	Steps         []*entity.Step    `json:"steps"`
	Comments      []*entity.Comment `json:"comments"`
	ActionableIDs []int64           `json:"actionable_step_ids"`
	DisplayName   string            `json:"display_name,omitempty"`
	TotalPrice    float64           `json:"total_price,omitempty"`
}
