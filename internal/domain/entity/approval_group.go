package entity

import "time"

// ApprovalGroup is a reusable approver/observer template. Proposals copy its
// members into their own steps, so later edits never reach past proposals.
type ApprovalGroup struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	Flow      string                `json:"flow"`
	Members   []ApprovalGroupMember `json:"members"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ApprovalGroupMember is one user in an approval group
type ApprovalGroupMember struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Position int    `json:"position"`
}

// Approvers returns the approver members in declaration order
func (g *ApprovalGroup) Approvers() []ApprovalGroupMember {
	return g.membersWithRole(RoleApprover)
}

// Observers returns the observer members in declaration order
func (g *ApprovalGroup) Observers() []ApprovalGroupMember {
	return g.membersWithRole(RoleObserver)
}

func (g *ApprovalGroup) membersWithRole(role string) []ApprovalGroupMember {
	members := make([]ApprovalGroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Role == role {
			members = append(members, m)
		}
	}
	return members
}
