package mail

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mobomo/C2/internal/domain/entity"
)

// Envelope is a rendered plain-text email
type Envelope struct {
	To      string
	Subject string
	Body    string
}

// Renderer builds envelopes from outbox rows. Action links point at BaseURL.
type Renderer struct {
	BaseURL string
}

var subjects = map[string]string{
	entity.MessageActionsForApprover:               "Action needed: %s",
	entity.MessageActionsForApproverUpdated:        "Updated, action still needed: %s",
	entity.MessageProposalCreatedConfirmation:      "Your request %s was submitted",
	entity.MessageApprovalReplyReceived:            "An approver responded to %s",
	entity.MessageProposalUpdatedStepComplete:      "Request %s was updated",
	entity.MessageProposalUpdatedNeedsReReview:     "Request %s changed and needs your review",
	entity.MessageNotificationForSubscriberUpdated: "Request %s was updated",
	entity.MessageCommentAdded:                     "New comment on %s",
}

// Render produces the envelope for n
func (r Renderer) Render(n *entity.Notification) (*Envelope, error) {
	ctx := map[string]string{}
	if n.Context != "" {
		if err := json.Unmarshal([]byte(n.Context), &ctx); err != nil {
			return nil, fmt.Errorf("decode context of notification %d: %w", n.ID, err)
		}
	}

	name := ctx["proposal_name"]
	if name == "" {
		name = fmt.Sprintf("#%d", n.ProposalID)
	}
	format, ok := subjects[n.Kind]
	if !ok {
		format = "Update on %s"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", name)
	if status := ctx["status"]; status != "" {
		fmt.Fprintf(&b, "Status: %s\n", strings.ToLower(status))
	}
	if dn := ctx["display_name"]; dn != "" && dn != name {
		fmt.Fprintf(&b, "Item: %s\n", dn)
	}
	if total := ctx["total_price"]; total != "" {
		fmt.Fprintf(&b, "Total: $%s\n", total)
	}
	if ctx["alert"] == entity.AlertApprovalsComplete {
		b.WriteString("\nAll approvals are complete.\n")
	}
	if n.Token != "" {
		fmt.Fprintf(&b, "\nApprove: %s\n", r.actionURL(n.Token, entity.StepStatusApproved))
		fmt.Fprintf(&b, "Reject: %s\n", r.actionURL(n.Token, entity.StepStatusRejected))
	}
	fmt.Fprintf(&b, "\nView: %s/api/proposals/%d\n", strings.TrimRight(r.BaseURL, "/"), n.ProposalID)

	return &Envelope{
		To:      n.Recipient,
		Subject: fmt.Sprintf(format, name),
		Body:    b.String(),
	}, nil
}

func (r Renderer) actionURL(token, status string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("status", status)
	return strings.TrimRight(r.BaseURL, "/") + "/api/actions?" + q.Encode()
}
