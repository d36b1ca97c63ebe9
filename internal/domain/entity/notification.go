package entity

import "time"

// Notification is an outbox record for one outbound message. Rows are written
// when a message is enqueued and delivered later by the delivery worker.
type Notification struct {
	ID           int64      `json:"id"`
	ProposalID   int64      `json:"proposal_id"`
	StepID       int64      `json:"step_id,omitempty"`
	UserID       int64      `json:"user_id"`
	Recipient    string     `json:"recipient"`
	Kind         string     `json:"kind"`
	Token        string     `json:"-"`
	Context      string     `json:"context"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Message is a single (recipient, kind, context) tuple produced by the dispatcher
type Message struct {
	ProposalID int64
	StepID     int64
	UserID     int64
	Recipient  string
	Kind       string
	Token      string
	Context    map[string]string
}
