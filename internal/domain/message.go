package domain

import "time"

// MessageStatus enumerates the lifecycle of a single queued email.
type MessageStatus string

const (
	MessageQueued  MessageStatus = "queued"
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
	MessageBounced MessageStatus = "bounced"
)

// IsTerminal reports whether no further transitions are possible.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageSent || s == MessageFailed || s == MessageBounced
}

// CanTransition reports whether moving from s to next goes strictly forward
// along queued -> sending -> (sent | failed | bounced).
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch s {
	case MessageQueued:
		return next == MessageSending
	case MessageSending:
		return next.IsTerminal()
	}
	return false
}

// Message is one row of the outbound queue. Rows are never deleted.
// CampaignID is nil for flow messages produced outside of campaigns.
type Message struct {
	ID                 string        `json:"id" db:"id"`
	Seq                int64         `json:"seq" db:"seq"`
	CampaignID         *string       `json:"campaign_id" db:"campaign_id"`
	RecipientID        *string       `json:"recipient_id" db:"recipient_id"`
	RetryOf            *string       `json:"retry_of" db:"retry_of"`
	ToEmail            string        `json:"to_email" db:"to_email"`
	ToName             string        `json:"to_name" db:"to_name"`
	Subject            string        `json:"subject" db:"subject"`
	HTMLBody           string        `json:"html_body" db:"html_body"`
	TextBody           string        `json:"text_body" db:"text_body"`
	Status             MessageStatus `json:"status" db:"status"`
	ErrorMessage       *string       `json:"error_message" db:"error_message"`
	TransportMessageID *string       `json:"message_id" db:"message_id"`
	SentAt             *time.Time    `json:"sent_at" db:"sent_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
}

// IsFlow reports whether the message has no owning campaign.
func (m *Message) IsFlow() bool {
	return m.CampaignID == nil
}
