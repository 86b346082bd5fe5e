package domain

import "time"

// TrackingEventType enumerates the types of email engagement events.
type TrackingEventType string

const (
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventUnsubscribe TrackingEventType = "unsubscribe"
)

// TrackingEvent represents a single engagement event resolved from a
// tracking token.
type TrackingEvent struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Email      string            `json:"email"`
	EventType  TrackingEventType `json:"event_type"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	URL        string            `json:"url,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
