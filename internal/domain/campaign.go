package domain

import (
	"encoding/json"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

// Campaign represents one send job: a template delivered to a segment.
type Campaign struct {
	ID         string            `json:"id" db:"id"`
	Name       string            `json:"name" db:"name"`
	TemplateID string            `json:"template_id" db:"template_id"`
	SegmentID  *string           `json:"segment_id" db:"segment_id"`
	Subject    *string           `json:"subject" db:"subject"`
	Variables  map[string]string `json:"variables" db:"variables"`

	Status      CampaignStatus `json:"status" db:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at" db:"scheduled_at"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`
	BounceCount     int `json:"bounce_count" db:"bounce_count"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign has finished sending.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent
}

// Template is the read-only content a campaign renders per recipient.
type Template struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTMLBody  string    `json:"html_body" db:"html_body"`
	TextBody  string    `json:"text_body" db:"text_body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Segment is a stored recipient filter. The filter document is resolved into
// SQL by the segmentation package.
type Segment struct {
	ID     string          `json:"id" db:"id"`
	Name   string          `json:"name" db:"name"`
	Filter json.RawMessage `json:"filter" db:"filter"`
}

// CampaignContent bundles a campaign with everything needed to render it.
type CampaignContent struct {
	Campaign Campaign
	Template Template
	Segment  *Segment
}
