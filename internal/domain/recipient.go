package domain

import (
	"strings"
	"time"
)

// Recipient is a lead that can receive campaign email.
type Recipient struct {
	ID             string            `json:"id" db:"id"`
	Email          string            `json:"email" db:"email"`
	FirstName      string            `json:"first_name" db:"first_name"`
	LastName       string            `json:"last_name" db:"last_name"`
	Fields         map[string]string `json:"fields" db:"custom_fields"`
	UnsubscribedAt *time.Time        `json:"unsubscribed_at" db:"unsubscribed_at"`
}

// FullName joins first and last name, skipping blanks.
func (r *Recipient) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// HasAddress reports whether the recipient can be mailed at all.
func (r *Recipient) HasAddress() bool {
	return strings.TrimSpace(r.Email) != ""
}
