// Package sending defines the mail transport contract used by the queue
// processor and the SMTP and SES implementations of it.
//
// A Transport delivers one fully rendered message. Errors returned from Send
// are per-message delivery failures; Classify decides whether one is a hard
// bounce. ErrTransportUnavailable from Ready means nothing should be sent at
// all.
package sending

import (
	"context"
	"net/mail"
)

// Envelope is a fully rendered message ready for delivery.
type Envelope struct {
	MessageID string
	From      mail.Address
	To        mail.Address
	Subject   string
	HTML      string
	Text      string
	Headers   map[string]string
}

// Result is returned by a transport after a successful send.
type Result struct {
	TransportMessageID string
}

// Transport delivers single messages. Implementations enforce their own
// timeouts.
type Transport interface {
	// Ready reports ErrTransportUnavailable when the transport is not
	// configured or cannot be reached.
	Ready(ctx context.Context) error
	// Send delivers one message.
	Send(ctx context.Context, env *Envelope) (*Result, error)
	// Account is the sender address the transport is authorised for.
	Account() string
}
