package worker

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrInvalidFlowMessage is returned for a flow message that cannot be sent.
var ErrInvalidFlowMessage = errors.New("invalid flow message")

// FlowMessage is a standalone email produced by automation outside of
// campaigns. Content is sent as given.
type FlowMessage struct {
	ToEmail  string `json:"to_email"`
	ToName   string `json:"to_name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// EnqueueFlowMessage validates f and queues it with no owning campaign. It
// is picked up by the next queue tick regardless of campaign state.
func EnqueueFlowMessage(ctx context.Context, store Store, f FlowMessage) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(f.ToEmail))
	if err != nil {
		return "", errors.Join(ErrInvalidFlowMessage, err)
	}
	if strings.TrimSpace(f.Subject) == "" {
		return "", errors.Join(ErrInvalidFlowMessage, errors.New("subject is required"))
	}
	if strings.TrimSpace(f.HTMLBody) == "" && strings.TrimSpace(f.TextBody) == "" {
		return "", errors.Join(ErrInvalidFlowMessage, errors.New("body is required"))
	}

	return store.EnqueueFlowMessage(ctx, &domain.Message{
		ToEmail:  addr.Address,
		ToName:   f.ToName,
		Subject:  f.Subject,
		HTMLBody: f.HTMLBody,
		TextBody: f.TextBody,
		Status:   domain.MessageQueued,
	})
}
