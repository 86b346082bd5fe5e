package campaign

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Repository is the transactional store behind the enqueuer and service.
// Implementations must be safe for concurrent use.
type Repository interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LoadCampaign returns the campaign with its template and, when
	// referenced, its segment. Returns ErrNotFound if any of them is missing.
	LoadCampaign(ctx context.Context, id string) (*domain.CampaignContent, error)

	// QueryRecipients runs a recipient query built by a SegmentResolver.
	QueryRecipients(ctx context.Context, query string, args []interface{}) ([]domain.Recipient, error)

	// EligibleRecipients returns every lead with an address that has not
	// unsubscribed.
	EligibleRecipients(ctx context.Context) ([]domain.Recipient, error)

	// CountMessages returns how many messages a campaign already has.
	CountMessages(ctx context.Context, campaignID string) (int, error)

	// CreateMessage inserts a queued message and returns its id.
	CreateMessage(ctx context.Context, m *domain.Message) (string, error)

	// SetMessageContent stores the final subject and bodies of a message.
	SetMessageContent(ctx context.Context, id, subject, html, text string) error

	// SetTotalRecipients records how many messages a campaign enqueued.
	SetTotalRecipients(ctx context.Context, campaignID string, n int) error

	// MarkCampaignSent moves a campaign to sent with zero recipients.
	MarkCampaignSent(ctx context.Context, campaignID string, at time.Time) error

	// TransitionCampaign moves a campaign from one of the given statuses to
	// the target. Entering sending sets started_at if unset and clears
	// completed_at. Returns ErrNotFound for a missing campaign and
	// ErrInvalidTransition when the current status is not in from.
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error

	// ScheduleCampaign sets scheduled_at and moves a draft or scheduled
	// campaign to scheduled.
	ScheduleCampaign(ctx context.Context, id string, at time.Time) error

	// GetMessage returns a message. Returns ErrMessageNotFound if missing.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
}

// SegmentResolver translates a stored segment filter into a recipient query.
type SegmentResolver interface {
	Resolve(filter json.RawMessage) (string, []interface{}, error)
}

// Renderer substitutes variables into template text. Rendering never fails.
type Renderer interface {
	Render(tpl string, rcpt domain.Recipient, extra map[string]string) string
	PlainText(html string) string
}

// UnsubscribeLinks builds per-message unsubscribe URLs.
type UnsubscribeLinks interface {
	UnsubscribeURL(messageID string) string
}

// Injector applies footer, click tracking and open pixel to rendered HTML.
type Injector interface {
	Inject(html, messageID string) string
}
