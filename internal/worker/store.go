// Package worker runs the background half of the campaign engine: the
// Scheduler that starts due campaigns and the QueueProcessor that drains
// queued messages through a mail transport at a bounded rate. Engine owns
// both loops.
package worker

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Store is the persistence the scheduler and queue processor need. Each
// Mark* call is atomic: the message transition and the campaign counter
// change commit together.
type Store interface {
	// DueCampaigns returns ids of scheduled campaigns with scheduled_at <= now.
	DueCampaigns(ctx context.Context, now time.Time) ([]string, error)

	// StartCampaign moves a scheduled campaign to sending and sets
	// started_at. Returns false if it was no longer scheduled.
	StartCampaign(ctx context.Context, id string, now time.Time) (bool, error)

	// StalledCampaigns returns sending campaigns that have no messages.
	StalledCampaigns(ctx context.Context) ([]string, error)

	// QueuedMessages returns up to limit queued messages that belong to a
	// sending campaign or to no campaign, oldest first.
	QueuedMessages(ctx context.Context, limit int) ([]domain.Message, error)

	// MarkSending claims a queued message. Returns false if another worker
	// already moved it.
	MarkSending(ctx context.Context, id string) (bool, error)

	// MarkSent records a delivered message and bumps sent_count.
	MarkSent(ctx context.Context, msg *domain.Message, transportID string, at time.Time) error

	// MarkUndelivered records a failed or bounced message with its error
	// text and bumps failed_count or bounce_count.
	MarkUndelivered(ctx context.Context, msg *domain.Message, status domain.MessageStatus, errText string) error

	// CompleteCampaigns moves every sending campaign that has messages but
	// none queued or sending to sent, and returns their ids.
	CompleteCampaigns(ctx context.Context, now time.Time) ([]string, error)

	// EnqueueFlowMessage inserts a queued message with no campaign.
	EnqueueFlowMessage(ctx context.Context, msg *domain.Message) (string, error)
}

// Enqueuer creates a campaign's messages.
type Enqueuer interface {
	EnqueueCampaign(ctx context.Context, campaignID string) (int, error)
}

// Notifier is told about campaign lifecycle changes. Implementations must
// not block for long; they run inside the tick.
type Notifier interface {
	CampaignStarted(ctx context.Context, campaignID string, recipients int)
	CampaignCompleted(ctx context.Context, campaignID string)
}

// NopNotifier ignores all notifications.
type NopNotifier struct{}

func (NopNotifier) CampaignStarted(context.Context, string, int) {}
func (NopNotifier) CampaignCompleted(context.Context, string)    {}
