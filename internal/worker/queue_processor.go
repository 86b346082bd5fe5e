package worker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// RateLimiter grants send capacity shared across processes.
type RateLimiter interface {
	// Reserve asks for want sends and returns how many were granted.
	Reserve(ctx context.Context, want int) (int, error)
}

// UnsubscribeLinks builds the List-Unsubscribe URL for a message.
type UnsubscribeLinks interface {
	UnsubscribeURL(messageID string) string
}

// QueueConfig holds queue processor settings.
type QueueConfig struct {
	Interval      time.Duration
	RatePerMinute int
	FromName      string
}

// PerTickBudget splits a per-minute rate evenly over the ticks in a minute.
// The result is never below 1.
func PerTickBudget(ratePerMinute int, interval time.Duration) int {
	if ratePerMinute <= 0 || interval <= 0 {
		return 1
	}
	ticksPerMinute := float64(time.Minute) / float64(interval)
	budget := int(float64(ratePerMinute) / ticksPerMinute)
	if budget < 1 {
		return 1
	}
	return budget
}

// QueueProcessor drains queued messages through a transport.
type QueueProcessor struct {
	store     Store
	enqueuer  Enqueuer
	transport sending.Transport
	notifier  Notifier
	limiter   RateLimiter
	links     UnsubscribeLinks

	budget   int
	fromName string
	now      func() time.Time
}

// NewQueueProcessor creates a queue processor. The per-tick budget is fixed
// at construction from cfg.
func NewQueueProcessor(store Store, enqueuer Enqueuer, transport sending.Transport, cfg QueueConfig) *QueueProcessor {
	return &QueueProcessor{
		store:     store,
		enqueuer:  enqueuer,
		transport: transport,
		notifier:  NopNotifier{},
		budget:    PerTickBudget(cfg.RatePerMinute, cfg.Interval),
		fromName:  cfg.FromName,
		now:       time.Now,
	}
}

// SetNotifier sets the receiver of start and completion notifications.
func (q *QueueProcessor) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	q.notifier = n
}

// SetRateLimiter adds a shared limiter on top of the per-tick budget.
func (q *QueueProcessor) SetRateLimiter(l RateLimiter) { q.limiter = l }

// SetUnsubscribeLinks enables List-Unsubscribe headers on outgoing mail.
func (q *QueueProcessor) SetUnsubscribeLinks(l UnsubscribeLinks) { q.links = l }

// Budget returns the per-tick message budget.
func (q *QueueProcessor) Budget() int { return q.budget }

// Tick runs one pass: recovery, transport check, selection, dispatch,
// completion. An unavailable transport or a store error ends the tick early
// and is returned. Individual delivery failures are recorded on the message
// and do not stop the pass.
func (q *QueueProcessor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.WithLabelValues("queue").Observe(time.Since(start).Seconds()) }()

	if err := q.recoverStalled(ctx); err != nil {
		metrics.TicksAborted.WithLabelValues("queue", "store").Inc()
		return err
	}

	if err := q.transport.Ready(ctx); err != nil {
		metrics.TicksAborted.WithLabelValues("queue", "transport").Inc()
		logger.Warn("transport unavailable, skipping dispatch", "component", "queue", "error", err)
		return fmt.Errorf("transport check: %w", err)
	}

	msgs, err := q.store.QueuedMessages(ctx, q.budget)
	if err != nil {
		metrics.TicksAborted.WithLabelValues("queue", "store").Inc()
		return fmt.Errorf("select queued messages: %w", err)
	}

	if q.limiter != nil && len(msgs) > 0 {
		granted, err := q.limiter.Reserve(ctx, len(msgs))
		if err != nil {
			logger.Warn("rate limiter unavailable, using per-tick budget only", "component", "queue", "error", err)
		} else if granted < len(msgs) {
			msgs = msgs[:granted]
		}
	}

	from := mail.Address{Name: q.fromName, Address: q.transport.Account()}
	for i := range msgs {
		if err := q.dispatch(ctx, &msgs[i], from); err != nil {
			reason := "store"
			if errors.Is(err, sending.ErrTransportUnavailable) {
				reason = "transport"
				logger.Warn("transport lost mid-tick, leaving remaining messages queued", "component", "queue",
					"remaining", len(msgs)-i-1, "error", err)
			}
			metrics.TicksAborted.WithLabelValues("queue", reason).Inc()
			return err
		}
	}

	return q.complete(ctx)
}

// recoverStalled enqueues sending campaigns that have no messages, which
// happens when the process died between starting a campaign and enqueueing.
func (q *QueueProcessor) recoverStalled(ctx context.Context) error {
	ids, err := q.store.StalledCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("select stalled campaigns: %w", err)
	}
	for _, id := range ids {
		n, err := q.enqueuer.EnqueueCampaign(ctx, id)
		if err != nil {
			logger.Error("recovery enqueue failed", "component", "queue", "campaign_id", id, "error", err)
			continue
		}
		metrics.CampaignsRecovered.Inc()
		logger.Info("recovered stalled campaign", "component", "queue", "campaign_id", id, "recipients", n)
		q.notifier.CampaignStarted(ctx, id, n)
	}
	return nil
}

func (q *QueueProcessor) dispatch(ctx context.Context, m *domain.Message, from mail.Address) error {
	claimed, err := q.store.MarkSending(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("mark message %s sending: %w", m.ID, err)
	}
	if !claimed {
		logger.Debug("message already claimed", "component", "queue", "message_id", m.ID)
		return nil
	}

	env := &sending.Envelope{
		MessageID: m.ID,
		From:      from,
		To:        mail.Address{Name: m.ToName, Address: m.ToEmail},
		Subject:   m.Subject,
		HTML:      m.HTMLBody,
		Text:      m.TextBody,
	}
	if q.links != nil {
		env.Headers = map[string]string{
			"List-Unsubscribe":      "<" + q.links.UnsubscribeURL(m.ID) + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}

	res, sendErr := q.transport.Send(ctx, env)
	if sendErr == nil {
		var transportID string
		if res != nil {
			transportID = res.TransportMessageID
		}
		if err := q.store.MarkSent(ctx, m, transportID, q.now()); err != nil {
			return fmt.Errorf("mark message %s sent: %w", m.ID, err)
		}
		metrics.MessagesDispatched.WithLabelValues(string(domain.MessageSent)).Inc()
		return nil
	}

	// A claimed message cannot go back to queued, so one lost to an
	// unreachable transport is recorded as failed and the batch stops.
	lost := errors.Is(sendErr, sending.ErrTransportUnavailable)
	status := domain.MessageFailed
	if !lost && sending.Classify(sendErr).Bounce {
		status = domain.MessageBounced
	}
	if err := q.store.MarkUndelivered(ctx, m, status, sendErr.Error()); err != nil {
		return fmt.Errorf("mark message %s %s: %w", m.ID, status, err)
	}
	metrics.MessagesDispatched.WithLabelValues(string(status)).Inc()
	logger.Warn("delivery failed", "component", "queue", "message_id", m.ID, "to_email", m.ToEmail,
		"status", string(status), "error", sendErr)
	if lost {
		return fmt.Errorf("send message %s: %w", m.ID, sendErr)
	}
	return nil
}

func (q *QueueProcessor) complete(ctx context.Context) error {
	ids, err := q.store.CompleteCampaigns(ctx, q.now())
	if err != nil {
		metrics.TicksAborted.WithLabelValues("queue", "store").Inc()
		return fmt.Errorf("complete campaigns: %w", err)
	}
	for _, id := range ids {
		metrics.CampaignsCompleted.Inc()
		logger.Info("campaign completed", "component", "queue", "campaign_id", id)
		q.notifier.CampaignCompleted(ctx, id)
	}
	return nil
}
