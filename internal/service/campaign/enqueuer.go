package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Enqueuer fans a campaign out into one queued message per recipient.
type Enqueuer struct {
	repo     Repository
	resolver SegmentResolver
	renderer Renderer
	links    UnsubscribeLinks
	injector Injector
	now      func() time.Time
}

// NewEnqueuer wires an enqueuer from its collaborators.
func NewEnqueuer(repo Repository, resolver SegmentResolver, renderer Renderer, links UnsubscribeLinks, injector Injector) *Enqueuer {
	return &Enqueuer{
		repo:     repo,
		resolver: resolver,
		renderer: renderer,
		links:    links,
		injector: injector,
		now:      time.Now,
	}
}

// EnqueueCampaign creates the campaign's messages and returns how many were
// enqueued. All writes happen in one transaction, so a failure leaves no
// messages behind. A campaign that already has messages is left untouched
// and its existing message count is returned; LoadCampaign locks the
// campaign row, so concurrent callers serialise on that check.
func (e *Enqueuer) EnqueueCampaign(ctx context.Context, campaignID string) (int, error) {
	var count, existing int
	err := e.repo.WithTx(ctx, func(tx Tx) error {
		count = 0
		content, err := tx.LoadCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		existing, err = tx.CountMessages(ctx, campaignID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		recipients, err := e.recipients(ctx, tx, content)
		if err != nil {
			return err
		}

		extra := e.campaignVars(content)
		seen := make(map[string]bool, len(recipients))
		for _, rcpt := range recipients {
			if !rcpt.HasAddress() {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(rcpt.Email))
			if seen[key] {
				continue
			}
			seen[key] = true

			if err := e.enqueueOne(ctx, tx, content, rcpt, extra); err != nil {
				return err
			}
			count++
		}

		if count == 0 {
			return tx.MarkCampaignSent(ctx, campaignID, e.now())
		}
		return tx.SetTotalRecipients(ctx, campaignID, count)
	})
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		logger.Info("campaign already enqueued, skipping", "component", "enqueuer", "campaign_id", campaignID, "messages", existing)
		return existing, nil
	}

	metrics.MessagesEnqueued.Add(float64(count))
	if count == 0 {
		logger.Info("campaign has no recipients, marked sent", "component", "enqueuer", "campaign_id", campaignID)
	} else {
		logger.Info("campaign enqueued", "component", "enqueuer", "campaign_id", campaignID, "recipients", count)
	}
	return count, nil
}

func (e *Enqueuer) recipients(ctx context.Context, tx Tx, content *domain.CampaignContent) ([]domain.Recipient, error) {
	if content.Segment == nil {
		return tx.EligibleRecipients(ctx)
	}
	query, args, err := e.resolver.Resolve(content.Segment.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve segment %s: %w", content.Segment.ID, err)
	}
	return tx.QueryRecipients(ctx, query, args)
}

// campaignVars returns the variables shared by every recipient. Campaign
// variables cannot shadow the built-in names.
func (e *Enqueuer) campaignVars(content *domain.CampaignContent) map[string]string {
	vars := make(map[string]string, len(content.Campaign.Variables)+3)
	for k, v := range content.Campaign.Variables {
		vars[k] = v
	}
	vars["campaign_name"] = content.Campaign.Name
	vars["segment_name"] = ""
	if content.Segment != nil {
		vars["segment_name"] = content.Segment.Name
	}
	return vars
}

func (e *Enqueuer) enqueueOne(ctx context.Context, tx Tx, content *domain.CampaignContent, rcpt domain.Recipient, shared map[string]string) error {
	campaignID := content.Campaign.ID
	recipientID := rcpt.ID

	msg := &domain.Message{
		CampaignID: &campaignID,
		ToEmail:    strings.TrimSpace(rcpt.Email),
		ToName:     rcpt.FullName(),
		Status:     domain.MessageQueued,
	}
	if recipientID != "" {
		msg.RecipientID = &recipientID
	}
	id, err := tx.CreateMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("create message for %s: %w", logger.RedactEmail(msg.ToEmail), err)
	}

	extra := make(map[string]string, len(shared)+1)
	for k, v := range shared {
		extra[k] = v
	}
	extra["unsubscribe_url"] = e.links.UnsubscribeURL(id)

	subjectTpl := content.Template.Subject
	if s := content.Campaign.Subject; s != nil && strings.TrimSpace(*s) != "" {
		subjectTpl = *s
	}
	subject := e.renderer.Render(subjectTpl, rcpt, extra)
	html := e.renderer.Render(content.Template.HTMLBody, rcpt, extra)

	var text string
	if content.Template.TextBody != "" {
		text = e.renderer.Render(content.Template.TextBody, rcpt, extra)
	} else {
		text = e.renderer.PlainText(html)
	}

	html = e.injector.Inject(html, id)

	if err := tx.SetMessageContent(ctx, id, subject, html, text); err != nil {
		return fmt.Errorf("store content for message %s: %w", id, err)
	}
	return nil
}
