package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Service implements the operator-facing campaign actions. All public
// methods are safe for concurrent use if the underlying repository is.
type Service struct {
	repo     Repository
	enqueuer *Enqueuer
	now      func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, enqueuer *Enqueuer) *Service {
	return &Service{repo: repo, enqueuer: enqueuer, now: time.Now}
}

// SendNow moves a draft or scheduled campaign to sending and enqueues it.
// The status change commits before enqueueing; if enqueueing fails the
// queue processor's recovery pass picks the campaign up again.
func (s *Service) SendNow(ctx context.Context, campaignID string) (int, error) {
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		return tx.TransitionCampaign(ctx, campaignID,
			[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
			domain.CampaignSending, s.now())
	})
	if err != nil {
		if err == ErrInvalidTransition {
			return 0, ErrAlreadySending
		}
		return 0, fmt.Errorf("transition to sending: %w", err)
	}

	n, err := s.enqueuer.EnqueueCampaign(ctx, campaignID)
	if err != nil {
		logger.Error("enqueue after send-now failed, recovery will retry",
			"component", "campaign.Service", "campaign_id", campaignID, "error", err)
		return 0, fmt.Errorf("enqueue campaign: %w", err)
	}
	return n, nil
}

// Schedule sets a draft campaign to go out at the given time.
func (s *Service) Schedule(ctx context.Context, campaignID string, at time.Time) error {
	if !at.After(s.now()) {
		return ErrScheduleInPast
	}
	return s.repo.WithTx(ctx, func(tx Tx) error {
		return tx.ScheduleCampaign(ctx, campaignID, at)
	})
}

// RetryMessage re-queues a failed or bounced message as a fresh row that
// references the original. The original keeps its terminal status. A
// campaign that already completed is reopened so the retry is dispatched.
func (s *Service) RetryMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var retry *domain.Message
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		orig, err := tx.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if orig.Status != domain.MessageFailed && orig.Status != domain.MessageBounced {
			return ErrNotRetryable
		}

		origID := orig.ID
		m := &domain.Message{
			CampaignID:  orig.CampaignID,
			RecipientID: orig.RecipientID,
			RetryOf:     &origID,
			ToEmail:     orig.ToEmail,
			ToName:      orig.ToName,
			Status:      domain.MessageQueued,
		}
		id, err := tx.CreateMessage(ctx, m)
		if err != nil {
			return fmt.Errorf("create retry message: %w", err)
		}
		if err := tx.SetMessageContent(ctx, id, orig.Subject, orig.HTMLBody, orig.TextBody); err != nil {
			return fmt.Errorf("copy content: %w", err)
		}
		m.ID = id
		m.Subject, m.HTMLBody, m.TextBody = orig.Subject, orig.HTMLBody, orig.TextBody

		if orig.CampaignID != nil {
			err := tx.TransitionCampaign(ctx, *orig.CampaignID,
				[]domain.CampaignStatus{domain.CampaignSent, domain.CampaignSending},
				domain.CampaignSending, s.now())
			if err != nil {
				return fmt.Errorf("reopen campaign: %w", err)
			}
		}
		retry = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("message re-queued", "component", "campaign.Service", "message_id", messageID, "retry_id", retry.ID)
	return retry, nil
}
