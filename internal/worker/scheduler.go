package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Scheduler starts campaigns whose scheduled time has arrived.
type Scheduler struct {
	store    Store
	enqueuer Enqueuer
	notifier Notifier
	now      func() time.Time
}

// NewScheduler creates a scheduler. A nil notifier is replaced with
// NopNotifier.
func NewScheduler(store Store, enqueuer Enqueuer, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{store: store, enqueuer: enqueuer, notifier: notifier, now: time.Now}
}

// Tick runs one scheduling pass. The campaign is marked sending before it
// is enqueued, so it drops out of the due set even if enqueueing fails; the
// queue processor's recovery pass finishes the job. Per-campaign failures
// are logged and do not stop the pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.WithLabelValues("scheduler").Observe(time.Since(start).Seconds()) }()

	now := s.now()
	ids, err := s.store.DueCampaigns(ctx, now)
	if err != nil {
		metrics.TicksAborted.WithLabelValues("scheduler", "store").Inc()
		return fmt.Errorf("select due campaigns: %w", err)
	}

	for _, id := range ids {
		started, err := s.store.StartCampaign(ctx, id, now)
		if err != nil {
			logger.Error("failed to start campaign", "component", "scheduler", "campaign_id", id, "error", err)
			continue
		}
		if !started {
			continue
		}
		metrics.CampaignsStarted.Inc()

		n, err := s.enqueuer.EnqueueCampaign(ctx, id)
		if err != nil {
			logger.Error("enqueue failed, recovery will retry", "component", "scheduler", "campaign_id", id, "error", err)
			continue
		}
		logger.Info("scheduled campaign started", "component", "scheduler", "campaign_id", id, "recipients", n)
		s.notifier.CampaignStarted(ctx, id, n)
	}
	return nil
}
