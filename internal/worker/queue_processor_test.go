package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

func newProcessor(store *memStore, enq Enqueuer, tr sending.Transport, rate int) *QueueProcessor {
	return NewQueueProcessor(store, enq, tr, QueueConfig{
		Interval:      10 * time.Second,
		RatePerMinute: rate,
		FromName:      "Acme",
	})
}

func TestPerTickBudget(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		interval time.Duration
		want     int
	}{
		{"even split", 60, 10 * time.Second, 10},
		{"rounds down", 100, 15 * time.Second, 25},
		{"floor of one", 3, 5 * time.Second, 1},
		{"zero rate", 0, 10 * time.Second, 1},
		{"zero interval", 60, 0, 1},
		{"interval over a minute", 60, 2 * time.Minute, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PerTickBudget(tt.rate, tt.interval))
		})
	}
}

func TestQueueTick_BounceAndSentInSameTick(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	alice := store.addMessage("c1", "alice@x.com")
	bob := store.addMessage("c1", "bob@x.com")

	tr := &fakeTransport{failures: map[string]error{
		"bob@x.com": errors.New("550 mailbox unavailable"),
	}}
	notifier := &recordingNotifier{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)
	q.SetNotifier(notifier)

	require.NoError(t, q.Tick(context.Background()))

	a := store.message(alice.ID)
	assert.Equal(t, domain.MessageSent, a.Status)
	require.NotNil(t, a.TransportMessageID)
	assert.Equal(t, "tx-"+alice.ID, *a.TransportMessageID)
	assert.NotNil(t, a.SentAt)

	b := store.message(bob.ID)
	assert.Equal(t, domain.MessageBounced, b.Status)
	require.NotNil(t, b.ErrorMessage)
	assert.Equal(t, "550 mailbox unavailable", *b.ErrorMessage)

	c := store.campaign("c1")
	assert.Equal(t, 1, c.SentCount)
	assert.Equal(t, 1, c.BounceCount)
	assert.Equal(t, 0, c.FailedCount)
	assert.Equal(t, domain.CampaignSent, c.Status, "all messages terminal, campaign completes")
	assert.NotNil(t, c.CompletedAt)
	assert.Equal(t, []string{"c1"}, notifier.completedIDs())
}

func TestQueueTick_SoftFailureCountsAsFailed(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	m := store.addMessage("c1", "carol@x.com")

	tr := &fakeTransport{failures: map[string]error{
		"carol@x.com": errors.New("421 try again later"),
	}}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	require.NoError(t, q.Tick(context.Background()))
	assert.Equal(t, domain.MessageFailed, store.message(m.ID).Status)
	assert.Equal(t, 1, store.campaign("c1").FailedCount)
}

func TestQueueTick_EnvelopeCarriesSenderIdentity(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	m := store.addMessage("c1", "alice@x.com")

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)
	q.SetUnsubscribeLinks(staticLinks("https://t.example/u"))

	require.NoError(t, q.Tick(context.Background()))
	require.Len(t, tr.sent, 1)
	env := tr.sent[0]
	assert.Equal(t, "Acme", env.From.Name)
	assert.Equal(t, "news@acme.test", env.From.Address)
	assert.Equal(t, "alice@x.com", env.To.Address)
	assert.Equal(t, m.ID, env.MessageID)
	assert.Equal(t, "<https://t.example/u/"+m.ID+">", env.Headers["List-Unsubscribe"])
}

type staticLinks string

func (s staticLinks) UnsubscribeURL(id string) string { return string(s) + "/" + id }

func TestQueueTick_TransportUnavailableAbortsBeforeDispatch(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	store.addMessage("c1", "alice@x.com")
	store.addMessage("", "flow@x.com")

	tr := &fakeTransport{readyErr: fmt.Errorf("%w: connection refused", sending.ErrTransportUnavailable)}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	err := q.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sending.ErrTransportUnavailable)
	assert.Equal(t, 0, tr.sendCount())
	assert.Equal(t, 2, store.countStatus(domain.MessageQueued))
	assert.Equal(t, domain.CampaignSending, store.campaign("c1").Status)
}

func TestQueueTick_TransportLostMidTickStopsBatch(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	first := store.addMessage("c1", "alice@x.com")
	lost := store.addMessage("c1", "bob@x.com")
	rest := store.addMessage("c1", "carol@x.com")

	tr := &fakeTransport{failures: map[string]error{
		"bob@x.com": fmt.Errorf("%w: smtp dial mx:25: connection reset", sending.ErrTransportUnavailable),
	}}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	err := q.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sending.ErrTransportUnavailable)

	assert.Equal(t, domain.MessageSent, store.message(first.ID).Status)
	assert.Equal(t, domain.MessageFailed, store.message(lost.ID).Status)
	assert.Equal(t, domain.MessageQueued, store.message(rest.ID).Status)
	assert.Equal(t, 2, tr.sendCount())
	assert.Equal(t, 1, store.campaign("c1").FailedCount)
	assert.Equal(t, domain.CampaignSending, store.campaign("c1").Status)
}

func TestQueueTick_StoreErrorAbortsTick(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	store.addMessage("c1", "alice@x.com")
	store.failQueued = true

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	assert.ErrorIs(t, q.Tick(context.Background()), errStoreDown)
	assert.Equal(t, 0, tr.sendCount())
}

func TestQueueTick_RecoveryWithoutDuplicates(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)

	enq := newStoreEnqueuer(store, 3)
	tr := &fakeTransport{}
	q := newProcessor(store, enq, tr, 6) // budget 1 per tick

	ctx := context.Background()
	require.NoError(t, q.Tick(ctx))
	assert.Equal(t, 1, enq.callCount("c1"))
	assert.Equal(t, 3, store.campaign("c1").TotalRecipients)

	require.NoError(t, q.Tick(ctx))
	require.NoError(t, q.Tick(ctx))
	assert.Equal(t, 1, enq.callCount("c1"), "campaign with messages is not re-enqueued")

	store.mu.Lock()
	total := len(store.messages)
	store.mu.Unlock()
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, store.countStatus(domain.MessageSent))
	assert.Equal(t, domain.CampaignSent, store.campaign("c1").Status)
}

func TestQueueTick_RecoveryFailureDoesNotAbort(t *testing.T) {
	store := newMemStore()
	store.addCampaign("broken", domain.CampaignSending)
	store.addCampaign("c1", domain.CampaignSending)
	store.addMessage("c1", "alice@x.com")

	enq := newStoreEnqueuer(store, 1)
	enq.fail["broken"] = true
	tr := &fakeTransport{}
	q := newProcessor(store, enq, tr, 60)

	require.NoError(t, q.Tick(context.Background()))
	assert.Equal(t, 1, tr.sendCount())
	assert.Equal(t, domain.CampaignSending, store.campaign("broken").Status, "no messages, not completed")
}

func TestQueueTick_RateBudgetBoundsTransitions(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	for i := 0; i < 25; i++ {
		store.addMessage("c1", fmt.Sprintf("r%d@x.com", i))
	}

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 24) // 6 ticks/min, 4 per tick
	require.Equal(t, 4, q.Budget())

	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		require.NoError(t, q.Tick(ctx))
		moved := 25 - store.countStatus(domain.MessageQueued)
		assert.LessOrEqual(t, moved, n*q.Budget())
		assert.Equal(t, n*q.Budget(), moved)
	}
	assert.Equal(t, domain.CampaignSending, store.campaign("c1").Status)
}

func TestQueueTick_SharedLimiterCapsBatch(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	for i := 0; i < 5; i++ {
		store.addMessage("c1", fmt.Sprintf("r%d@x.com", i))
	}

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)
	q.SetRateLimiter(fixedLimiter{grant: 2})

	require.NoError(t, q.Tick(context.Background()))
	assert.Equal(t, 2, tr.sendCount())
	assert.Equal(t, 3, store.countStatus(domain.MessageQueued))
}

func TestQueueTick_SelectsFlowAndSkipsInactiveCampaigns(t *testing.T) {
	store := newMemStore()
	store.addCampaign("draft", domain.CampaignDraft)
	store.addCampaign("live", domain.CampaignSending)
	held := store.addMessage("draft", "held@x.com")
	live := store.addMessage("live", "live@x.com")
	flow := store.addMessage("", "flow@x.com")

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	require.NoError(t, q.Tick(context.Background()))
	assert.Equal(t, domain.MessageQueued, store.message(held.ID).Status)
	assert.Equal(t, domain.MessageSent, store.message(live.ID).Status)
	assert.Equal(t, domain.MessageSent, store.message(flow.ID).Status)
}

func TestQueueTick_LostClaimIsNotSent(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	m := store.addMessage("c1", "alice@x.com")
	store.lostClaims = map[string]bool{m.ID: true}

	tr := &fakeTransport{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)

	require.NoError(t, q.Tick(context.Background()))
	assert.Equal(t, 0, tr.sendCount())
}

func TestQueueTick_CompletionIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addCampaign("c1", domain.CampaignSending)
	store.addMessage("c1", "alice@x.com")

	tr := &fakeTransport{}
	notifier := &recordingNotifier{}
	q := newProcessor(store, newStoreEnqueuer(store, 0), tr, 60)
	q.SetNotifier(notifier)

	ctx := context.Background()
	require.NoError(t, q.Tick(ctx))
	first := store.campaign("c1")
	require.Equal(t, domain.CampaignSent, first.Status)

	require.NoError(t, q.Tick(ctx))
	require.NoError(t, q.Tick(ctx))
	again := store.campaign("c1")
	assert.Equal(t, first, again)
	assert.Equal(t, []string{"c1"}, notifier.completedIDs())
}
