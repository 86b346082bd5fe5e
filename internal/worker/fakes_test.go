package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store. It enforces the same forward-only
// message transitions and counter updates as the postgres store.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	messages  []*domain.Message
	seq       int64

	failQueued bool
	lostClaims map[string]bool
}

func newMemStore() *memStore {
	return &memStore{campaigns: make(map[string]*domain.Campaign)}
}

func (s *memStore) addCampaign(id string, status domain.CampaignStatus) *domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &domain.Campaign{ID: id, Name: id, Status: status}
	s.campaigns[id] = c
	return c
}

func (s *memStore) addMessage(campaignID, email string) *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(campaignID, email)
}

func (s *memStore) insertLocked(campaignID, email string) *domain.Message {
	s.seq++
	m := &domain.Message{
		ID:       fmt.Sprintf("m%d", s.seq),
		Seq:      s.seq,
		ToEmail:  email,
		Subject:  "Hello",
		HTMLBody: "<p>hi</p>",
		Status:   domain.MessageQueued,
	}
	if campaignID != "" {
		id := campaignID
		m.CampaignID = &id
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *memStore) campaign(id string) domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) message(id string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return *m
		}
	}
	return domain.Message{}
}

func (s *memStore) countStatus(status domain.MessageStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Status == status {
			n++
		}
	}
	return n
}

func (s *memStore) DueCampaigns(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) StartCampaign(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != domain.CampaignScheduled {
		return false, nil
	}
	c.Status = domain.CampaignSending
	c.StartedAt = &now
	return true, nil
}

func (s *memStore) StalledCampaigns(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.campaigns {
		if c.Status == domain.CampaignSending && s.countLocked(id, nil) == 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) countLocked(campaignID string, statuses map[domain.MessageStatus]bool) int {
	n := 0
	for _, m := range s.messages {
		if m.CampaignID == nil || *m.CampaignID != campaignID {
			continue
		}
		if statuses == nil || statuses[m.Status] {
			n++
		}
	}
	return n
}

func (s *memStore) QueuedMessages(_ context.Context, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQueued {
		return nil, errStoreDown
	}
	var out []domain.Message
	for _, m := range s.messages {
		if len(out) >= limit {
			break
		}
		if m.Status != domain.MessageQueued {
			continue
		}
		if m.CampaignID != nil {
			c, ok := s.campaigns[*m.CampaignID]
			if !ok || c.Status != domain.CampaignSending {
				continue
			}
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *memStore) find(id string) *domain.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *memStore) MarkSending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lostClaims[id] {
		return false, nil
	}
	m := s.find(id)
	if m == nil || !m.Status.CanTransition(domain.MessageSending) {
		return false, nil
	}
	m.Status = domain.MessageSending
	return true, nil
}

func (s *memStore) MarkSent(_ context.Context, msg *domain.Message, transportID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.find(msg.ID)
	if m == nil || !m.Status.CanTransition(domain.MessageSent) {
		return fmt.Errorf("bad transition for %s", msg.ID)
	}
	m.Status = domain.MessageSent
	m.TransportMessageID = &transportID
	m.SentAt = &at
	if m.CampaignID != nil {
		s.campaigns[*m.CampaignID].SentCount++
	}
	return nil
}

func (s *memStore) MarkUndelivered(_ context.Context, msg *domain.Message, status domain.MessageStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.find(msg.ID)
	if m == nil || !m.Status.CanTransition(status) {
		return fmt.Errorf("bad transition for %s", msg.ID)
	}
	m.Status = status
	m.ErrorMessage = &errText
	if m.CampaignID != nil {
		c := s.campaigns[*m.CampaignID]
		if status == domain.MessageBounced {
			c.BounceCount++
		} else {
			c.FailedCount++
		}
	}
	return nil
}

func (s *memStore) CompleteCampaigns(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := map[domain.MessageStatus]bool{domain.MessageQueued: true, domain.MessageSending: true}
	var ids []string
	for id, c := range s.campaigns {
		if c.Status != domain.CampaignSending {
			continue
		}
		if s.countLocked(id, nil) > 0 && s.countLocked(id, open) == 0 {
			c.Status = domain.CampaignSent
			at := now
			c.CompletedAt = &at
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) EnqueueFlowMessage(_ context.Context, msg *domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.insertLocked("", msg.ToEmail)
	m.Subject, m.HTMLBody, m.TextBody, m.ToName = msg.Subject, msg.HTMLBody, msg.TextBody, msg.ToName
	return m.ID, nil
}

// storeEnqueuer creates a fixed number of messages per campaign.
type storeEnqueuer struct {
	store      *memStore
	recipients int
	mu         sync.Mutex
	calls      map[string]int
	fail       map[string]bool
}

func newStoreEnqueuer(store *memStore, recipients int) *storeEnqueuer {
	return &storeEnqueuer{store: store, recipients: recipients, calls: map[string]int{}, fail: map[string]bool{}}
}

func (e *storeEnqueuer) EnqueueCampaign(_ context.Context, id string) (int, error) {
	e.mu.Lock()
	e.calls[id]++
	fail := e.fail[id]
	e.mu.Unlock()
	if fail {
		return 0, errors.New("template missing")
	}
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	for i := 0; i < e.recipients; i++ {
		e.store.insertLocked(id, fmt.Sprintf("r%d@%s.test", i, id))
	}
	e.store.campaigns[id].TotalRecipients = e.recipients
	return e.recipients, nil
}

func (e *storeEnqueuer) callCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

// fakeTransport fails sends to addresses listed in failures.
type fakeTransport struct {
	mu       sync.Mutex
	readyErr error
	failures map[string]error
	sent     []*sending.Envelope
}

func (t *fakeTransport) Ready(context.Context) error { return t.readyErr }

func (t *fakeTransport) Account() string { return "news@acme.test" }

func (t *fakeTransport) Send(_ context.Context, env *sending.Envelope) (*sending.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	if err := t.failures[env.To.Address]; err != nil {
		return nil, err
	}
	return &sending.Result{TransportMessageID: "tx-" + env.MessageID}, nil
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   []string
	completed []string
}

func (n *recordingNotifier) CampaignStarted(_ context.Context, id string, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, id)
}

func (n *recordingNotifier) CampaignCompleted(_ context.Context, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, id)
}

func (n *recordingNotifier) completedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.completed...)
}

type fixedLimiter struct{ grant int }

func (l fixedLimiter) Reserve(_ context.Context, want int) (int, error) {
	if want < l.grant {
		return want, nil
	}
	return l.grant, nil
}
