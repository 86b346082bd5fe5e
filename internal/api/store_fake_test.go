package api

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// fakeStoreBase satisfies the parts of worker.Store the API never calls.
type fakeStoreBase struct{}

func (fakeStoreBase) DueCampaigns(context.Context, time.Time) ([]string, error) { return nil, nil }
func (fakeStoreBase) StartCampaign(context.Context, string, time.Time) (bool, error) {
	return false, nil
}
func (fakeStoreBase) StalledCampaigns(context.Context) ([]string, error)            { return nil, nil }
func (fakeStoreBase) QueuedMessages(context.Context, int) ([]domain.Message, error) { return nil, nil }
func (fakeStoreBase) MarkSending(context.Context, string) (bool, error)             { return false, nil }
func (fakeStoreBase) MarkSent(context.Context, *domain.Message, string, time.Time) error {
	return nil
}
func (fakeStoreBase) MarkUndelivered(context.Context, *domain.Message, domain.MessageStatus, string) error {
	return nil
}
func (fakeStoreBase) CompleteCampaigns(context.Context, time.Time) ([]string, error) { return nil, nil }
func (fakeStoreBase) EnqueueFlowMessage(context.Context, *domain.Message) (string, error) {
	return "", nil
}
