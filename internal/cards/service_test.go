package cards_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/puffperksonline/puffperks/internal/cards"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

type MockCardFetcher struct {
	mock.Mock
}

func (m *MockCardFetcher) GetCardByID(ctx context.Context, id string) (*models.LoyaltyCard, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LoyaltyCard), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStampUpdate(msg models.StampUpdateMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

type recordingBroadcaster struct {
	updates   []models.StampUpdate
	customers []string
}

func (r *recordingBroadcaster) BroadcastStampUpdate(update models.StampUpdate, customerID string) {
	r.updates = append(r.updates, update)
	r.customers = append(r.customers, customerID)
}

func TestRefreshCardBroadcastsAuthoritativeCount(t *testing.T) {
	fetcher := new(MockCardFetcher)
	publisher := new(MockPublisher)
	hub := &recordingBroadcaster{}

	// The DB holds 5 stamps; whatever the caller believed is irrelevant
	fetcher.On("GetCardByID", mock.Anything, "card-1").Return(&models.LoyaltyCard{
		ID:         "card-1",
		CustomerID: "cust-1",
		Stamps:     5,
	}, nil)
	publisher.On("PublishStampUpdate", models.StampUpdateMessage{
		StampUpdate: models.StampUpdate{ID: "card-1", Stamps: 5},
		StoreID:     "store-1",
		CustomerID:  "cust-1",
		Origin:      "gw-1",
	}).Return(nil)

	refresher := cards.NewRefresher(fetcher, publisher, hub, "gw-1", logger.NewLogger())
	err := refresher.RefreshCard(context.Background(), "store-1", "card-1")
	assert.NoError(t, err)

	assert.Equal(t, []models.StampUpdate{{ID: "card-1", Stamps: 5}}, hub.updates)
	assert.Equal(t, []string{"cust-1"}, hub.customers)
	publisher.AssertExpectations(t)
}

func TestRefreshCardFetchFailureIsSurfaced(t *testing.T) {
	fetcher := new(MockCardFetcher)
	hub := &recordingBroadcaster{}

	fetcher.On("GetCardByID", mock.Anything, "card-1").Return(nil, assert.AnError)

	refresher := cards.NewRefresher(fetcher, nil, hub, "gw-1", logger.NewLogger())
	err := refresher.RefreshCard(context.Background(), "store-1", "card-1")
	assert.Error(t, err)
	assert.Empty(t, hub.updates)
}

func TestRefreshCardToleratesPublishFailure(t *testing.T) {
	fetcher := new(MockCardFetcher)
	publisher := new(MockPublisher)
	hub := &recordingBroadcaster{}

	fetcher.On("GetCardByID", mock.Anything, "card-1").Return(&models.LoyaltyCard{
		ID: "card-1", CustomerID: "cust-1", Stamps: 2,
	}, nil)
	publisher.On("PublishStampUpdate", mock.Anything).Return(assert.AnError)

	refresher := cards.NewRefresher(fetcher, publisher, hub, "gw-1", logger.NewLogger())
	err := refresher.RefreshCard(context.Background(), "store-1", "card-1")

	// Local views updated even though the broker was down
	assert.NoError(t, err)
	assert.Equal(t, 1, len(hub.updates))
}
