package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/presence"
)

func TestHubSubscribeIsReferenceCounted(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{}, nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())

	events1, err := hub.Subscribe(ctx1, "store-1")
	assert.NoError(t, err)
	events2, err := hub.Subscribe(ctx2, "store-1")
	assert.NoError(t, err)

	channel := presence.DashboardChannel("store-1")
	assert.Equal(t, 2, emitter.ClientCount(channel))
	drain(events1)
	drain(events2)

	// First disconnect keeps the channel alive for the second client
	cancel1()
	assert.Eventually(t, func() bool {
		return emitter.ClientCount(channel) == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastStampUpdate(models.StampUpdate{ID: "card-x", Stamps: 1}, "")
	select {
	case _, open := <-events1:
		assert.False(t, open)
	default:
	}

	// Last disconnect tears the synchronizer down
	cancel2()
	assert.Eventually(t, func() bool {
		return emitter.ClientCount(channel) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, hub.LiveEntries("store-1"))

	_ = events2
}

func TestHubLateSubscriberGetsCachedSnapshot(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	entry := models.PresenceEntry{UserID: "u1", LoyaltyCardID: "card-1", Stamps: 3}
	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{entry}, nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	events1, err := hub.Subscribe(ctx1, "store-1")
	assert.NoError(t, err)
	drain(events1)

	// The channel is already up, so this client must still see the current
	// presence set without waiting for the next join/leave.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	events2, err := hub.Subscribe(ctx2, "store-1")
	assert.NoError(t, err)

	got := drain(events2)
	if assert.Equal(t, 1, len(got)) {
		assert.Equal(t, models.EventPresence, got[0].Event)
		assert.Equal(t, []models.PresenceEntry{entry}, got[0].Payload)
	}

	// Served from the synchronizer's cache, not a second tracker read.
	store.AssertNumberOfCalls(t, "Snapshot", 1)
}

func TestHubJoinTracksAndResyncs(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	entry := models.PresenceEntry{UserID: "u1", LoyaltyCardID: "card-1", Stamps: 2}

	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{}, nil).Once()
	store.On("Track", mock.Anything, "store-1", entry).Return(nil)
	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{entry}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := hub.Subscribe(ctx, "store-1")
	assert.NoError(t, err)
	drain(events) // initial empty snapshot

	err = hub.Join(context.Background(), "store-1", entry)
	assert.NoError(t, err)

	got := drain(events)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, models.EventPresence, got[0].Event)
	assert.Equal(t, 1, len(hub.LiveEntries("store-1")))
	store.AssertExpectations(t)
}

func TestHubLeaveUntracksAndResyncs(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	entry := models.PresenceEntry{UserID: "u1", LoyaltyCardID: "card-1"}

	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{entry}, nil).Once()
	store.On("Untrack", mock.Anything, "store-1", "u1").Return(nil)
	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := hub.Subscribe(ctx, "store-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(hub.LiveEntries("store-1")))

	err = hub.Leave(context.Background(), "store-1", "u1")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(hub.LiveEntries("store-1")))
	store.AssertExpectations(t)
}

func TestHubExpiryResyncsWatchedStoresOnly(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	// Nobody subscribed: no snapshot call expected
	hub.OnPresenceExpired("store-unwatched")

	store.On("Snapshot", mock.Anything, "store-1").Return([]models.PresenceEntry{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := hub.Subscribe(ctx, "store-1")
	assert.NoError(t, err)

	hub.OnPresenceExpired("store-1")
	store.AssertNumberOfCalls(t, "Snapshot", 2)
}

func TestBroadcastReachesCustomerCardChannel(t *testing.T) {
	store := new(MockViewerStore)
	emitter := presence.NewEmitter()
	hub := presence.NewHub(store, emitter, logger.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cardEvents := hub.SubscribeCard(ctx, "customer-7")

	update := models.StampUpdate{ID: "card-1", Stamps: 5}
	hub.BroadcastStampUpdate(update, "customer-7")

	got := drain(cardEvents)
	assert.Equal(t, 1, len(got))
	assert.Equal(t, models.EventStampUpdate, got[0].Event)
	assert.Equal(t, update, got[0].Payload)
}
