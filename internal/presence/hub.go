package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/workflow"
)

// Hub owns one Synchronizer per store channel, reference-counted so the
// channel is subscribed once per store regardless of how many dashboard
// clients are streaming, and released when the last one disconnects.
type Hub struct {
	tracker ViewerStore
	emitter *Emitter
	log     *logger.Logger

	mu        sync.Mutex
	channels  map[string]*Synchronizer
	refCounts map[string]int
}

func NewHub(tracker ViewerStore, emitter *Emitter, log *logger.Logger) *Hub {
	return &Hub{
		tracker:   tracker,
		emitter:   emitter,
		log:       log,
		channels:  make(map[string]*Synchronizer),
		refCounts: make(map[string]int),
	}
}

// Subscribe attaches a dashboard client to a store channel, bringing the
// synchronizer up on first use. The returned channel closes and the
// reference is released when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, storeID string) (chan models.ChannelEvent, error) {
	h.mu.Lock()
	channel, ok := h.channels[storeID]
	if !ok {
		channel = NewSynchronizer(storeID, h.tracker, h.emitter, h.log)
		h.channels[storeID] = channel
	}
	h.refCounts[storeID]++
	h.mu.Unlock()

	// Attach before the initial sync so its snapshot lands in this
	// client's buffer too.
	events := h.emitter.Subscribe(ctx, DashboardChannel(storeID))

	if err := channel.Subscribe(ctx); err != nil {
		h.release(storeID)
		return nil, err
	}

	// A channel that was already up does not resync for new clients, so hand
	// this one the cached snapshot directly. The frame is full state; a client
	// that also caught the initial resync just applies it twice.
	select {
	case events <- models.ChannelEvent{Event: models.EventPresence, Payload: channel.LiveEntries()}:
	default:
	}

	go func() {
		<-ctx.Done()
		h.release(storeID)
	}()

	return events, nil
}

func (h *Hub) release(storeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refCounts[storeID]--
	if h.refCounts[storeID] > 0 {
		return
	}

	delete(h.refCounts, storeID)
	if channel, ok := h.channels[storeID]; ok {
		channel.Unsubscribe()
		delete(h.channels, storeID)
	}
}

// SubscribeCard attaches a customer client to their own card channel.
func (h *Hub) SubscribeCard(ctx context.Context, customerID string) chan models.ChannelEvent {
	return h.emitter.Subscribe(ctx, CardChannel(customerID))
}

// Join tracks a viewer on a store channel and triggers a full resync, the
// equivalent of a presence join event.
func (h *Hub) Join(ctx context.Context, storeID string, entry models.PresenceEntry) error {
	if err := h.tracker.Track(ctx, storeID, entry); err != nil {
		return err
	}
	return h.resync(ctx, storeID)
}

// Heartbeat keeps a viewer's presence alive. A heartbeat for an expired
// viewer falls back to a no-op; the next Join re-registers them.
func (h *Hub) Heartbeat(ctx context.Context, storeID, userID string) error {
	return h.tracker.Heartbeat(ctx, storeID, userID)
}

// Leave untracks a viewer and resyncs, the equivalent of a leave event.
func (h *Hub) Leave(ctx context.Context, storeID, userID string) error {
	if err := h.tracker.Untrack(ctx, storeID, userID); err != nil {
		return err
	}
	return h.resync(ctx, storeID)
}

// OnPresenceExpired is wired to the tracker's keyspace-expiry subscription.
func (h *Hub) OnPresenceExpired(storeID string) {
	if err := h.resync(context.Background(), storeID); err != nil {
		h.log.Error("PRESENCE", fmt.Sprintf("Resync after expiry failed for store %s: %v", storeID, err))
	}
}

func (h *Hub) resync(ctx context.Context, storeID string) error {
	h.mu.Lock()
	channel, ok := h.channels[storeID]
	h.mu.Unlock()
	if !ok {
		return nil // nobody watching this store
	}
	return channel.Resync(ctx)
}

// BroadcastStampUpdate delivers a stamp_update to every active store channel;
// synchronizers that do not track the card ignore it. The customer's own card
// channel always receives the row update.
func (h *Hub) BroadcastStampUpdate(update models.StampUpdate, customerID string) {
	h.mu.Lock()
	syncs := make([]*Synchronizer, 0, len(h.channels))
	for _, s := range h.channels {
		syncs = append(syncs, s)
	}
	h.mu.Unlock()

	for _, s := range syncs {
		s.ApplyStampUpdate(update)
	}

	if customerID != "" {
		h.emitter.Emit(CardChannel(customerID), models.ChannelEvent{
			Event:   models.EventStampUpdate,
			Payload: update,
		})
	}
}

// LiveEntries exposes the cached presence set for a store, when subscribed.
func (h *Hub) LiveEntries(storeID string) []models.PresenceEntry {
	h.mu.Lock()
	channel, ok := h.channels[storeID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return channel.LiveEntries()
}

// ActionChanged implements workflow.Notifier, mirroring undo-window state to
// dashboard subscribers.
func (h *Hub) ActionChanged(storeID string, key workflow.ActionKey, status workflow.ActionStatus) {
	h.emitter.Emit(DashboardChannel(storeID), models.ChannelEvent{
		Event: models.EventAction,
		Payload: models.ActionEvent{
			CardID:   key.CardID,
			Kind:     key.Kind.String(),
			RewardID: key.RewardID,
			Status:   status.String(),
		},
	})
}

// Notice implements workflow.Notifier for operator-facing messages.
func (h *Hub) Notice(storeID, message string) {
	h.emitter.Emit(DashboardChannel(storeID), models.ChannelEvent{
		Event:   models.EventNotice,
		Payload: message,
	})
}
