package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

// ChannelState is the lifecycle of one store channel subscription.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateSubscribing
	StateSubscribed
)

func (s ChannelState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// DashboardChannel is the realtime channel name for a store's dashboard.
func DashboardChannel(storeID string) string {
	return "store-dashboard-" + storeID
}

// CardChannel is the realtime channel name pushing card-row updates to one
// customer's own view.
func CardChannel(customerID string) string {
	return "customer-card-" + customerID
}

// Synchronizer maintains one store channel's live view: the presence set of
// customers currently viewing their card, merged with server-pushed stamp
// updates. The presence set is rebuilt from scratch on every sync/join/leave,
// never patched incrementally.
type Synchronizer struct {
	storeID string
	tracker ViewerStore
	emitter *Emitter
	log     *logger.Logger

	mu      sync.Mutex
	state   ChannelState
	entries map[string]models.PresenceEntry // keyed by loyalty card id
}

func NewSynchronizer(storeID string, tracker ViewerStore, emitter *Emitter, log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		storeID: storeID,
		tracker: tracker,
		emitter: emitter,
		log:     log,
		state:   StateDisconnected,
		entries: make(map[string]models.PresenceEntry),
	}
}

func (s *Synchronizer) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe brings the channel up and performs the initial sync.
func (s *Synchronizer) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSubscribing
	s.mu.Unlock()

	if err := s.Resync(ctx); err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = StateSubscribed
	s.mu.Unlock()
	s.log.LogPresence(s.storeID, "Channel subscribed")
	return nil
}

// Resync rebuilds the presence set from the tracker and pushes the full
// snapshot to every dashboard subscriber.
func (s *Synchronizer) Resync(ctx context.Context) error {
	snapshot, err := s.tracker.Snapshot(ctx, s.storeID)
	if err != nil {
		return fmt.Errorf("presence resync for store %s failed: %w", s.storeID, err)
	}

	s.mu.Lock()
	s.entries = make(map[string]models.PresenceEntry, len(snapshot))
	for _, entry := range snapshot {
		s.entries[entry.LoyaltyCardID] = entry
	}
	s.mu.Unlock()

	s.emitter.Emit(DashboardChannel(s.storeID), models.ChannelEvent{
		Event:   models.EventPresence,
		Payload: snapshot,
	})
	return nil
}

// ApplyStampUpdate merges a stamp_update broadcast into the live view. An
// update for a card not present in the set is ignored. On a match, the cached
// stamps value is updated in place, the broadcast is forwarded to dashboard
// subscribers, and a refresh signal tells them to re-fetch authoritative
// customer data.
func (s *Synchronizer) ApplyStampUpdate(update models.StampUpdate) bool {
	s.mu.Lock()
	entry, ok := s.entries[update.ID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	entry.Stamps = update.Stamps
	s.entries[update.ID] = entry
	s.mu.Unlock()

	channel := DashboardChannel(s.storeID)
	s.emitter.Emit(channel, models.ChannelEvent{Event: models.EventStampUpdate, Payload: update})
	s.emitter.Emit(channel, models.ChannelEvent{Event: models.EventRefresh})
	return true
}

// LiveEntries returns the current cached presence set.
func (s *Synchronizer) LiveEntries() []models.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

// Unsubscribe tears the channel down. Mandatory on dashboard teardown.
func (s *Synchronizer) Unsubscribe() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.entries = make(map[string]models.PresenceEntry)
	s.mu.Unlock()
	s.log.LogPresence(s.storeID, "Channel unsubscribed")
}
