package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

const presenceKeyPrefix = "presence:"

// ViewerStore is the presence persistence surface the hub and synchronizers
// depend on. Tracker is the Redis implementation.
type ViewerStore interface {
	Track(ctx context.Context, storeID string, entry models.PresenceEntry) error
	Heartbeat(ctx context.Context, storeID, userID string) error
	Untrack(ctx context.Context, storeID, userID string) error
	Snapshot(ctx context.Context, storeID string) ([]models.PresenceEntry, error)
}

// Tracker stores live presence entries in Redis, one key per viewer with a
// heartbeat TTL. A viewer that stops heartbeating simply expires, which is how
// leaves are detected.
type Tracker struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewTracker(client *redis.Client, ttl time.Duration, log *logger.Logger) *Tracker {
	return &Tracker{Client: client, TTL: ttl, Logger: log}
}

func presenceKey(storeID, userID string) string {
	return fmt.Sprintf("%s%s:%s", presenceKeyPrefix, storeID, userID)
}

// Track registers or refreshes a viewer's presence on a store channel.
func (t *Tracker) Track(ctx context.Context, storeID string, entry models.PresenceEntry) error {
	entry.TrackedAt = time.Now().UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode presence entry: %w", err)
	}
	return t.Client.Set(ctx, presenceKey(storeID, entry.UserID), payload, t.TTL).Err()
}

// Heartbeat extends a viewer's TTL without rewriting the entry.
func (t *Tracker) Heartbeat(ctx context.Context, storeID, userID string) error {
	ok, err := t.Client.Expire(ctx, presenceKey(storeID, userID), t.TTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return redis.Nil
	}
	return nil
}

// Untrack removes a viewer's presence immediately (explicit leave).
func (t *Tracker) Untrack(ctx context.Context, storeID, userID string) error {
	return t.Client.Del(ctx, presenceKey(storeID, userID)).Err()
}

// Snapshot rebuilds the full presence set for a store channel from scratch.
func (t *Tracker) Snapshot(ctx context.Context, storeID string) ([]models.PresenceEntry, error) {
	pattern := presenceKeyPrefix + storeID + ":*"

	var entries []models.PresenceEntry

	var cursor uint64
	for {
		keys, next, err := t.Client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("presence scan failed: %w", err)
		}

		for _, key := range keys {
			raw, err := t.Client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, err
			}

			var entry models.PresenceEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				t.Logger.Warn("PRESENCE", fmt.Sprintf("Dropping malformed presence entry at %s: %v", key, err))
				continue
			}
			entries = append(entries, entry)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return VisibleViewers(entries), nil
}

// VisibleViewers reduces raw presence entries to the set a dashboard shows:
// the operator's own entry is excluded and at most one entry is kept per
// distinct loyalty card.
func VisibleViewers(entries []models.PresenceEntry) []models.PresenceEntry {
	var out []models.PresenceEntry
	seenCards := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsOwner || entry.LoyaltyCardID == "" {
			continue
		}
		if seenCards[entry.LoyaltyCardID] {
			continue
		}
		seenCards[entry.LoyaltyCardID] = true
		out = append(out, entry)
	}
	return out
}

// SubscribeExpiry listens for Redis keyspace expiry events on presence keys
// and invokes onLeave with the affected store id. Requires
// notify-keyspace-events to include "Ex"; main enables it at boot.
func (t *Tracker) SubscribeExpiry(ctx context.Context, onLeave func(storeID string)) {
	pubsub := t.Client.PSubscribe(ctx, "__keyevent@0__:expired")
	t.Logger.Info("PRESENCE", "Subscribed to Redis keyevent expired notifications")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Payload, presenceKeyPrefix) {
					continue
				}
				rest := strings.TrimPrefix(msg.Payload, presenceKeyPrefix)
				parts := strings.SplitN(rest, ":", 2)
				if len(parts) != 2 {
					continue
				}
				t.Logger.LogPresence(parts[0], fmt.Sprintf("Viewer %s presence expired", parts[1]))
				onLeave(parts[0])
			}
		}
	}()
}
