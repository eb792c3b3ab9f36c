package models

import "time"

// PresenceEntry is an ephemeral record of one viewer currently connected to a
// store's dashboard channel. Entries are rebuilt from scratch on every sync,
// never patched incrementally.
type PresenceEntry struct {
	UserID        string    `json:"user_id"`
	LoyaltyCardID string    `json:"loyalty_card_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	Stamps        int       `json:"stamps"`
	MaxStamps     int       `json:"max_stamps"`
	IsOwner       bool      `json:"is_owner"`
	TrackedAt     time.Time `json:"tracked_at"`
}

// StampUpdate is the broadcast payload published whenever the remote ledger
// confirms a stamp mutation for a card.
type StampUpdate struct {
	ID     string `json:"id"` // loyalty card id
	Stamps int    `json:"stamps"`
}

// StampUpdateMessage is the broker-side envelope for a StampUpdate. Routing
// metadata rides along so consumers can address the customer's card channel;
// only the embedded StampUpdate reaches clients.
type StampUpdateMessage struct {
	StampUpdate
	StoreID    string `json:"store_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Origin     string `json:"origin,omitempty"` // publishing instance id
}

// Dashboard channel event names streamed over SSE.
const (
	EventPresence    = "presence"
	EventStampUpdate = "stamp_update"
	EventRefresh     = "refresh"
	EventAction      = "action"
	EventNotice      = "notice"
)

// ActionEvent mirrors one action target's state to dashboard subscribers so
// the undo control can be shown and hidden.
type ActionEvent struct {
	CardID   string `json:"card_id"`
	Kind     string `json:"kind"`
	RewardID string `json:"reward_id,omitempty"`
	Status   string `json:"status"`
}

// ChannelEvent is one server-pushed event on a dashboard or card channel.
type ChannelEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}
