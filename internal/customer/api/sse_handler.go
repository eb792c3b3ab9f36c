package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/puffperksonline/puffperks/internal/auth"
	"github.com/puffperksonline/puffperks/internal/models"
)

// Channels is the live-presence surface the card page connects through. The
// card page is both a subscriber (it wants its own stamp updates) and a
// presence source (the store dashboard shows it as a live viewer).
type Channels interface {
	SubscribeCard(ctx context.Context, customerID string) chan models.ChannelEvent
	Join(ctx context.Context, storeID string, entry models.PresenceEntry) error
	Heartbeat(ctx context.Context, storeID, userID string) error
	Leave(ctx context.Context, storeID, userID string) error
}

// HeartbeatInterval is how often an open card stream refreshes its presence
// entry. It must stay well under the tracker TTL.
const HeartbeatInterval = 10 * time.Second

// HandleEvents streams the customer's card channel over Server-Sent Events.
// While the stream is open the viewer is registered as present at the card's
// store; closing the tab drops the heartbeat and the entry expires.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	card := h.card(w, r)
	if card == nil {
		return
	}
	if card.Location == nil {
		http.Error(w, "card has no location", http.StatusInternalServerError)
		return
	}

	session := auth.SessionFrom(r.Context())
	storeID := card.Location.StoreID
	ctx := r.Context()

	eventChan := h.Channels.SubscribeCard(ctx, card.CustomerID)

	entry := models.PresenceEntry{
		UserID:        session.UserID,
		LoyaltyCardID: card.ID,
		Name:          customerName(session),
		Stamps:        card.Stamps,
		MaxStamps:     card.MaxStamps,
	}
	if err := h.Channels.Join(ctx, storeID, entry); err != nil {
		h.Logger.Warn("PRESENCE", fmt.Sprintf("Join failed for user %s at store %s: %v", session.UserID, storeID, err))
	}
	defer func() {
		if err := h.Channels.Leave(context.Background(), storeID, session.UserID); err != nil {
			h.Logger.Warn("PRESENCE", fmt.Sprintf("Leave failed for user %s at store %s: %v", session.UserID, storeID, err))
		}
	}()

	setupSSEHeaders(w)

	// Initial connection established message
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"cardID\":\"%s\"}\n\n", card.ID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Card %s connected to live channel", card.ID))

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for card: %s", card.ID))
				return
			}

			jsonData, err := json.Marshal(event.Payload)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize card event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, jsonData)
			w.(http.Flusher).Flush()

		case <-heartbeat.C:
			if err := h.Channels.Heartbeat(ctx, storeID, session.UserID); err != nil {
				// Entry may have expired between beats, re-register.
				if joinErr := h.Channels.Join(ctx, storeID, entry); joinErr != nil {
					h.Logger.Warn("PRESENCE", fmt.Sprintf("Re-join failed for user %s: %v", session.UserID, joinErr))
				}
			}

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from card channel: %s", card.ID))
			return
		}
	}
}

func customerName(session *models.Session) string {
	if session.Customer != nil {
		return session.Customer.FullName
	}
	return ""
}

// setupSSEHeaders sets the headers required for Server-Sent Events.
func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
