package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/puffperksonline/puffperks/internal/auth"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/utils"
)

// Channels is the live-presence surface the dashboard streams from.
type Channels interface {
	Subscribe(ctx context.Context, storeID string) (chan models.ChannelEvent, error)
	Join(ctx context.Context, storeID string, entry models.PresenceEntry) error
	Heartbeat(ctx context.Context, storeID, userID string) error
	Leave(ctx context.Context, storeID, userID string) error
}

// HeartbeatInterval is how often an open dashboard stream refreshes the
// operator's presence entry. It must stay well under the tracker TTL.
const HeartbeatInterval = 10 * time.Second

// HandleEvents streams the store's live channel over Server-Sent Events. The
// first frames carry the current presence snapshot, then every stamp update,
// action state change and notice for the store follows. While the stream is
// open the operator is registered as present at the store; owner entries are
// never shown in the viewer list but mark the dashboard as attended.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	session := auth.SessionFrom(r.Context())
	ctx := r.Context()

	eventChan, err := h.Channels.Subscribe(ctx, store.ID)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Dashboard subscribe failed for store %s: %v", store.ID, err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Live updates unavailable", err.Error()))
		return
	}

	entry := models.PresenceEntry{
		UserID:  session.UserID,
		IsOwner: true,
	}
	if err := h.Channels.Join(ctx, store.ID, entry); err != nil {
		h.Logger.Warn("PRESENCE", fmt.Sprintf("Operator join failed for store %s: %v", store.ID, err))
	}
	defer func() {
		if err := h.Channels.Leave(context.Background(), store.ID, session.UserID); err != nil {
			h.Logger.Warn("PRESENCE", fmt.Sprintf("Operator leave failed for store %s: %v", store.ID, err))
		}
	}()

	setupSSEHeaders(w)

	// Initial connection established message
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"storeID\":\"%s\"}\n\n", store.ID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Dashboard connected to live channel for store: %s", store.ID))

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Live channel closed for store: %s", store.ID))
				return
			}

			jsonData, err := json.Marshal(event.Payload)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize dashboard event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, jsonData)
			w.(http.Flusher).Flush()

		case <-heartbeat.C:
			if err := h.Channels.Heartbeat(ctx, store.ID, session.UserID); err != nil {
				// Entry may have expired between beats, re-register.
				if joinErr := h.Channels.Join(ctx, store.ID, entry); joinErr != nil {
					h.Logger.Warn("PRESENCE", fmt.Sprintf("Operator re-join failed for store %s: %v", store.ID, joinErr))
				}
			}

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Dashboard disconnected from store channel: %s", store.ID))
			return
		}
	}
}

type heartbeatRequest struct {
	LoyaltyCardID string `json:"loyalty_card_id"`
	Name          string `json:"name"`
	Stamps        int    `json:"stamps"`
	MaxStamps     int    `json:"max_stamps"`
}

// HandleHeartbeat keeps a card viewer visible on the store dashboard. A
// heartbeat for a viewer whose entry already expired re-registers them.
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	session := auth.SessionFrom(r.Context())
	if session.Role == models.RoleUnauthenticated {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "authentication required"))
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	err := h.Channels.Heartbeat(r.Context(), storeID, session.UserID)
	if errors.Is(err, redis.Nil) {
		entry := models.PresenceEntry{
			UserID:        session.UserID,
			LoyaltyCardID: req.LoyaltyCardID,
			Name:          req.Name,
			Stamps:        req.Stamps,
			MaxStamps:     req.MaxStamps,
			IsOwner:       session.Role == models.RoleStoreOwner,
		}
		err = h.Channels.Join(r.Context(), storeID, entry)
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Heartbeat failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Heartbeat accepted", nil))
}

// setupSSEHeaders sets the headers required for Server-Sent Events.
func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
