package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puffperksonline/puffperks/internal/auth"
	cardsdb "github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/ledger"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/utils"
	"github.com/puffperksonline/puffperks/internal/workflow"
)

// newCardAlias resolves to the customer's most recently created card, used
// right after signup when the client does not yet know the card id.
const newCardAlias = "new"

// CardSource is the read model behind the customer card page.
type CardSource interface {
	GetCardForUser(ctx context.Context, cardID, userID string) (*models.LoyaltyCard, error)
	GetLatestCardForUser(ctx context.Context, userID string) (*models.LoyaltyCard, error)
	ListActiveRewards(ctx context.Context, storeID string) ([]models.Reward, error)
}

// RedeemEngine is the workflow surface customers redeem through.
type RedeemEngine interface {
	RedeemReward(ctx context.Context, storeID, cardID, rewardID string) error
}

type Handler struct {
	Cards      CardSource
	Directory  JoinDirectory
	Locations  LocationSource
	Signatures SignupVerifier
	Engine     RedeemEngine
	Channels   Channels
	PublicURL  string
	Logger     *logger.Logger
}

// card resolves the URL's card id, honouring the "new" alias, and checks the
// card belongs to the session's customer.
func (h *Handler) card(w http.ResponseWriter, r *http.Request) *models.LoyaltyCard {
	session := auth.SessionFrom(r.Context())
	cardID := chi.URLParam(r, "cardID")

	var (
		card *models.LoyaltyCard
		err  error
	)
	if cardID == newCardAlias {
		card, err = h.Cards.GetLatestCardForUser(r.Context(), session.UserID)
	} else {
		card, err = h.Cards.GetCardForUser(r.Context(), cardID, session.UserID)
	}
	if errors.Is(err, cardsdb.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Card not found", "no card found for this account"))
		return nil
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return nil
	}
	return card
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card := h.card(w, r)
	if card == nil {
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Loyalty card", card))
}

type rewardView struct {
	models.Reward
	Redeemable bool `json:"redeemable"`
}

// GetRewards lists the store's active rewards with a redeemable flag computed
// against the card's current stamp count.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	card := h.card(w, r)
	if card == nil {
		return
	}
	if card.Location == nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", "card has no location"))
		return
	}

	rewards, err := h.Cards.ListActiveRewards(r.Context(), card.Location.StoreID)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load rewards", err.Error()))
		return
	}

	views := make([]rewardView, 0, len(rewards))
	for _, reward := range rewards {
		views = append(views, rewardView{Reward: reward, Redeemable: reward.Redeemable(card)})
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Rewards", views))
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	card := h.card(w, r)
	if card == nil {
		return
	}
	if card.Location == nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", "card has no location"))
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.RewardID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Validation failed", "reward_id is required"))
		return
	}

	err := h.Engine.RedeemReward(r.Context(), card.Location.StoreID, card.ID, req.RewardID)
	switch {
	case errors.Is(err, workflow.ErrActionPending):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Action rejected", err.Error()))
	case ledger.IsRemote(err):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("Redemption failed", err.Error()))
	case err != nil:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Redemption failed", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reward redeemed", nil))
	}
}

type referralView struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// GetReferral returns the customer's referral code and a shareable link.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())
	if session.Customer == nil {
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Access denied", "customer profile required"))
		return
	}

	view := referralView{
		Code: session.Customer.ReferralCode,
		Link: fmt.Sprintf("%s/refer/%s", h.PublicURL, session.Customer.ReferralCode),
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Referral", view))
}
