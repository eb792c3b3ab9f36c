package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/puffperksonline/puffperks/internal/auth"
	cardsdb "github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/utils"
)

// defaultMaxStamps sizes a new card when the store has no active rewards to
// derive a target from.
const defaultMaxStamps = 10

// JoinDirectory is the write surface behind the signup flow.
type JoinDirectory interface {
	GetCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCardForLocation(ctx context.Context, customerID, locationID string) (*models.LoyaltyCard, error)
	CreateCard(ctx context.Context, card *models.LoyaltyCard) error
}

// LocationSource resolves the location a signup QR points at.
type LocationSource interface {
	GetLocation(ctx context.Context, id string) (*models.Location, error)
}

// SignupVerifier checks the HMAC signature a printed QR carries.
type SignupVerifier interface {
	VerifySignature(locationID, sig string) bool
}

type joinRequest struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	ReferredBy string `json:"referred_by"`
}

// HandleJoin enrolls the authenticated user at the scanned location: it
// verifies the QR signature, creates the customer profile on first contact
// and issues a loyalty card. Scanning the same QR again returns the card
// already held.
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())
	locationID := chi.URLParam(r, "locationID")

	if !h.Signatures.VerifySignature(locationID, r.URL.Query().Get("sig")) {
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Invalid signup link", "signature check failed"))
		return
	}

	location, err := h.Locations.GetLocation(r.Context(), locationID)
	if err != nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Location not found", "this signup link points at an unknown location"))
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	customer, err := h.Directory.GetCustomerByUserID(r.Context(), session.UserID)
	if errors.Is(err, cardsdb.ErrNotFound) {
		customer, err = h.createCustomer(r.Context(), session.UserID, req)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Signup failed", err.Error()))
			return
		}
	} else if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}

	if card, err := h.Directory.GetCardForLocation(r.Context(), customer.ID, location.ID); err == nil {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Already joined", card))
		return
	} else if !errors.Is(err, cardsdb.ErrNotFound) {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}

	card := &models.LoyaltyCard{
		CustomerID: customer.ID,
		LocationID: location.ID,
		MaxStamps:  h.maxStampsFor(r.Context(), location.StoreID),
	}
	if err := h.Directory.CreateCard(r.Context(), card); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Signup failed", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Welcome aboard", card))
}

func (h *Handler) createCustomer(ctx context.Context, userID string, req joinRequest) (*models.Customer, error) {
	name := strings.TrimSpace(req.FullName)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		return nil, errors.New("full_name and email are required to sign up")
	}
	customer := &models.Customer{
		UserID:     userID,
		FullName:   name,
		Email:      email,
		ReferredBy: strings.TrimSpace(req.ReferredBy),
	}
	if err := h.Directory.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// maxStampsFor sizes a new card to the store's most demanding active reward
// so a full card always has something to spend on.
func (h *Handler) maxStampsFor(ctx context.Context, storeID string) int {
	rewards, err := h.Cards.ListActiveRewards(ctx, storeID)
	if err != nil || len(rewards) == 0 {
		return defaultMaxStamps
	}
	max := defaultMaxStamps
	for _, reward := range rewards {
		if reward.StampsRequired > max {
			max = reward.StampsRequired
		}
	}
	return max
}
