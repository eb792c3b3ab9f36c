package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/puffperksonline/puffperks/internal/auth"
	"github.com/puffperksonline/puffperks/internal/billing"
	cardsdb "github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/ledger"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/utils"
	"github.com/puffperksonline/puffperks/internal/workflow"
)

// ActionEngine is the workflow surface the dashboard mutates through.
type ActionEngine interface {
	AddStamp(ctx context.Context, storeID, cardID string) error
	RedeemReward(ctx context.Context, storeID, cardID, rewardID string) error
	Undo(ctx context.Context, storeID string, key workflow.ActionKey) error
	AddStampBatch(ctx context.Context, storeID, cardID string, count int) (int, error)
}

// AnalyticsSource proxies the remote analytics functions.
type AnalyticsSource interface {
	FetchAnalytics(ctx context.Context, storeID string) (*models.AnalyticsSnapshot, error)
	FetchCustomerSegments(ctx context.Context, storeID string) (*models.CustomerSegments, error)
}

// CardDirectory is the read model behind the dashboard's customer views.
type CardDirectory interface {
	FindStoreCustomerByEmail(ctx context.Context, storeID, email string) (*models.Customer, error)
	GetCardByCustomer(ctx context.Context, customerID string) (*models.LoyaltyCard, error)
	ListNotes(ctx context.Context, customerID, storeID string) ([]models.CustomerNote, error)
	AddNote(ctx context.Context, note *models.CustomerNote) error
	DeleteNote(ctx context.Context, noteID, storeID string) error
	ListStampHistory(ctx context.Context, customerID, storeID string) ([]models.StampEvent, error)
}

// LocationSource resolves locations for QR rendering.
type LocationSource interface {
	GetLocation(ctx context.Context, id string) (*models.Location, error)
}

// QRCodes renders printable signup codes.
type QRCodes interface {
	SignupURL(locationID string) string
	SignupQR(locationID string) ([]byte, error)
}

// BillingSource refreshes subscription state from the payment provider.
type BillingSource interface {
	RefreshSubscription(ctx context.Context, store *models.Store) (string, error)
}

type Handler struct {
	Engine    ActionEngine
	Analytics AnalyticsSource
	Cards     CardDirectory
	Locations LocationSource
	QR        QRCodes
	Billing   BillingSource
	Channels  Channels
	Logger    *logger.Logger
}

// store returns the session's store after checking it matches the URL. A
// store owner can only operate their own dashboard.
func (h *Handler) store(w http.ResponseWriter, r *http.Request) *models.Store {
	store := auth.SessionFrom(r.Context()).Store
	if store == nil || store.ID != chi.URLParam(r, "storeID") {
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Access denied", "you do not own this store"))
		return nil
	}
	return store
}

// writeActionError maps workflow and ledger failures onto the envelope. A
// remote rejection keeps its message word for word.
func (h *Handler) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrActionPending), errors.Is(err, workflow.ErrNoUndoWindow):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Action rejected", err.Error()))
	case ledger.IsRemote(err):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("Action failed", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Action failed", err.Error()))
	}
}

type stampRequest struct {
	Undo bool `json:"undo"`
}

// Stamp adds one stamp to a card, or with undo set reverses the one just
// added while its window is open.
func (h *Handler) Stamp(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}
	cardID := chi.URLParam(r, "cardID")

	var req stampRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means a plain stamp
	}

	if req.Undo {
		key := workflow.ActionKey{CardID: cardID, Kind: workflow.KindAddStamp}
		if err := h.Engine.Undo(r.Context(), store.ID, key); err != nil {
			h.writeActionError(w, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Stamp undone", nil))
		return
	}

	if err := h.Engine.AddStamp(r.Context(), store.ID, cardID); err != nil {
		h.writeActionError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Stamp added", nil))
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
	Undo     bool   `json:"undo"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}
	cardID := chi.URLParam(r, "cardID")

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.RewardID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Validation failed", "reward_id is required"))
		return
	}

	if req.Undo {
		key := workflow.ActionKey{CardID: cardID, Kind: workflow.KindRedeemReward, RewardID: req.RewardID}
		if err := h.Engine.Undo(r.Context(), store.ID, key); err != nil {
			h.writeActionError(w, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Redemption undone", nil))
		return
	}

	if err := h.Engine.RedeemReward(r.Context(), store.ID, cardID, req.RewardID); err != nil {
		h.writeActionError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reward redeemed", nil))
}

type manualStampRequest struct {
	Email  string `json:"email"`
	Stamps int    `json:"stamps"`
}

type manualStampResult struct {
	CustomerID string `json:"customer_id"`
	CardID     string `json:"card_id"`
	Applied    int    `json:"applied"`
}

// ManualStamps finds a customer by email and applies a batch of stamps. The
// batch stops at the first ledger rejection; stamps already applied stay.
func (h *Handler) ManualStamps(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	var req manualStampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Validation failed", "Please enter the customer's email address."))
		return
	}
	if req.Stamps < 1 {
		req.Stamps = 1
	}

	customer, err := h.Cards.FindStoreCustomerByEmail(r.Context(), store.ID, req.Email)
	if errors.Is(err, cardsdb.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Customer not found", "No customer with that email has a card at this store."))
		return
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}

	card, err := h.Cards.GetCardByCustomer(r.Context(), customer.ID)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}

	applied, err := h.Engine.AddStampBatch(r.Context(), store.ID, card.ID, req.Stamps)
	result := manualStampResult{CustomerID: customer.ID, CardID: card.ID, Applied: applied}
	if err != nil {
		resp := utils.ErrorResponse(fmt.Sprintf("Applied %d of %d stamps", applied, req.Stamps), err.Error())
		resp.Data = result
		utils.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("Applied %d stamps", applied), result))
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	snapshot, err := h.Analytics.FetchAnalytics(r.Context(), store.ID)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Analytics", snapshot))
}

func (h *Handler) GetSegments(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	segments, err := h.Analytics.FetchCustomerSegments(r.Context(), store.ID)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Customer segments", segments))
}

func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	notes, err := h.Cards.ListNotes(r.Context(), chi.URLParam(r, "customerID"), store.ID)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load notes", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Notes", notes))
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Validation failed", "note text is required"))
		return
	}

	note := models.CustomerNote{
		CustomerID: chi.URLParam(r, "customerID"),
		StoreID:    store.ID,
		Note:       req.Note,
	}
	if err := h.Cards.AddNote(r.Context(), &note); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to save note", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Note saved", note))
}

func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	err := h.Cards.DeleteNote(r.Context(), chi.URLParam(r, "noteID"), store.ID)
	if errors.Is(err, cardsdb.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Note not found", "note does not exist for this store"))
		return
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to delete note", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Note deleted", nil))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	history, err := h.Cards.ListStampHistory(r.Context(), chi.URLParam(r, "customerID"), store.ID)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load history", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Stamp history", history))
}

// GetLocationQR streams the printable signup QR for one of the store's
// locations.
func (h *Handler) GetLocationQR(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	location, err := h.Locations.GetLocation(r.Context(), chi.URLParam(r, "locationID"))
	if err != nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Location not found", err.Error()))
		return
	}
	if location.StoreID != store.ID {
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Access denied", "location belongs to another store"))
		return
	}

	png, err := h.QR.SignupQR(location.ID)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", location.Name+"-signup.png"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type billingStatus struct {
	SubscriptionStatus string `json:"subscription_status"`
	TrialDaysLeft      int    `json:"trial_days_left,omitempty"`
	HasAccess          bool   `json:"has_access"`
	PaymentLink        string `json:"payment_link,omitempty"`
}

// GetBilling reports the store's subscription state, refreshing from Stripe
// when the store has a billing account.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	if _, err := h.Billing.RefreshSubscription(r.Context(), store); err != nil && !errors.Is(err, billing.ErrNoStripeCustomer) {
		h.Logger.Warn("STRIPE", fmt.Sprintf("Billing refresh for store %s failed: %v", store.ID, err))
	}

	now := time.Now()
	status := billingStatus{
		SubscriptionStatus: store.SubscriptionStatus,
		HasAccess:          billing.HasAccess(store, now),
		PaymentLink:        store.StripePaymentLink,
	}
	if remaining := billing.TrialRemaining(store, now); remaining > 0 {
		status.TrialDaysLeft = int(remaining.Hours()/24) + 1
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Billing status", status))
}
