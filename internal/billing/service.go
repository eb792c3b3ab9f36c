package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

var (
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrNoStripeCustomer       = errors.New("store has no billing account")
)

// SubscriptionStore persists the subscription state pulled from Stripe.
type SubscriptionStore interface {
	UpdateSubscription(ctx context.Context, storeID, status string) error
}

// Service keeps a store's subscription_status column in sync with Stripe.
// Stores start on a trial; access questions (is the trial over, is the
// subscription lapsed) are answered from the synced column, not by calling
// Stripe on every request.
type Service struct {
	client *client.API
	stores SubscriptionStore
	log    *logger.Logger
}

func NewService(secretKey string, stores SubscriptionStore, log *logger.Logger) (*Service, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Service{client: sc, stores: stores, log: log}, nil
}

// RefreshSubscription pulls the store's current subscription from Stripe,
// persists the mapped status and returns it. A store that never started a
// paid subscription keeps its trial status.
func (s *Service) RefreshSubscription(ctx context.Context, store *models.Store) (string, error) {
	if store.StripeCustomerID == "" {
		return store.SubscriptionStatus, ErrNoStripeCustomer
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(store.StripeCustomerID),
		Status:   stripe.String("all"),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := s.client.Subscriptions.List(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			s.log.Error("STRIPE", fmt.Sprintf("Subscription lookup failed for store %s: %v", store.ID, err))
			return "", err
		}
		s.log.Warn("STRIPE", fmt.Sprintf("No subscription found for store %s, keeping %s", store.ID, store.SubscriptionStatus))
		return store.SubscriptionStatus, nil
	}

	status := mapStatus(iter.Subscription().Status)
	if status != store.SubscriptionStatus {
		if err := s.stores.UpdateSubscription(ctx, store.ID, status); err != nil {
			return "", fmt.Errorf("failed to persist subscription status: %w", err)
		}
		s.log.Info("STRIPE", fmt.Sprintf("Store %s subscription: %s -> %s", store.ID, store.SubscriptionStatus, status))
		store.SubscriptionStatus = status
	}

	return status, nil
}

func mapStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionTrialing
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	default:
		return models.SubscriptionCanceled
	}
}

// TrialRemaining reports how much of the store's trial is left. Zero or
// negative means it has run out.
func TrialRemaining(store *models.Store, now time.Time) time.Duration {
	if store.SubscriptionStatus != models.SubscriptionTrialing || store.TrialEndsAt.IsZero() {
		return 0
	}
	return store.TrialEndsAt.Sub(now)
}

// HasAccess reports whether the store may use the dashboard: an active
// subscription, or a trial that has not yet run out.
func HasAccess(store *models.Store, now time.Time) bool {
	switch store.SubscriptionStatus {
	case models.SubscriptionActive:
		return true
	case models.SubscriptionTrialing:
		return TrialRemaining(store, now) > 0
	default:
		return false
	}
}
