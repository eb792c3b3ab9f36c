package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/puffperksonline/puffperks/internal/billing"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/presence"
)

// StoreLister provides the estate sweep source.
type StoreLister interface {
	ListStores(ctx context.Context) ([]models.Store, error)
}

// LocationLister resolves a store's locations and operating hours.
type LocationLister interface {
	ListLocations(ctx context.Context, storeID string) ([]models.Location, error)
}

// SubscriptionRefresher pulls a store's billing state from Stripe.
type SubscriptionRefresher interface {
	RefreshSubscription(ctx context.Context, store *models.Store) (string, error)
}

// Notifier pushes operator-facing notices to a store's dashboard.
type Notifier interface {
	Notice(storeID, message string)
}

// Emitter fans events out to channel subscribers.
type Emitter interface {
	Emit(channelID string, event models.ChannelEvent)
}

// SubscriptionSyncJob reconciles subscription_status with Stripe for every
// store that has a billing account.
type SubscriptionSyncJob struct {
	Stores  StoreLister
	Billing SubscriptionRefresher
	Log     *logger.Logger
}

func (j *SubscriptionSyncJob) Name() string { return "subscription-sync" }

func (j *SubscriptionSyncJob) Run(ctx context.Context) error {
	stores, err := j.Stores.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}

	for i := range stores {
		store := &stores[i]
		if store.StripeCustomerID == "" {
			continue
		}
		if _, err := j.Billing.RefreshSubscription(ctx, store); err != nil {
			j.Log.Warn("SCHEDULER", fmt.Sprintf("Subscription sync for store %s failed: %v", store.ID, err))
		}
	}
	return nil
}

// TrialNoticeJob warns dashboards whose trial runs out within the window.
// Notices only reach stores with a live dashboard; closed dashboards see the
// banner on next load instead.
type TrialNoticeJob struct {
	Stores  StoreLister
	Notices Notifier
	Window  time.Duration
	Now     func() time.Time
}

func (j *TrialNoticeJob) Name() string { return "trial-notice" }

func (j *TrialNoticeJob) Run(ctx context.Context) error {
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}

	stores, err := j.Stores.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}

	for i := range stores {
		store := &stores[i]
		remaining := billing.TrialRemaining(store, now)
		if remaining <= 0 || remaining > j.Window {
			continue
		}
		days := int(remaining.Hours()/24) + 1
		j.Notices.Notice(store.ID, fmt.Sprintf("Your free trial ends in %d day(s). Subscribe to keep your loyalty program running.", days))
	}
	return nil
}

// OpenHoursRefreshJob nudges dashboards of currently open locations to
// re-fetch analytics, so the live figures stay fresh during trading hours
// without every client polling.
type OpenHoursRefreshJob struct {
	Stores    StoreLister
	Locations LocationLister
	Events    Emitter
	Now       func() time.Time
}

func (j *OpenHoursRefreshJob) Name() string { return "open-hours-refresh" }

func (j *OpenHoursRefreshJob) Run(ctx context.Context) error {
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}

	stores, err := j.Stores.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}

	for _, store := range stores {
		locations, err := j.Locations.ListLocations(ctx, store.ID)
		if err != nil {
			return fmt.Errorf("failed to list locations for store %s: %w", store.ID, err)
		}

		for i := range locations {
			if locations[i].OpenAt(now) {
				j.Events.Emit(presence.DashboardChannel(store.ID), models.ChannelEvent{Event: models.EventRefresh})
				break
			}
		}
	}
	return nil
}
