package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/puffperksonline/puffperks/internal/billing"
	"github.com/puffperksonline/puffperks/internal/models"
)

func TestTrialRemaining(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	trialing := &models.Store{
		SubscriptionStatus: models.SubscriptionTrialing,
		TrialEndsAt:        now.Add(48 * time.Hour),
	}
	assert.Equal(t, 48*time.Hour, billing.TrialRemaining(trialing, now))

	expired := &models.Store{
		SubscriptionStatus: models.SubscriptionTrialing,
		TrialEndsAt:        now.Add(-time.Hour),
	}
	assert.True(t, billing.TrialRemaining(expired, now) <= 0)

	active := &models.Store{SubscriptionStatus: models.SubscriptionActive}
	assert.Equal(t, time.Duration(0), billing.TrialRemaining(active, now))
}

func TestHasAccess(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, billing.HasAccess(&models.Store{
		SubscriptionStatus: models.SubscriptionActive,
	}, now))

	assert.True(t, billing.HasAccess(&models.Store{
		SubscriptionStatus: models.SubscriptionTrialing,
		TrialEndsAt:        now.Add(time.Hour),
	}, now))

	assert.False(t, billing.HasAccess(&models.Store{
		SubscriptionStatus: models.SubscriptionTrialing,
		TrialEndsAt:        now.Add(-time.Hour),
	}, now))

	assert.False(t, billing.HasAccess(&models.Store{
		SubscriptionStatus: models.SubscriptionPastDue,
	}, now))

	assert.False(t, billing.HasAccess(&models.Store{
		SubscriptionStatus: models.SubscriptionCanceled,
	}, now))
}
