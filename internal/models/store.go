package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Subscription states mirrored from the billing provider.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "cancelled"
)

type Store struct {
	bun.BaseModel `bun:"table:stores,alias:store"`

	ID                 string    `bun:"id,pk" json:"id"`
	OwnerUserID        string    `bun:"owner_user_id,notnull" json:"owner_user_id"`
	StoreName          string    `bun:"store_name,notnull" json:"store_name"`
	SubscriptionStatus string    `bun:"subscription_status,notnull" json:"subscription_status"`
	StripeCustomerID   string    `bun:"stripe_customer_id,nullzero" json:"-"`
	StripePaymentLink  string    `bun:"stripe_payment_link,nullzero" json:"stripe_payment_link,omitempty"`
	TrialEndsAt        time.Time `bun:"trial_ends_at,nullzero" json:"trial_ends_at,omitempty"`
	ReferralEnabled    bool      `bun:"referral_enabled,notnull,default:false" json:"referral_enabled"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type Location struct {
	bun.BaseModel `bun:"table:locations,alias:location"`

	ID             string `bun:"id,pk" json:"id"`
	StoreID        string `bun:"store_id,notnull" json:"store_id"`
	Name           string `bun:"name,notnull" json:"name"`
	Address        string `bun:"address,nullzero" json:"address,omitempty"`
	CardBgColor    string `bun:"card_bg_color,nullzero" json:"card_bg_color,omitempty"`
	CardTextColor  string `bun:"card_text_color,nullzero" json:"card_text_color,omitempty"`
	CardStampColor string `bun:"card_stamp_color,nullzero" json:"card_stamp_color,omitempty"`
	LogoURL        string `bun:"logo_url,nullzero" json:"logo_url,omitempty"`

	Store *Store          `bun:"rel:belongs-to,join:store_id=id" json:"store,omitempty"`
	Hours []OperatingHour `bun:"rel:has-many,join:id=location_id" json:"hours,omitempty"`
}

// OpenAt reports whether the location is open at t according to its
// operating hours. No rows for t's weekday means closed all day. A window
// whose close time precedes its open time spills past midnight, so an
// 18:00-02:00 row on Friday covers Friday evening and the small hours of
// Saturday.
func (l *Location) OpenAt(t time.Time) bool {
	clock := t.Format("15:04")
	weekday := int(t.Weekday())
	for _, h := range l.Hours {
		if h.ClosesAt < h.OpensAt {
			// Overnight window: the day it starts from opens_at onward,
			// the following day until closes_at.
			if h.Weekday == weekday && clock >= h.OpensAt {
				return true
			}
			if (h.Weekday+1)%7 == weekday && clock < h.ClosesAt {
				return true
			}
			continue
		}
		if h.Weekday != weekday {
			continue
		}
		if clock >= h.OpensAt && clock < h.ClosesAt {
			return true
		}
	}
	return false
}

// OperatingHour is one weekday's open/close window for a location.
// A missing row means the location is closed that day.
type OperatingHour struct {
	bun.BaseModel `bun:"table:operating_hours,alias:operating_hour"`

	ID         string `bun:"id,pk" json:"id"`
	LocationID string `bun:"location_id,notnull" json:"location_id"`
	Weekday    int    `bun:"weekday,notnull" json:"weekday"`     // time.Weekday numbering, Sunday=0
	OpensAt    string `bun:"opens_at,notnull" json:"opens_at"`   // "HH:MM", location-local
	ClosesAt   string `bun:"closes_at,notnull" json:"closes_at"` // "HH:MM"
}
