package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:customer"`

	ID           string    `bun:"id,pk" json:"id"`
	UserID       string    `bun:"user_id,notnull,unique" json:"user_id"`
	FullName     string    `bun:"full_name,notnull" json:"full_name"`
	Email        string    `bun:"email,notnull" json:"email"`
	ReferralCode string    `bun:"referral_code,notnull,unique" json:"referral_code"`
	ReferredBy   string    `bun:"referred_by,nullzero" json:"referred_by,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// LoyaltyCard is the stamp ledger row for one customer at one location.
// The stamps column is owned by the remote ledger functions; this service
// reads it but never writes it.
type LoyaltyCard struct {
	bun.BaseModel `bun:"table:loyalty_cards,alias:loyalty_card"`

	ID         string    `bun:"id,pk" json:"id"`
	CustomerID string    `bun:"customer_id,notnull" json:"customer_id"`
	LocationID string    `bun:"location_id,notnull" json:"location_id"`
	Stamps     int       `bun:"stamps,notnull,default:0" json:"stamps"`
	MaxStamps  int       `bun:"max_stamps,notnull" json:"max_stamps"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Customer *Customer `bun:"rel:belongs-to,join:customer_id=id" json:"customer,omitempty"`
	Location *Location `bun:"rel:belongs-to,join:location_id=id" json:"location,omitempty"`
}

type Reward struct {
	bun.BaseModel `bun:"table:rewards,alias:reward"`

	ID             string    `bun:"id,pk" json:"id"`
	StoreID        string    `bun:"store_id,notnull" json:"store_id"`
	Description    string    `bun:"description,notnull" json:"description"`
	StampsRequired int       `bun:"stamps_required,notnull" json:"stamps_required"`
	IsActive       bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Redeemable reports whether a card has enough stamps for the reward.
func (r Reward) Redeemable(card *LoyaltyCard) bool {
	return r.IsActive && card != nil && card.Stamps >= r.StampsRequired
}

type CustomerNote struct {
	bun.BaseModel `bun:"table:customer_notes,alias:customer_note"`

	ID         string    `bun:"id,pk" json:"id"`
	CustomerID string    `bun:"customer_id,notnull" json:"customer_id"`
	StoreID    string    `bun:"store_id,notnull" json:"store_id"`
	Note       string    `bun:"note,notnull" json:"note"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// StampEvent is the append-only history behind a card's stamp count,
// written by the remote ledger functions and read here for display.
type StampEvent struct {
	bun.BaseModel `bun:"table:stamp_events,alias:stamp_event"`

	ID            string    `bun:"id,pk" json:"id"`
	LoyaltyCardID string    `bun:"loyalty_card_id,notnull" json:"loyalty_card_id"`
	StoreID       string    `bun:"store_id,notnull" json:"store_id"`
	Kind          string    `bun:"kind,notnull" json:"kind"` // "stamp" or "redeem"
	RewardID      string    `bun:"reward_id,nullzero" json:"reward_id,omitempty"`
	Undone        bool      `bun:"undone,notnull,default:false" json:"undone"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
