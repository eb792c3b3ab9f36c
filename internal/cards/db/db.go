package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/puffperksonline/puffperks/internal/models"
	"github.com/puffperksonline/puffperks/internal/utils"
)

// ErrNotFound distinguishes an absent customer/card/reward from a query
// failure so handlers can answer with a not-found message instead of a
// generic error.
var ErrNotFound = errors.New("not found")

type DB struct {
	Bun *bun.DB
}

// ---------------- LOYALTY CARDS ----------------

// GetCardByID fetches a card with its customer, location and store attached.
func (d *DB) GetCardByID(ctx context.Context, id string) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := d.Bun.NewSelect().
		Model(&card).
		Relation("Customer").
		Relation("Location").
		Relation("Location.Store").
		Where("loyalty_card.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCardForUser fetches a card only if it belongs to the given auth user.
func (d *DB) GetCardForUser(ctx context.Context, cardID, userID string) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := d.Bun.NewSelect().
		Model(&card).
		Relation("Customer").
		Relation("Location").
		Relation("Location.Store").
		Where("loyalty_card.id = ?", cardID).
		Where("customer.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetLatestCardForUser resolves the "new" card path right after signup: the
// most recently created card for the auth user.
func (d *DB) GetLatestCardForUser(ctx context.Context, userID string) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := d.Bun.NewSelect().
		Model(&card).
		Relation("Customer").
		Where("customer.user_id = ?", userID).
		Order("loyalty_card.created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCardByCustomer fetches a customer's card (single-card model: one card
// per customer).
func (d *DB) GetCardByCustomer(ctx context.Context, customerID string) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCardForLocation finds a customer's existing card at a location. The join
// flow uses it to stay idempotent: scanning the same QR twice returns the
// card already held instead of issuing a second one.
func (d *DB) GetCardForLocation(ctx context.Context, customerID, locationID string) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("customer_id = ?", customerID).
		Where("location_id = ?", locationID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (d *DB) CreateCard(ctx context.Context, card *models.LoyaltyCard) error {
	if card.ID == "" {
		card.ID = utils.GenerateID()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	_, err := d.Bun.NewInsert().Model(card).Exec(ctx)
	return err
}

// ---------------- CUSTOMERS ----------------

func (d *DB) GetCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error) {
	var customer models.Customer
	err := d.Bun.NewSelect().
		Model(&customer).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindStoreCustomerByEmail locates a customer registered at a store by email
// (case-insensitive). Registered means they hold a loyalty card at one of the
// store's locations.
func (d *DB) FindStoreCustomerByEmail(ctx context.Context, storeID, email string) (*models.Customer, error) {
	var customer models.Customer
	err := d.Bun.NewSelect().
		Model(&customer).
		Join("JOIN loyalty_cards lc ON lc.customer_id = customer.id").
		Join("JOIN locations l ON l.id = lc.location_id").
		Where("l.store_id = ?", storeID).
		Where("LOWER(customer.email) = LOWER(?)", email).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (d *DB) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = utils.GenerateID()
	}
	if customer.ReferralCode == "" {
		customer.ReferralCode = utils.GenerateReferralCode()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now()
	}
	_, err := d.Bun.NewInsert().Model(customer).Exec(ctx)
	return err
}

// ---------------- REWARDS ----------------

func (d *DB) ListActiveRewards(ctx context.Context, storeID string) ([]models.Reward, error) {
	var rewards []models.Reward
	err := d.Bun.NewSelect().
		Model(&rewards).
		Where("store_id = ?", storeID).
		Where("is_active = ?", true).
		Order("stamps_required ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

func (d *DB) GetReward(ctx context.Context, rewardID string) (*models.Reward, error) {
	var reward models.Reward
	err := d.Bun.NewSelect().
		Model(&reward).
		Where("id = ?", rewardID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// ---------------- CUSTOMER NOTES ----------------

func (d *DB) ListNotes(ctx context.Context, customerID, storeID string) ([]models.CustomerNote, error) {
	var notes []models.CustomerNote
	err := d.Bun.NewSelect().
		Model(&notes).
		Where("customer_id = ?", customerID).
		Where("store_id = ?", storeID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (d *DB) AddNote(ctx context.Context, note *models.CustomerNote) error {
	if note.ID == "" {
		note.ID = utils.GenerateID()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err := d.Bun.NewInsert().Model(note).Exec(ctx)
	return err
}

func (d *DB) DeleteNote(ctx context.Context, noteID, storeID string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.CustomerNote)(nil)).
		Where("id = ?", noteID).
		Where("store_id = ?", storeID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------- STAMP HISTORY ----------------

// ListStampHistory returns a customer's stamp/redeem events at a store, most
// recent first. The rows are written by the remote ledger; read-only here.
func (d *DB) ListStampHistory(ctx context.Context, customerID, storeID string) ([]models.StampEvent, error) {
	var events []models.StampEvent
	err := d.Bun.NewSelect().
		Model(&events).
		Join("JOIN loyalty_cards lc ON lc.id = stamp_event.loyalty_card_id").
		Where("lc.customer_id = ?", customerID).
		Where("stamp_event.store_id = ?", storeID).
		Order("stamp_event.created_at DESC").
		Limit(50).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}
