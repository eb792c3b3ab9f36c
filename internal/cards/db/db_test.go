package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"github.com/puffperksonline/puffperks/internal/cards/db"
	"github.com/puffperksonline/puffperks/internal/models"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	// Create required tables
	for _, model := range []interface{}{
		(*models.Store)(nil),
		(*models.Location)(nil),
		(*models.Customer)(nil),
		(*models.LoyaltyCard)(nil),
		(*models.Reward)(nil),
		(*models.CustomerNote)(nil),
		(*models.StampEvent)(nil),
	} {
		_, err = bunDB.NewCreateTable().Model(model).Exec(context.Background())
		if err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}

	return &db.DB{Bun: bunDB}, bunDB
}

// seedCard inserts a store, location, customer and card, returning the card ID.
func seedCard(t *testing.T, bunDB *bun.DB, userID string, stamps int) (storeID, customerID, cardID string) {
	ctx := context.Background()

	storeID = uuid.New().String()
	store := models.Store{
		ID:                 storeID,
		OwnerUserID:        uuid.New().String(),
		StoreName:          "Puff Puff Coffee",
		SubscriptionStatus: models.SubscriptionActive,
		CreatedAt:          time.Now(),
	}
	_, err := bunDB.NewInsert().Model(&store).Exec(ctx)
	assert.NoError(t, err)

	locationID := uuid.New().String()
	location := models.Location{
		ID:      locationID,
		StoreID: storeID,
		Name:    "High Street",
	}
	_, err = bunDB.NewInsert().Model(&location).Exec(ctx)
	assert.NoError(t, err)

	customerID = uuid.New().String()
	customer := models.Customer{
		ID:           customerID,
		UserID:       userID,
		FullName:     "Avery Test",
		Email:        "avery@example.com",
		ReferralCode: uuid.New().String()[:8],
		CreatedAt:    time.Now(),
	}
	_, err = bunDB.NewInsert().Model(&customer).Exec(ctx)
	assert.NoError(t, err)

	cardID = uuid.New().String()
	card := models.LoyaltyCard{
		ID:         cardID,
		CustomerID: customerID,
		LocationID: locationID,
		Stamps:     stamps,
		MaxStamps:  10,
		CreatedAt:  time.Now(),
	}
	_, err = bunDB.NewInsert().Model(&card).Exec(ctx)
	assert.NoError(t, err)

	return storeID, customerID, cardID
}

func TestGetCardByID(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	storeID, _, cardID := seedCard(t, bunDB, "user123", 4)

	// Test case: Get existing card with relations
	card, err := cardsDB.GetCardByID(context.Background(), cardID)
	assert.NoError(t, err)
	assert.NotNil(t, card)
	assert.Equal(t, cardID, card.ID)
	assert.Equal(t, 4, card.Stamps)
	assert.NotNil(t, card.Customer)
	assert.Equal(t, "Avery Test", card.Customer.FullName)
	assert.NotNil(t, card.Location)
	assert.NotNil(t, card.Location.Store)
	assert.Equal(t, storeID, card.Location.Store.ID)

	// Test case: Get non-existent card
	card, err = cardsDB.GetCardByID(context.Background(), "non-existent")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, card)
}

func TestGetCardForUser(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, _, cardID := seedCard(t, bunDB, "user123", 2)

	// Test case: Owner of the card can fetch it
	card, err := cardsDB.GetCardForUser(context.Background(), cardID, "user123")
	assert.NoError(t, err)
	assert.NotNil(t, card)
	assert.Equal(t, cardID, card.ID)

	// Test case: A different auth user gets not-found, not someone else's card
	card, err = cardsDB.GetCardForUser(context.Background(), cardID, "intruder")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, card)
}

func TestGetLatestCardForUser(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, customerID, _ := seedCard(t, bunDB, "user123", 0)

	// A second, newer card for the same customer
	newerID := uuid.New().String()
	newer := models.LoyaltyCard{
		ID:         newerID,
		CustomerID: customerID,
		LocationID: uuid.New().String(),
		Stamps:     0,
		MaxStamps:  8,
		CreatedAt:  time.Now().Add(time.Hour),
	}
	_, err := bunDB.NewInsert().Model(&newer).Exec(context.Background())
	assert.NoError(t, err)

	card, err := cardsDB.GetLatestCardForUser(context.Background(), "user123")
	assert.NoError(t, err)
	assert.Equal(t, newerID, card.ID)

	// Test case: user with no cards
	card, err = cardsDB.GetLatestCardForUser(context.Background(), "no-cards")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, card)
}

func TestCreateCustomerAndCard(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ctx := context.Background()
	locationID := uuid.New().String()
	location := models.Location{ID: locationID, StoreID: uuid.New().String(), Name: "High Street"}
	_, err := bunDB.NewInsert().Model(&location).Exec(ctx)
	assert.NoError(t, err)

	customer := &models.Customer{
		UserID:    "user-new",
		FullName:  "Avery Test",
		Email:     "avery@example.com",
		CreatedAt: time.Now(),
	}
	assert.NoError(t, cardsDB.CreateCustomer(ctx, customer))
	// ID and referral code are filled in on insert
	assert.NotEmpty(t, customer.ID)
	assert.NotEmpty(t, customer.ReferralCode)

	card := &models.LoyaltyCard{
		CustomerID: customer.ID,
		LocationID: locationID,
		MaxStamps:  10,
		CreatedAt:  time.Now(),
	}
	assert.NoError(t, cardsDB.CreateCard(ctx, card))
	assert.NotEmpty(t, card.ID)

	// Test case: the join flow finds the card it just issued
	found, err := cardsDB.GetCardForLocation(ctx, customer.ID, locationID)
	assert.NoError(t, err)
	assert.Equal(t, card.ID, found.ID)

	// Test case: no card at an unvisited location
	found, err = cardsDB.GetCardForLocation(ctx, customer.ID, "elsewhere")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, found)
}

func TestFindStoreCustomerByEmail(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	storeID, customerID, _ := seedCard(t, bunDB, "user123", 1)

	// Test case: lookup is case-insensitive
	customer, err := cardsDB.FindStoreCustomerByEmail(context.Background(), storeID, "AVERY@example.COM")
	assert.NoError(t, err)
	assert.Equal(t, customerID, customer.ID)

	// Test case: same email at a different store is not a match
	customer, err = cardsDB.FindStoreCustomerByEmail(context.Background(), uuid.New().String(), "avery@example.com")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, customer)
}

func TestListActiveRewards(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	storeID := uuid.New().String()
	rewards := []models.Reward{
		{ID: uuid.New().String(), StoreID: storeID, Description: "Free pastry", StampsRequired: 5, IsActive: true, CreatedAt: time.Now()},
		{ID: uuid.New().String(), StoreID: storeID, Description: "Free coffee", StampsRequired: 10, IsActive: true, CreatedAt: time.Now()},
		{ID: uuid.New().String(), StoreID: storeID, Description: "Retired deal", StampsRequired: 3, IsActive: false, CreatedAt: time.Now()},
	}
	_, err := bunDB.NewInsert().Model(&rewards).Exec(context.Background())
	assert.NoError(t, err)

	active, err := cardsDB.ListActiveRewards(context.Background(), storeID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(active))
	// Sorted by stamps required, cheapest first
	assert.Equal(t, "Free pastry", active[0].Description)
	assert.Equal(t, "Free coffee", active[1].Description)
}

func TestNotesLifecycle(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	storeID, customerID, _ := seedCard(t, bunDB, "user123", 0)

	note := models.CustomerNote{
		CustomerID: customerID,
		StoreID:    storeID,
		Note:       "Prefers oat milk",
	}
	err := cardsDB.AddNote(context.Background(), &note)
	assert.NoError(t, err)
	assert.NotEmpty(t, note.ID)

	notes, err := cardsDB.ListNotes(context.Background(), customerID, storeID)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(notes))
	assert.Equal(t, "Prefers oat milk", notes[0].Note)

	// Test case: another store cannot delete the note
	err = cardsDB.DeleteNote(context.Background(), note.ID, uuid.New().String())
	assert.ErrorIs(t, err, db.ErrNotFound)

	err = cardsDB.DeleteNote(context.Background(), note.ID, storeID)
	assert.NoError(t, err)

	notes, err = cardsDB.ListNotes(context.Background(), customerID, storeID)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(notes))
}

func TestListStampHistory(t *testing.T) {
	cardsDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	storeID, customerID, cardID := seedCard(t, bunDB, "user123", 3)

	events := []models.StampEvent{
		{ID: uuid.New().String(), LoyaltyCardID: cardID, StoreID: storeID, Kind: "stamp", CreatedAt: time.Now().Add(-2 * time.Hour)},
		{ID: uuid.New().String(), LoyaltyCardID: cardID, StoreID: storeID, Kind: "redeem", RewardID: uuid.New().String(), CreatedAt: time.Now().Add(-time.Hour)},
		{ID: uuid.New().String(), LoyaltyCardID: cardID, StoreID: uuid.New().String(), Kind: "stamp", CreatedAt: time.Now()},
	}
	_, err := bunDB.NewInsert().Model(&events).Exec(context.Background())
	assert.NoError(t, err)

	history, err := cardsDB.ListStampHistory(context.Background(), customerID, storeID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(history))
	// Most recent first, and the other store's event excluded
	assert.Equal(t, "redeem", history[0].Kind)
	assert.Equal(t, "stamp", history[1].Kind)
}
