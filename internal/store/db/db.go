package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/puffperksonline/puffperks/internal/models"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetStore(ctx context.Context, id string) (*models.Store, error) {
	var store models.Store
	err := d.Bun.NewSelect().
		Model(&store).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// GetStoreByOwner resolves the store belonging to an authenticated owner.
func (d *DB) GetStoreByOwner(ctx context.Context, userID string) (*models.Store, error) {
	var store models.Store
	err := d.Bun.NewSelect().
		Model(&store).
		Where("owner_user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// ListStores returns every store, for background jobs that sweep the estate.
func (d *DB) ListStores(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	err := d.Bun.NewSelect().
		Model(&stores).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return stores, nil
}

func (d *DB) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var location models.Location
	err := d.Bun.NewSelect().
		Model(&location).
		Relation("Store").
		Relation("Hours").
		Where("location.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (d *DB) ListLocations(ctx context.Context, storeID string) ([]models.Location, error) {
	var locations []models.Location
	err := d.Bun.NewSelect().
		Model(&locations).
		Relation("Hours").
		Where("store_id = ?", storeID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return locations, nil
}

// UpdateSubscription persists the billing state pulled from Stripe.
func (d *DB) UpdateSubscription(ctx context.Context, storeID, status string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Store)(nil)).
		Set("subscription_status = ?", status).
		Where("id = ?", storeID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
