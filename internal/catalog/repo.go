// Package catalog persists the stores and products that stock events refer to.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// Repository handles catalog persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to catalog operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// StoreExists reports whether a store with the given code is known.
func (r *Repository) StoreExists(ctx context.Context, storeCode string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("store_code = ?", storeCode).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ProductExists reports whether a product with the given SKU is known.
func (r *Repository) ProductExists(ctx context.Context, sku string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("sku = ?", sku).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetActiveFlag returns the product's active flag, or nil when the product is
// unknown or the flag was never set.
func (r *Repository) GetActiveFlag(ctx context.Context, sku string) (*bool, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Select("sku", "active").
		Where("sku = ?", sku).
		Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return product.Active, nil
}

// FindStore loads a store by code.
func (r *Repository) FindStore(ctx context.Context, storeCode string) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Where("store_code = ?", storeCode).Take(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// UpsertProduct creates the product or updates the fields the event carried.
// An empty name or nil active flag leaves the stored value alone.
func (r *Repository) UpsertProduct(ctx context.Context, sku, name string, active *bool) error {
	if strings.TrimSpace(sku) == "" {
		return errors.New("sku is required")
	}
	row := models.Product{SKU: sku, Name: name, Active: active, UpdatedAt: time.Now().UTC()}
	updates := []string{"updated_at"}
	if name != "" {
		updates = append(updates, "name")
	}
	if active != nil {
		updates = append(updates, "active")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(&row).Error
}

// UpsertStore creates the store or refreshes its name.
func (r *Repository) UpsertStore(ctx context.Context, storeCode, name string) error {
	if strings.TrimSpace(storeCode) == "" {
		return errors.New("store code is required")
	}
	row := models.Store{StoreCode: storeCode, Name: name, UpdatedAt: time.Now().UTC()}
	updates := []string{"updated_at"}
	if name != "" {
		updates = append(updates, "name")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_code"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(&row).Error
}
