// Package validation decides whether an event or sales item may be applied.
package validation

import (
	"context"
	"errors"

	"github.com/angelmondragon/stockledger/internal/events"
)

// Catalog answers existence and activity questions about stores and products.
type Catalog interface {
	StoreExists(ctx context.Context, storeCode string) (bool, error)
	ProductExists(ctx context.Context, sku string) (bool, error)
	GetActiveFlag(ctx context.Context, sku string) (*bool, error)
}

// Validator combines structural checks with catalog lookups.
type Validator struct {
	catalog Catalog
}

func New(catalog Catalog) (*Validator, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	return &Validator{catalog: catalog}, nil
}

// ValidateSalesEvent rejects a sale without a store or without any items.
func ValidateSalesEvent(e *events.SalesEvent) bool {
	return e != nil && e.StoreCode != nil && len(e.Items) > 0
}

// ValidateSalesItem rejects an item missing its SKU or carrying a non-positive quantity.
func ValidateSalesItem(item *events.SalesItem) bool {
	return item != nil && item.SKU != nil && item.Quantity != nil && *item.Quantity > 0
}

func ValidateProductEvent(sku *string) bool {
	return sku != nil
}

func ValidateStoreEvent(storeCode *string) bool {
	return storeCode != nil
}

func (v *Validator) StoreExists(ctx context.Context, storeCode string) (bool, error) {
	return v.catalog.StoreExists(ctx, storeCode)
}

func (v *Validator) ProductExists(ctx context.Context, sku string) (bool, error) {
	return v.catalog.ProductExists(ctx, sku)
}

// IsActiveProduct is true only when the catalog holds an explicit true flag.
func (v *Validator) IsActiveProduct(ctx context.Context, sku string) (bool, error) {
	flag, err := v.catalog.GetActiveFlag(ctx, sku)
	if err != nil {
		return false, err
	}
	return flag != nil && *flag, nil
}
