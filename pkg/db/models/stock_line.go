package models

import "time"

// StockLine holds the on-hand quantity for one store/SKU pair. A missing row
// means zero.
type StockLine struct {
	StoreCode string    `gorm:"column:store_code;primaryKey"`
	SKU       string    `gorm:"column:sku;primaryKey"`
	Quantity  int32     `gorm:"column:quantity;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}
