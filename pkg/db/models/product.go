package models

import "time"

// Product is the catalog entry the validator consults for existence and the
// active flag. Active is nullable: an unknown flag is treated as inactive.
type Product struct {
	SKU       string    `gorm:"column:sku;primaryKey"`
	Name      string    `gorm:"column:name;not null;default:''"`
	Active    *bool     `gorm:"column:active"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}
