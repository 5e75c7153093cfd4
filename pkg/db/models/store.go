package models

import "time"

// Store is the catalog entry for a physical store.
type Store struct {
	StoreCode string    `gorm:"column:store_code;primaryKey"`
	Name      string    `gorm:"column:name;not null;default:''"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}
