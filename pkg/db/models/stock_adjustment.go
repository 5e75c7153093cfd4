package models

import (
	"time"

	"github.com/google/uuid"
)

// StockAdjustment is an append-only audit entry for an accepted adjustment.
type StockAdjustment struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StoreCode  string    `gorm:"column:store_code;not null;index:idx_stock_adjustments_store_sku,priority:1"`
	SKU        string    `gorm:"column:sku;not null;index:idx_stock_adjustments_store_sku,priority:2"`
	Delta      int32     `gorm:"column:delta;not null"`
	Reason     string    `gorm:"column:reason;not null;default:''"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
