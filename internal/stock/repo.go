package stock

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/pagination"
)

// QuantityStore reads and mutates stock lines.
type QuantityStore interface {
	GetQuantity(ctx context.Context, storeCode, sku string) (int32, error)
	ApplyDelta(ctx context.Context, storeCode, sku string, delta int32, allowNegative bool) (bool, error)
}

// AuditStore keeps the append-only adjustment history.
type AuditStore interface {
	SaveAdjustmentRecord(ctx context.Context, record *models.StockAdjustment) error
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]models.StockAdjustment, error)
}

// AdjustmentFilter narrows ListAdjustments. Empty fields match everything.
// After resumes strictly past a previously returned row.
type AdjustmentFilter struct {
	StoreCode string
	SKU       string
	Limit     int
	After     *pagination.Cursor
}

// GormRepository implements QuantityStore and AuditStore on stock_lines and
// stock_adjustments.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// GetQuantity returns the stored quantity, or zero when no line exists.
func (r *GormRepository) GetQuantity(ctx context.Context, storeCode, sku string) (int32, error) {
	var line models.StockLine
	err := r.db.WithContext(ctx).
		Where("store_code = ? AND sku = ?", storeCode, sku).
		Take(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return line.Quantity, nil
}

// UpsertQuantity overwrites the quantity of a line, creating it if needed.
func (r *GormRepository) UpsertQuantity(ctx context.Context, storeCode, sku string, quantity int32) error {
	line := models.StockLine{StoreCode: storeCode, SKU: sku, Quantity: quantity, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_code"}, {Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(&line).Error
}

// ApplyDelta adds delta to a line in one statement and reports whether a row
// was written. Without allowNegative the write only happens when the result
// stays at or above zero; a missing line counts as zero. A result outside the
// int32 range is never written. Sums are widened to BIGINT so Postgres does
// not raise an integer overflow before the guard is evaluated.
func (r *GormRepository) ApplyDelta(ctx context.Context, storeCode, sku string, delta int32, allowNegative bool) (bool, error) {
	now := time.Now().UTC()
	db := r.db.WithContext(ctx)

	if delta < 0 && !allowNegative {
		res := db.Model(&models.StockLine{}).
			Where("store_code = ? AND sku = ? AND CAST(quantity AS BIGINT) + ? >= 0", storeCode, sku, delta).
			Updates(map[string]any{
				"quantity":   gorm.Expr("quantity + ?", delta),
				"updated_at": now,
			})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	}

	guards := []clause.Expression{
		gorm.Expr("CAST(stock_lines.quantity AS BIGINT) + excluded.quantity BETWEEN ? AND ?", int64(math.MinInt32), int64(math.MaxInt32)),
	}
	if !allowNegative {
		// A line that is already negative must not be touched by a delta that
		// leaves it negative.
		guards = append(guards, gorm.Expr("CAST(stock_lines.quantity AS BIGINT) + excluded.quantity >= 0"))
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "store_code"}, {Name: "sku"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("stock_lines.quantity + excluded.quantity"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
		Where: clause.Where{Exprs: guards},
	}

	line := models.StockLine{StoreCode: storeCode, SKU: sku, Quantity: delta, UpdatedAt: now}
	res := db.Clauses(conflict).Create(&line)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveAdjustmentRecord appends an audit row.
func (r *GormRepository) SaveAdjustmentRecord(ctx context.Context, record *models.StockAdjustment) error {
	if record == nil {
		return errors.New("adjustment record is required")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// ListAdjustments returns audit rows newest first, ordered by occurred_at then id.
func (r *GormRepository) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]models.StockAdjustment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	q := r.db.WithContext(ctx).Model(&models.StockAdjustment{})
	if filter.StoreCode != "" {
		q = q.Where("store_code = ?", filter.StoreCode)
	}
	if filter.SKU != "" {
		q = q.Where("sku = ?", filter.SKU)
	}
	if c := filter.After; c != nil {
		at := c.At.UTC()
		q = q.Where("occurred_at < ? OR (occurred_at = ? AND id < ?)", at, at, c.ID)
	}
	var rows []models.StockAdjustment
	if err := q.Order("occurred_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
