// Package stock owns stock-line quantities and the adjustment audit trail.
package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// Policy holds the tunable stock rules.
type Policy struct {
	// AllowNegative lets a line drop below zero.
	AllowNegative bool
}

// AdjustResult reports what AdjustStock did.
type AdjustResult int

// AdjustFailed is the zero value and accompanies every error.
const (
	AdjustFailed AdjustResult = iota
	AdjustApplied
	AdjustSkipped
	AdjustPolicyRejected
	// AdjustOutOfRange means the new quantity would not fit in an int32.
	AdjustOutOfRange
)

func (r AdjustResult) String() string {
	switch r {
	case AdjustFailed:
		return "failed"
	case AdjustApplied:
		return "applied"
	case AdjustSkipped:
		return "skipped"
	case AdjustPolicyRejected:
		return "policy_rejected"
	case AdjustOutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// Accessor applies deltas under the configured policy and keeps the audit trail.
type Accessor struct {
	store  QuantityStore
	audit  AuditStore
	policy Policy
	now    func() time.Time
}

func NewAccessor(store QuantityStore, audit AuditStore, policy Policy) (*Accessor, error) {
	if store == nil {
		return nil, errors.New("quantity store is required")
	}
	if audit == nil {
		return nil, errors.New("audit store is required")
	}
	return &Accessor{store: store, audit: audit, policy: policy, now: time.Now}, nil
}

// Policy returns the rules this accessor enforces.
func (a *Accessor) Policy() Policy {
	return a.policy
}

// AdjustStock adds delta to the line for storeCode/sku. A zero delta is skipped
// without touching storage unless allowZeroDelta is set. When the store refuses
// the write, the current quantity decides between AdjustOutOfRange and
// AdjustPolicyRejected.
func (a *Accessor) AdjustStock(ctx context.Context, storeCode, sku string, delta int32, allowZeroDelta bool) (AdjustResult, error) {
	if delta == 0 && !allowZeroDelta {
		return AdjustSkipped, nil
	}
	applied, err := a.store.ApplyDelta(ctx, storeCode, sku, delta, a.policy.AllowNegative)
	if err != nil {
		return AdjustFailed, fmt.Errorf("apply delta %d to %s/%s: %w", delta, storeCode, sku, err)
	}
	if applied {
		return AdjustApplied, nil
	}

	current, err := a.store.GetQuantity(ctx, storeCode, sku)
	if err != nil {
		return AdjustFailed, fmt.Errorf("read %s/%s after refused delta: %w", storeCode, sku, err)
	}
	if sum := int64(current) + int64(delta); sum > math.MaxInt32 || sum < math.MinInt32 {
		return AdjustOutOfRange, nil
	}
	return AdjustPolicyRejected, nil
}

// RecordAdjustment appends an audit row. A nil occurredAt is stamped with the
// current time.
func (a *Accessor) RecordAdjustment(ctx context.Context, storeCode, sku string, delta int32, reason string, occurredAt *time.Time) error {
	at := a.now().UTC()
	if occurredAt != nil && !occurredAt.IsZero() {
		at = occurredAt.UTC()
	}
	record := &models.StockAdjustment{
		ID:         uuid.New(),
		StoreCode:  storeCode,
		SKU:        sku,
		Delta:      delta,
		Reason:     strings.TrimSpace(reason),
		OccurredAt: at,
	}
	if err := a.audit.SaveAdjustmentRecord(ctx, record); err != nil {
		return fmt.Errorf("save adjustment for %s/%s: %w", storeCode, sku, err)
	}
	return nil
}

// Quantity returns the current quantity; an unknown line is zero.
func (a *Accessor) Quantity(ctx context.Context, storeCode, sku string) (int32, error) {
	return a.store.GetQuantity(ctx, storeCode, sku)
}

func (a *Accessor) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]models.StockAdjustment, error) {
	return a.audit.ListAdjustments(ctx, filter)
}
