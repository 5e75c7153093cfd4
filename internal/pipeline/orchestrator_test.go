package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/internal/catalog"
	"github.com/angelmondragon/stockledger/internal/dedup"
	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/internal/stock"
	"github.com/angelmondragon/stockledger/internal/validation"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

const (
	storeCode = "STORE001"
	skuA      = "SKU001"
	skuB      = "SKU002"
)

func TestSalesDecrementsStock(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 100)

	outcome, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 10)), events.At("sales", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)
	h.requireQuantity(storeCode, skuA, 90)
	h.requireMarkers(1)
}

func TestSalesRedeliveryIsSkipped(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 100)
	coords := events.At("sales", 0, 1)

	_, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 10)), coords)
	require.NoError(t, err)
	outcome, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 10)), coords)
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeDuplicateSkipped, outcome)
	h.requireQuantity(storeCode, skuA, 90)
	h.requireMarkers(1)
}

func TestSalesPartialApplication(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 5)
	h.seedStock(storeCode, skuB, 5)

	e := sale(item(skuA, 2), &events.SalesItem{SKU: events.Ptr(skuB), Quantity: nil})
	outcome, err := h.orch.HandleSales(context.Background(), e, events.At("sales", 0, 2))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)
	require.Equal(t, []string{skuA}, h.stock.adjusted)
	h.requireQuantity(storeCode, skuA, 3)
	h.requireQuantity(storeCode, skuB, 5)
}

func TestSalesSkipsInactiveProducts(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedProduct("OFF", false)
	h.seedProduct("UNSET", true)
	require.NoError(t, h.db.Model(&models.Product{}).Where("sku = ?", "UNSET").Update("active", nil).Error)

	outcome, err := h.orch.HandleSales(context.Background(), sale(item("OFF", 1), item("UNSET", 1), item("GHOST", 1)), events.At("sales", 0, 3))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)
	require.Empty(t, h.stock.adjusted)
	h.requireMarkers(1)
}

func TestSalesUnknownStoreDropsEvent(t *testing.T) {
	h := newHarness(t, stock.Policy{})

	e := events.SalesEvent{StoreCode: events.Ptr("NOPE"), Items: []*events.SalesItem{item(skuA, 1)}}
	outcome, err := h.orch.HandleSales(context.Background(), e, events.At("sales", 0, 4))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)
	require.Empty(t, h.stock.adjusted)
	h.requireMarkers(1)
}

func TestSalesPolicyRejection(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 1)

	outcome, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 3)), events.At("sales", 0, 5))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomePolicyRejected, outcome)
	h.requireQuantity(storeCode, skuA, 1)
}

func TestSalesMalformedEvent(t *testing.T) {
	h := newHarness(t, stock.Policy{})

	outcome, err := h.orch.HandleSales(context.Background(), events.SalesEvent{StoreCode: events.Ptr(storeCode)}, events.At("sales", 0, 6))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)
	h.requireMarkers(1)
}

func TestStockAdjustmentNegativePolicy(t *testing.T) {
	for _, tc := range []struct {
		name    string
		policy  stock.Policy
		want    int32
		outcome enums.Outcome
	}{
		{name: "forbidden", policy: stock.Policy{AllowNegative: false}, want: 10, outcome: enums.OutcomePolicyRejected},
		{name: "allowed", policy: stock.Policy{AllowNegative: true}, want: -5, outcome: enums.OutcomeApplied},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.policy)
			h.seedStock(storeCode, skuA, 10)

			outcome, err := h.orch.HandleStockAdjustment(context.Background(), adjustment(skuA, -15), events.At("stock", 0, 1))
			require.NoError(t, err)
			require.Equal(t, tc.outcome, outcome)
			h.requireQuantity(storeCode, skuA, tc.want)
			h.requireAdjustments(1)
		})
	}
}

func TestStockAdjustmentAtInt32Boundary(t *testing.T) {
	h := newHarness(t, stock.Policy{AllowNegative: true})
	h.seedStock(storeCode, skuA, math.MaxInt32)
	h.seedStock(storeCode, skuB, math.MinInt32+5)

	outcome, err := h.orch.HandleStockAdjustment(context.Background(), adjustment(skuA, 10), events.At("stock", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomePolicyRejected, outcome)
	h.requireQuantity(storeCode, skuA, math.MaxInt32)
	h.requireAdjustments(1)

	outcome, err = h.orch.HandleSales(context.Background(), sale(item(skuB, 6)), events.At("sales", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomePolicyRejected, outcome)
	h.requireQuantity(storeCode, skuB, math.MinInt32+5)

	outcome, err = h.orch.HandleStockAdjustment(context.Background(), adjustment(skuA, -1), events.At("stock", 0, 2))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)
	h.requireQuantity(storeCode, skuA, math.MaxInt32-1)
}

func TestStockAdjustmentUnknownStore(t *testing.T) {
	h := newHarness(t, stock.Policy{})

	e := adjustment(skuA, 5)
	e.StoreCode = events.Ptr("MISSING")
	outcome, err := h.orch.HandleStockAdjustment(context.Background(), e, events.At("stock", 0, 2))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)
	h.requireAdjustments(0)
	h.requireMarkers(1)

	var lines int64
	require.NoError(t, h.db.Model(&models.StockLine{}).Count(&lines).Error)
	require.Zero(t, lines)
}

func TestStockAdjustmentZeroDeltaIsAudited(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 7)

	outcome, err := h.orch.HandleStockAdjustment(context.Background(), adjustment(skuA, 0), events.At("stock", 0, 3))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)
	h.requireQuantity(storeCode, skuA, 7)
	h.requireAdjustments(1)
	require.Equal(t, []string{skuA}, h.stock.adjusted)
}

func TestStockAdjustmentUsesEventTimestamp(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	e := adjustment(skuA, 4)
	e.Timestamp = &at

	_, err := h.orch.HandleStockAdjustment(context.Background(), e, events.At("stock", 0, 4))
	require.NoError(t, err)

	var rec models.StockAdjustment
	require.NoError(t, h.db.Take(&rec).Error)
	require.True(t, rec.OccurredAt.Equal(at))
	require.Equal(t, "recount", rec.Reason)
}

func TestEventIDDedupAcrossOffsets(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 20)
	e := adjustment(skuA, -1)
	e.EventID = events.Ptr("adj-1")

	_, err := h.orch.HandleStockAdjustment(context.Background(), e, events.At("stock", 0, 10))
	require.NoError(t, err)
	outcome, err := h.orch.HandleStockAdjustment(context.Background(), e, events.At("stock", 1, 77))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeDuplicateSkipped, outcome)
	h.requireQuantity(storeCode, skuA, 19)
}

func TestNoCoordinatesAlwaysApplies(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 10)

	for i := 0; i < 2; i++ {
		outcome, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), events.Coordinates{})
		require.NoError(t, err)
		require.Equal(t, enums.OutcomeApplied, outcome)
	}
	h.requireQuantity(storeCode, skuA, 8)
	h.requireMarkers(0)
}

func TestProductAndStorePipelines(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	ctx := context.Background()

	outcome, err := h.orch.Route(ctx, events.ProductEvent{SKU: events.Ptr("NEW"), Active: events.Ptr(true)}, events.At("products", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)
	exists, err := catalog.NewRepository(h.db).ProductExists(ctx, "NEW")
	require.NoError(t, err)
	require.True(t, exists)

	outcome, err = h.orch.Route(ctx, events.ProductEvent{}, events.At("products", 0, 2))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)

	outcome, err = h.orch.Route(ctx, events.StoreEvent{StoreCode: events.Ptr("S9"), Name: "Ninth"}, events.At("stores", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeApplied, outcome)

	outcome, err = h.orch.Route(ctx, events.StoreEvent{}, events.At("stores", 0, 2))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeValidationRejected, outcome)

	outcome, err = h.orch.Route(ctx, events.StoreEvent{StoreCode: events.Ptr("S9")}, events.At("stores", 0, 1))
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeDuplicateSkipped, outcome)
}

func TestRouteRejectsNil(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	_, err := h.orch.Route(context.Background(), nil, events.Coordinates{})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeDecode, pkgerrors.As(err).Code())
}

func TestStorageFaultPropagates(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	boom := errors.New("connection reset")
	h.stock.err = boom
	h.seedStock(storeCode, skuA, 10)

	_, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), events.At("sales", 0, 9))
	require.ErrorIs(t, err, boom)
	require.True(t, pkgerrors.IsRetryable(err))
}

func TestFaultAfterMarkerIsNotRecoveredByRedelivery(t *testing.T) {
	h := newHarness(t, stock.Policy{})
	h.seedStock(storeCode, skuA, 10)
	coords := events.At("sales", 0, 11)

	h.stock.err = errors.New("connection reset")
	_, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), coords)
	require.Error(t, err)
	h.requireMarkers(1)

	h.stock.err = nil
	outcome, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), coords)
	require.NoError(t, err)
	require.Equal(t, enums.OutcomeDuplicateSkipped, outcome)
	h.requireQuantity(storeCode, skuA, 10)
}

func TestOutcomesAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarnessWithMetrics(t, stock.Policy{}, metrics.NewPipelineMetrics(reg))
	h.seedStock(storeCode, skuA, 10)

	_, err := h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), events.At("sales", 0, 1))
	require.NoError(t, err)
	_, err = h.orch.HandleSales(context.Background(), sale(item(skuA, 1)), events.At("sales", 0, 1))
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "stockledger_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					counts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, float64(1), counts["applied"])
	require.Equal(t, float64(1), counts["duplicate_skipped"])
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

type harness struct {
	t     *testing.T
	db    *gorm.DB
	orch  *Orchestrator
	stock *countingAccessor
}

func newHarness(t *testing.T, policy stock.Policy) *harness {
	return newHarnessWithMetrics(t, policy, nil)
}

func newHarnessWithMetrics(t *testing.T, policy stock.Policy, m *metrics.PipelineMetrics) *harness {
	t.Helper()
	conn := newTestDB(t)

	ledger, err := dedup.NewLedger(dedup.NewGormStore(conn))
	require.NoError(t, err)
	cat := catalog.NewRepository(conn)
	v, err := validation.New(cat)
	require.NoError(t, err)
	repo := stock.NewGormRepository(conn)
	acc, err := stock.NewAccessor(repo, repo, policy)
	require.NoError(t, err)
	counting := &countingAccessor{inner: acc}

	orch, err := New(Deps{
		Dedup:     ledger,
		Validator: v,
		Stock:     counting,
		Catalog:   cat,
		Logger:    logger.New(logger.Options{ServiceName: "pipeline-test", Output: io.Discard}),
		Metrics:   m,
	})
	require.NoError(t, err)

	h := &harness{t: t, db: conn, orch: orch, stock: counting}
	ctx := context.Background()
	require.NoError(t, cat.UpsertStore(ctx, storeCode, "Main"))
	h.seedProduct(skuA, true)
	h.seedProduct(skuB, true)
	return h
}

func (h *harness) seedProduct(sku string, active bool) {
	h.t.Helper()
	require.NoError(h.t, catalog.NewRepository(h.db).UpsertProduct(context.Background(), sku, sku, &active))
}

func (h *harness) seedStock(store, sku string, qty int32) {
	h.t.Helper()
	require.NoError(h.t, stock.NewGormRepository(h.db).UpsertQuantity(context.Background(), store, sku, qty))
}

func (h *harness) requireQuantity(store, sku string, want int32) {
	h.t.Helper()
	got, err := stock.NewGormRepository(h.db).GetQuantity(context.Background(), store, sku)
	require.NoError(h.t, err)
	require.Equal(h.t, want, got)
}

func (h *harness) requireMarkers(want int64) {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.ProcessedEvent{}).Count(&n).Error)
	require.Equal(h.t, want, n)
}

func (h *harness) requireAdjustments(want int64) {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.StockAdjustment{}).Count(&n).Error)
	require.Equal(h.t, want, n)
}

type countingAccessor struct {
	inner    *stock.Accessor
	adjusted []string
	err      error
}

func (c *countingAccessor) AdjustStock(ctx context.Context, store, sku string, delta int32, allowZero bool) (stock.AdjustResult, error) {
	if c.err != nil {
		return stock.AdjustFailed, c.err
	}
	c.adjusted = append(c.adjusted, sku)
	return c.inner.AdjustStock(ctx, store, sku, delta, allowZero)
}

func (c *countingAccessor) RecordAdjustment(ctx context.Context, store, sku string, delta int32, reason string, at *time.Time) error {
	if c.err != nil {
		return c.err
	}
	return c.inner.RecordAdjustment(ctx, store, sku, delta, reason, at)
}

func sale(items ...*events.SalesItem) events.SalesEvent {
	return events.SalesEvent{StoreCode: events.Ptr(storeCode), Items: items}
}

func item(sku string, qty int32) *events.SalesItem {
	return &events.SalesItem{SKU: events.Ptr(sku), Quantity: events.Ptr(qty)}
}

func adjustment(sku string, delta int32) events.StockAdjustmentEvent {
	return events.StockAdjustmentEvent{
		StoreCode: events.Ptr(storeCode),
		SKU:       events.Ptr(sku),
		Delta:     delta,
		Reason:    "recount",
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:pipeline_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}
