package stock

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

func TestAdjustStockZeroDeltaSkipsStorage(t *testing.T) {
	store := &recordingStore{}
	acc := newAccessor(t, store, Policy{})

	res, err := acc.AdjustStock(context.Background(), "S1", "A", 0, false)
	require.NoError(t, err)
	require.Equal(t, AdjustSkipped, res)
	require.Zero(t, store.calls)

	res, err = acc.AdjustStock(context.Background(), "S1", "A", 0, true)
	require.NoError(t, err)
	require.Equal(t, AdjustApplied, res)
	require.Equal(t, 1, store.calls)
}

func TestAdjustStockPassesPolicy(t *testing.T) {
	store := &recordingStore{reject: true}
	acc := newAccessor(t, store, Policy{AllowNegative: true})

	res, err := acc.AdjustStock(context.Background(), "S1", "A", -4, false)
	require.NoError(t, err)
	require.Equal(t, AdjustPolicyRejected, res)
	require.True(t, store.lastAllowNegative)
}

func TestAdjustStockWrapsStorageErrors(t *testing.T) {
	boom := errors.New("disk full")
	acc := newAccessor(t, &recordingStore{err: boom}, Policy{})

	res, err := acc.AdjustStock(context.Background(), "S1", "A", 1, false)
	require.ErrorIs(t, err, boom)
	require.Equal(t, AdjustFailed, res)
}

func TestAdjustStockReportsOutOfRange(t *testing.T) {
	repo := NewGormRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertQuantity(ctx, "S1", "A", math.MaxInt32))
	acc := newAccessor(t, repo, Policy{AllowNegative: true})

	res, err := acc.AdjustStock(ctx, "S1", "A", 10, true)
	require.NoError(t, err)
	require.Equal(t, AdjustOutOfRange, res)
	qty, err := acc.Quantity(ctx, "S1", "A")
	require.NoError(t, err)
	require.Equal(t, int32(math.MaxInt32), qty)

	strict := newAccessor(t, repo, Policy{})
	res, err = strict.AdjustStock(ctx, "S1", "A", math.MinInt32, true)
	require.NoError(t, err)
	require.Equal(t, AdjustPolicyRejected, res)
}

func TestAccessorAgainstDatabase(t *testing.T) {
	repo := NewGormRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.UpsertQuantity(ctx, "S1", "A", 10))

	strict := newAccessor(t, repo, Policy{})
	res, err := strict.AdjustStock(ctx, "S1", "A", -15, true)
	require.NoError(t, err)
	require.Equal(t, AdjustPolicyRejected, res)
	qty, err := strict.Quantity(ctx, "S1", "A")
	require.NoError(t, err)
	require.Equal(t, int32(10), qty)

	lenient := newAccessor(t, repo, Policy{AllowNegative: true})
	res, err = lenient.AdjustStock(ctx, "S1", "A", -15, true)
	require.NoError(t, err)
	require.Equal(t, AdjustApplied, res)
	qty, err = lenient.Quantity(ctx, "S1", "A")
	require.NoError(t, err)
	require.Equal(t, int32(-5), qty)
}

func TestRecordAdjustment(t *testing.T) {
	repo := NewGormRepository(newTestDB(t))
	acc := newAccessor(t, repo, Policy{})
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	acc.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, acc.RecordAdjustment(ctx, "S1", "A", 0, " recount ", nil))
	occurred := fixed.Add(-time.Hour)
	require.NoError(t, acc.RecordAdjustment(ctx, "S1", "A", -2, "damaged", &occurred))

	rows, err := acc.ListAdjustments(ctx, AdjustmentFilter{StoreCode: "S1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "recount", rows[0].Reason)
	require.True(t, rows[0].OccurredAt.Equal(fixed))
	require.Equal(t, int32(-2), rows[1].Delta)
	require.True(t, rows[1].OccurredAt.Equal(occurred))
}

func TestNewAccessorRequiresStores(t *testing.T) {
	_, err := NewAccessor(nil, &recordingStore{}, Policy{})
	require.Error(t, err)
	_, err = NewAccessor(&recordingStore{}, nil, Policy{})
	require.Error(t, err)
}

func TestAdjustResultString(t *testing.T) {
	require.Equal(t, "applied", AdjustApplied.String())
	require.Equal(t, "skipped", AdjustSkipped.String())
	require.Equal(t, "policy_rejected", AdjustPolicyRejected.String())
	require.Equal(t, "out_of_range", AdjustOutOfRange.String())
	require.Equal(t, "failed", AdjustFailed.String())
	require.Equal(t, "unknown", AdjustResult(42).String())
}

func newAccessor(t *testing.T, store interface {
	QuantityStore
	AuditStore
}, policy Policy) *Accessor {
	t.Helper()
	acc, err := NewAccessor(store, store, policy)
	require.NoError(t, err)
	return acc
}

type recordingStore struct {
	calls             int
	reject            bool
	err               error
	lastAllowNegative bool
}

func (s *recordingStore) GetQuantity(context.Context, string, string) (int32, error) {
	return 0, s.err
}

func (s *recordingStore) ApplyDelta(_ context.Context, _, _ string, _ int32, allowNegative bool) (bool, error) {
	s.calls++
	s.lastAllowNegative = allowNegative
	if s.err != nil {
		return false, s.err
	}
	return !s.reject, nil
}

func (s *recordingStore) SaveAdjustmentRecord(context.Context, *models.StockAdjustment) error {
	return s.err
}

func (s *recordingStore) ListAdjustments(context.Context, AdjustmentFilter) ([]models.StockAdjustment, error) {
	return nil, s.err
}
