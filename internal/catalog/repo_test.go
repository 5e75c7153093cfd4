package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

func TestStoreUpsertAndExists(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	exists, err := repo.StoreExists(ctx, "S1")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, repo.UpsertStore(ctx, "S1", "Main Street"))
	exists, err = repo.StoreExists(ctx, "S1")
	require.NoError(t, err)
	require.True(t, exists)

	// A nameless update keeps the stored name.
	require.NoError(t, repo.UpsertStore(ctx, "S1", ""))
	store, err := repo.FindStore(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, "Main Street", store.Name)

	require.Error(t, repo.UpsertStore(ctx, " ", "blank"))
}

func TestProductUpsertAndActiveFlag(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	flag, err := repo.GetActiveFlag(ctx, "A")
	require.NoError(t, err)
	require.Nil(t, flag, "unknown product has no flag")

	require.NoError(t, repo.UpsertProduct(ctx, "A", "Apples", nil))
	exists, err := repo.ProductExists(ctx, "A")
	require.NoError(t, err)
	require.True(t, exists)

	flag, err = repo.GetActiveFlag(ctx, "A")
	require.NoError(t, err)
	require.Nil(t, flag, "flag never set")

	active := true
	require.NoError(t, repo.UpsertProduct(ctx, "A", "", &active))
	flag, err = repo.GetActiveFlag(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, flag)
	require.True(t, *flag)

	inactive := false
	require.NoError(t, repo.UpsertProduct(ctx, "A", "Green Apples", &inactive))
	flag, err = repo.GetActiveFlag(ctx, "A")
	require.NoError(t, err)
	require.False(t, *flag)

	var row models.Product
	require.NoError(t, repo.db.Where("sku = ?", "A").Take(&row).Error)
	require.Equal(t, "Green Apples", row.Name)

	require.Error(t, repo.UpsertProduct(ctx, "", "nameless", nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:catalog_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}
