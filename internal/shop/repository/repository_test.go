package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brandseal/brandseal/internal/clock"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

func setupRepo(t *testing.T) (shopdomain.Repository, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&shopdomain.ShopBillingRecord{}, &shopdomain.ShopSettings{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewRepository(db, zap.NewNop(), node, clk), clk
}

func createShop(t *testing.T, repo shopdomain.Repository, shopID string) {
	t.Helper()
	billing := &shopdomain.ShopBillingRecord{ShopID: shopID, ShopDomain: shopID + ".example.com"}
	settings := &shopdomain.ShopSettings{ShopID: shopID}
	require.NoError(t, repo.CreateShop(context.Background(), billing, settings))
}

func TestCreateShop_DuplicateReturnsShopExists(t *testing.T) {
	repo, _ := setupRepo(t)
	createShop(t, repo, "shop-1")

	err := repo.CreateShop(context.Background(),
		&shopdomain.ShopBillingRecord{ShopID: "shop-1", ShopDomain: "other.example.com"},
		&shopdomain.ShopSettings{ShopID: "shop-1"},
	)
	assert.ErrorIs(t, err, shopdomain.ErrShopExists)
}

func TestFindBilling_UnknownShop(t *testing.T) {
	repo, _ := setupRepo(t)
	_, err := repo.FindBilling(context.Background(), "missing")
	assert.ErrorIs(t, err, shopdomain.ErrShopNotFound)
}

func TestLockTrial_OnlyFirstWriteWins(t *testing.T) {
	repo, clk := setupRepo(t)
	createShop(t, repo, "shop-1")

	first := clk.Now().Add(7 * 24 * time.Hour)
	locked, err := repo.LockTrial(context.Background(), "shop-1", first)
	require.NoError(t, err)
	assert.True(t, locked)

	second := clk.Now().Add(30 * 24 * time.Hour)
	locked, err = repo.LockTrial(context.Background(), "shop-1", second)
	require.NoError(t, err)
	assert.False(t, locked)

	billing, err := repo.FindBilling(context.Background(), "shop-1")
	require.NoError(t, err)
	require.NotNil(t, billing.TrialEndsAt)
	assert.Equal(t, first, billing.TrialEndsAt.UTC())
	assert.True(t, billing.TrialEverStarted)
}

func TestUpdateProcessStatus_VersionGate(t *testing.T) {
	repo, _ := setupRepo(t)
	createShop(t, repo, "shop-1")

	status := shopdomain.ProcessStatus{
		State:       shopdomain.ProcessStateProcessing,
		OperationID: "op-1",
	}
	require.NoError(t, repo.UpdateProcessStatus(context.Background(), "shop-1", 0, status))

	// same expected version again loses the race
	err := repo.UpdateProcessStatus(context.Background(), "shop-1", 0, status)
	assert.ErrorIs(t, err, shopdomain.ErrStaleSettings)

	settings, err := repo.FindSettings(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), settings.Version)
	assert.Equal(t, shopdomain.ProcessStateProcessing, settings.Status.State)
	assert.Equal(t, "op-1", settings.Status.OperationID)
}

func TestUpdateProcessStatus_UnknownShop(t *testing.T) {
	repo, _ := setupRepo(t)
	err := repo.UpdateProcessStatus(context.Background(), "missing", 0, shopdomain.ProcessStatus{
		State: shopdomain.ProcessStateIdle,
	})
	assert.ErrorIs(t, err, shopdomain.ErrShopNotFound)
}

func TestUpdateActivation_SnapshotsConfig(t *testing.T) {
	repo, _ := setupRepo(t)
	createShop(t, repo, "shop-1")

	cfg := shopdomain.ActiveConfig{
		Selection:    shopdomain.SelectionAll,
		FeaturedOnly: true,
		Watermark:    shopdomain.WatermarkConfig{OpacityPercent: 40, Position: "bottom-right", ScalePercent: 20},
	}
	status := shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-1"}
	require.NoError(t, repo.UpdateActivation(context.Background(), "shop-1", 0, true, cfg, status))

	settings, err := repo.FindSettings(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.True(t, settings.IsActive)
	assert.Equal(t, cfg, settings.ActiveConfig.Data())
	assert.Equal(t, int64(1), settings.Version)
}

func TestIncrementMarkedImages(t *testing.T) {
	repo, _ := setupRepo(t)
	createShop(t, repo, "shop-1")

	require.NoError(t, repo.IncrementMarkedImages(context.Background(), "shop-1", 12))
	require.NoError(t, repo.IncrementMarkedImages(context.Background(), "shop-1", 5))
	require.NoError(t, repo.IncrementMarkedImages(context.Background(), "shop-1", 0))

	billing, err := repo.FindBilling(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(17), billing.MarkedImagesCount)

	err = repo.IncrementMarkedImages(context.Background(), "missing", 3)
	assert.ErrorIs(t, err, shopdomain.ErrShopNotFound)
}
