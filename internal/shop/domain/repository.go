package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrShopNotFound = errors.New("shop_not_found")
	// ErrStaleSettings signals that the optimistic version check failed: a
	// concurrent writer advanced the settings record first.
	ErrStaleSettings = errors.New("stale_shop_settings")
	ErrShopExists    = errors.New("shop_exists")
)

// Repository owns all reads and writes of ShopBillingRecord and ShopSettings.
// No other component mutates these rows directly.
type Repository interface {
	CreateShop(ctx context.Context, billing *ShopBillingRecord, settings *ShopSettings) error
	FindBilling(ctx context.Context, shopID string) (*ShopBillingRecord, error)
	FindSettings(ctx context.Context, shopID string) (*ShopSettings, error)

	// LockTrial sets trialEverStarted and trialEndsAt exactly once. Returns
	// false when the trial window was already locked; the stored value wins.
	LockTrial(ctx context.Context, shopID string, endsAt time.Time) (bool, error)

	SetPaidUser(ctx context.Context, shopID string, paid bool) error
	ClearStarterPlan(ctx context.Context, shopID string) error
	SetLedgerToken(ctx context.Context, shopID, token string) error

	// IncrementMarkedImages adds delta to the lifetime counter. The counter is
	// monotonically non-decreasing; callers never write it directly.
	IncrementMarkedImages(ctx context.Context, shopID string, delta int64) error

	// UpdateProcessStatus replaces the live ProcessStatus iff the stored
	// version still equals expectedVersion. Returns ErrStaleSettings otherwise.
	UpdateProcessStatus(ctx context.Context, shopID string, expectedVersion int64, status ProcessStatus) error

	// UpdateActivation snapshots the active config and status together under
	// the same version check, for the enable/disable transitions.
	UpdateActivation(ctx context.Context, shopID string, expectedVersion int64, active bool, cfg ActiveConfig, status ProcessStatus) error
}
