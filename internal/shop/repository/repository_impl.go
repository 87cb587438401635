package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brandseal/brandseal/internal/clock"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	"github.com/brandseal/brandseal/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewRepository(conn *gorm.DB, log *zap.Logger, genID *snowflake.Node, clk clock.Clock) shopdomain.Repository {
	return &Repository{
		db:    conn,
		log:   log.Named("shop.repository"),
		genID: genID,
		clock: clk,
	}
}

func (r *Repository) CreateShop(ctx context.Context, billing *shopdomain.ShopBillingRecord, settings *shopdomain.ShopSettings) error {
	now := r.clock.Now()
	if billing.ID == 0 {
		billing.ID = r.genID.Generate()
	}
	if settings.ID == 0 {
		settings.ID = r.genID.Generate()
	}
	billing.CreatedAt = now
	billing.UpdatedAt = now
	settings.CreatedAt = now
	settings.UpdatedAt = now
	if settings.Status.State == "" {
		settings.Status.State = shopdomain.ProcessStateIdle
	}
	settings.Status.UpdatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(billing).Error; err != nil {
			return err
		}
		return tx.Create(settings).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return shopdomain.ErrShopExists
		}
		return err
	}
	return nil
}

func (r *Repository) FindBilling(ctx context.Context, shopID string) (*shopdomain.ShopBillingRecord, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return nil, shopdomain.ErrShopNotFound
	}
	var record shopdomain.ShopBillingRecord
	err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shopdomain.ErrShopNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) FindSettings(ctx context.Context, shopID string) (*shopdomain.ShopSettings, error) {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return nil, shopdomain.ErrShopNotFound
	}
	var record shopdomain.ShopSettings
	err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shopdomain.ErrShopNotFound
		}
		return nil, err
	}
	return &record, nil
}

// LockTrial only writes when trial_ever_started is still false, so concurrent
// evaluations racing to lock in a trial leave exactly one stored window.
func (r *Repository) LockTrial(ctx context.Context, shopID string, endsAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&shopdomain.ShopBillingRecord{}).
		Where("shop_id = ? AND trial_ever_started = ?", shopID, false).
		Updates(map[string]any{
			"trial_ever_started": true,
			"trial_ends_at":      endsAt.UTC(),
			"updated_at":         r.clock.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) SetPaidUser(ctx context.Context, shopID string, paid bool) error {
	return r.db.WithContext(ctx).
		Model(&shopdomain.ShopBillingRecord{}).
		Where("shop_id = ?", shopID).
		Updates(map[string]any{
			"is_paid_user": paid,
			"updated_at":   r.clock.Now(),
		}).Error
}

func (r *Repository) ClearStarterPlan(ctx context.Context, shopID string) error {
	return r.db.WithContext(ctx).
		Model(&shopdomain.ShopBillingRecord{}).
		Where("shop_id = ?", shopID).
		Updates(map[string]any{
			"starter_plan_user": false,
			"is_paid_user":      false,
			"updated_at":        r.clock.Now(),
		}).Error
}

func (r *Repository) SetLedgerToken(ctx context.Context, shopID, token string) error {
	return r.db.WithContext(ctx).
		Model(&shopdomain.ShopBillingRecord{}).
		Where("shop_id = ?", shopID).
		Updates(map[string]any{
			"ledger_token": token,
			"updated_at":   r.clock.Now(),
		}).Error
}

func (r *Repository) IncrementMarkedImages(ctx context.Context, shopID string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&shopdomain.ShopBillingRecord{}).
		Where("shop_id = ?", shopID).
		Updates(map[string]any{
			"marked_images_count": gorm.Expr("marked_images_count + ?", delta),
			"updated_at":          r.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shopdomain.ErrShopNotFound
	}
	return nil
}

func (r *Repository) UpdateProcessStatus(ctx context.Context, shopID string, expectedVersion int64, status shopdomain.ProcessStatus) error {
	now := r.clock.Now()
	status.UpdatedAt = now
	result := r.db.WithContext(ctx).
		Model(&shopdomain.ShopSettings{}).
		Where("shop_id = ? AND version = ?", shopID, expectedVersion).
		Updates(map[string]any{
			"process_state":         status.State,
			"process_operation_id":  status.OperationID,
			"process_planned_count": status.PlannedCount,
			"process_updated_at":    status.UpdatedAt,
			"version":               expectedVersion + 1,
			"updated_at":            now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.classifyStale(ctx, shopID)
	}
	return nil
}

func (r *Repository) UpdateActivation(ctx context.Context, shopID string, expectedVersion int64, active bool, cfg shopdomain.ActiveConfig, status shopdomain.ProcessStatus) error {
	now := r.clock.Now()
	status.UpdatedAt = now
	snapshot := datatypes.NewJSONType(cfg)
	result := r.db.WithContext(ctx).
		Model(&shopdomain.ShopSettings{}).
		Where("shop_id = ? AND version = ?", shopID, expectedVersion).
		Updates(map[string]any{
			"is_active":             active,
			"active_config":         snapshot,
			"process_state":         status.State,
			"process_operation_id":  status.OperationID,
			"process_planned_count": status.PlannedCount,
			"process_updated_at":    status.UpdatedAt,
			"version":               expectedVersion + 1,
			"updated_at":            now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.classifyStale(ctx, shopID)
	}
	return nil
}

// classifyStale distinguishes a lost optimistic race from a missing shop.
func (r *Repository) classifyStale(ctx context.Context, shopID string) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&shopdomain.ShopSettings{}).
		Where("shop_id = ?", shopID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shopdomain.ErrShopNotFound
	}
	return shopdomain.ErrStaleSettings
}
