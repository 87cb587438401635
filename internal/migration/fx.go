package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/brandseal/brandseal/internal/config"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments rely on gorm's schema sync
		return conn.AutoMigrate(
			&shopdomain.ShopBillingRecord{},
			&shopdomain.ShopSettings{},
		)
	}),
)
