package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		log = log.Named("migrations")

		// embedded SQL targets postgres; other dialects are provisioned out of band
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			log.Warn("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		}

		ctx := context.Background()
		if err := seed.EnsureAdmin(ctx, conn, node, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			return err
		}
		if cfg.Bootstrap.SampleProducts {
			if err := seed.EnsureSampleCatalog(ctx, conn, node, cfg.Payment.Currency); err != nil {
				return err
			}
		}
		return nil
	}),
)
