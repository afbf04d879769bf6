package db

import (
	"fmt"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// Open connects to the configured store, migrating first when auto_migrate is set.
func Open(cfg config.StorageConfig) (*sqlx.DB, error) {
	if cfg.AutoMigrate {
		if _, err := Migrate(cfg.Driver, cfg.DSN); err != nil {
			return nil, err
		}
	}

	switch cfg.Driver {
	case config.DriverMySQL:
		return NewMySQLConnection(cfg.DSN, PoolOpts{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			PingTimeout:     cfg.PingTimeout,
		})
	case config.DriverSQLite:
		return NewSQLiteConnection(cfg.DSN, cfg.PingTimeout)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
