package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		lg := logger.Init(cfg.Log.Level)
		defer func() { _ = lg.Sync() }()

		version, err := db.Migrate(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}

		lg.Info("migration complete",
			zap.String("driver", cfg.Storage.Driver),
			zap.Uint("version", version),
		)
		return nil
	},
}
