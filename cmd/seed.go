package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/service/orders"
)

type demoOrder struct {
	OrderID string
	Items   []string
}

// demo orders are fixed so re-running only reports conflicts
var demoOrders = []demoOrder{
	{OrderID: "demo-1", Items: []string{"itemA", "itemB"}},
	{OrderID: "demo-2", Items: []string{"itemC"}},
	{OrderID: "demo-3", Items: []string{"itemD", "itemE", "itemF"}},
	{OrderID: "demo-4", Items: []string{"itemA"}}, // conflicts with demo-1 on purpose
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Admit demo orders through order intake",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		lg := logger.Init(cfg.Log.Level)
		defer func() { _ = lg.Sync() }()

		// 2) connect store
		dbx, err := db.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage connect: %w", err)
		}
		defer dbx.Close()

		// no bus here: `worker replay` or the next `serve` picks the events up from the outbox
		svc := orders.New(dbx,
			repository.NewOrdersRepository(dbx),
			repository.NewOutboxRepository(dbx),
			nil, lg, cfg.Storage.WriteTimeout)

		accepted := 0
		for _, o := range demoOrders {
			_, err := svc.Submit(cmd.Context(), o.Items, o.OrderID)
			switch {
			case err == nil:
				accepted++
			case orders.IsConflict(err):
				lg.Info("seed order skipped", zap.String("order_id", o.OrderID), zap.String("reason", err.Error()))
			default:
				return fmt.Errorf("seed %s: %w", o.OrderID, err)
			}
		}

		lg.Info("seed completed", zap.Int("accepted", accepted), zap.Int("total", len(demoOrders)))
		return nil
	},
}
