package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/dispatcher"
	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/metrics"
	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/worker"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drive every outbox event through the notifier",
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg := logger.Init(cfg.Log.Level)
	defer func() { _ = lg.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) store
	dbx, err := db.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage connect: %w", err)
	}
	defer dbx.Close()

	// 3) webhooks → dispatcher (optional)
	var sender worker.Sender
	if d := dispatcher.FromConfig(cfg.Notifier); d != nil {
		sender = d
	}

	n := worker.NewNotifier(dbx, repository.NewMarksRepository(dbx), sender, lg)
	if cfg.Notifier.ReplayBatchSize > 0 {
		n.ReplayBatchSize = cfg.Notifier.ReplayBatchSize
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := n.Replay(ctx, repository.NewOutboxRepository(dbx))
	if err != nil {
		return err
	}

	lg.Info("replay done",
		zap.Int("events", stats.Events),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	if stats.Failed > 0 {
		return fmt.Errorf("%d events had failed notifications; rerun replay to retry", stats.Failed)
	}
	return nil
}
