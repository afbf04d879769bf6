package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/bus"
	"github.com/jmehdipour/order-gateway/internal/config"
	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/dispatcher"
	httpSrv "github.com/jmehdipour/order-gateway/internal/http"
	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/service/orders"
	"github.com/jmehdipour/order-gateway/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server with the in-process notifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		lg := logger.Init(cfg.Log.Level)
		defer func() { _ = lg.Sync() }()

		dbx, err := db.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage connect: %w", err)
		}
		defer dbx.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		} else {
			lg.Info("redis not configured, rate limiting disabled")
		}

		// repos
		ordersRepo := repository.NewOrdersRepository(dbx)
		outboxRepo := repository.NewOutboxRepository(dbx)
		marksRepo := repository.NewMarksRepository(dbx)

		eventBus := bus.New(lg)

		if cfg.Notifier.Enabled {
			var sender worker.Sender
			if d := dispatcher.FromConfig(cfg.Notifier); d != nil {
				sender = d
			}
			notifier := worker.NewNotifier(dbx, marksRepo, sender, lg)
			notifier.ReplayBatchSize = cfg.Notifier.ReplayBatchSize

			// catch up on events whose live delivery was lost before subscribing
			if cfg.Notifier.ReplayOnStart {
				if _, err := notifier.Replay(cmd.Context(), outboxRepo); err != nil {
					return fmt.Errorf("outbox replay: %w", err)
				}
			}
			sub := notifier.Attach(eventBus)
			defer sub.Cancel()
		}

		svc := orders.New(dbx, ordersRepo, outboxRepo, eventBus, lg, cfg.Storage.WriteTimeout)
		server := httpSrv.NewServer(cfg, svc, redisClient, lg)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			lg.Info("shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), orDefault(cfg.HTTP.ShutdownTimeout, 5*time.Second))
		defer cancel()
		_ = server.Shutdown(ctx)

		// in-flight requests are done, so nothing publishes after this point
		drainCtx, drainCancel := context.WithTimeout(context.Background(), orDefault(cfg.Bus.DrainTimeout, 5*time.Second))
		defer drainCancel()
		if err := eventBus.Shutdown(drainCtx); err != nil {
			lg.Warn("bus drain incomplete; outbox replay will cover the rest", zap.Int("pending", eventBus.Pending()))
		}

		return nil
	},
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
