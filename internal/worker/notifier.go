package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/bus"
	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/metrics"
	"github.com/jmehdipour/order-gateway/internal/model"
	"github.com/jmehdipour/order-gateway/internal/repository"
)

// Sender performs the external part of a notification. The dispatcher
// package provides the webhook implementation.
type Sender interface {
	Notify(ctx context.Context, n model.Notification) error
}

// OutboxReader is what Replay needs from the outbox.
type OutboxReader interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]model.OutboxEvent, error)
}

type ReplayStats struct {
	Events  int
	Skipped int // undecodable rows
	Failed  int
}

// Notifier consumes order.created events and notifies once per
// (item, order). A processed mark is claimed before the side-effect and
// released again if the side-effect fails, so redelivery and replay are safe.
type Notifier struct {
	DB     *sqlx.DB
	Marks  repository.MarksRepository
	Sender Sender // optional
	Log    *zap.Logger

	ReplayBatchSize int
	now             func() time.Time
}

func NewNotifier(db *sqlx.DB, marks repository.MarksRepository, sender Sender, log *zap.Logger) *Notifier {
	return &Notifier{
		DB:              db,
		Marks:           marks,
		Sender:          sender,
		Log:             logger.OrNop(log).With(zap.String("component", "notifier")),
		ReplayBatchSize: 500,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Attach subscribes the notifier to order.created on b.
func (n *Notifier) Attach(b *bus.Bus) *bus.Subscription {
	return b.Subscribe(model.TopicOrderCreated, n.OnEvent)
}

// OnEvent is the bus handler. Payloads that are not order.created events
// are dropped.
func (n *Notifier) OnEvent(ctx context.Context, msg bus.Message) error {
	ev, ok := model.DecodeOrderCreatedEvent(msg.Payload)
	if !ok {
		n.Log.Debug("ignoring malformed event", zap.String("topic", msg.Topic))
		return nil
	}
	return n.ProcessEvent(ctx, ev)
}

// ProcessEvent notifies every item of ev not notified before. All marks of
// one event are committed together.
func (n *Notifier) ProcessEvent(ctx context.Context, ev model.OrderCreatedEvent) error {
	if !ev.Valid() {
		return nil
	}

	tx, err := n.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin marks tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var effectErrs []error
	for _, itemID := range ev.ItemIDs {
		claimed, err := n.Marks.Claim(ctx, tx, itemID, ev.OrderID)
		if err != nil {
			return err
		}
		if !claimed {
			metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := n.notify(ctx, ev.OrderID, itemID); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			n.Log.Warn("notification failed",
				zap.String("order_id", ev.OrderID),
				zap.String("item_id", itemID),
				zap.Error(err),
			)
			if rerr := n.Marks.Release(ctx, tx, itemID, ev.OrderID); rerr != nil {
				return fmt.Errorf("release mark: %w", rerr)
			}
			effectErrs = append(effectErrs, fmt.Errorf("item %s: %w", itemID, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit marks: %w", err)
	}
	return errors.Join(effectErrs...)
}

func (n *Notifier) notify(ctx context.Context, orderID, itemID string) error {
	if n.Sender != nil {
		err := n.Sender.Notify(ctx, model.Notification{
			OrderID:    orderID,
			ItemID:     itemID,
			NotifiedAt: n.now(),
		})
		if err != nil {
			return err
		}
	}

	n.Log.Info("order item notified",
		zap.String("order_id", orderID),
		zap.String("item_id", itemID),
	)
	return nil
}

// Replay drives every outbox event through ProcessEvent in append order.
// Items already marked are skipped, so replay can run any number of times.
func (n *Notifier) Replay(ctx context.Context, outbox OutboxReader) (ReplayStats, error) {
	var stats ReplayStats

	batch := n.ReplayBatchSize
	if batch <= 0 {
		batch = 500
	}

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rows, err := outbox.ListAfter(ctx, after, batch)
		if err != nil {
			return stats, fmt.Errorf("read outbox: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			after = row.ID
			if row.Type != model.EventTypeOrderCreated {
				continue
			}

			ev, ok := model.DecodeOrderCreatedEvent(row.Payload)
			if !ok {
				stats.Skipped++
				n.Log.Warn("undecodable outbox row", zap.Int64("outbox_id", row.ID))
				continue
			}

			stats.Events++
			metrics.ReplayedEventsTotal.Inc()
			if err := n.ProcessEvent(ctx, ev); err != nil {
				stats.Failed++
				n.Log.Warn("replay event failed",
					zap.Int64("outbox_id", row.ID),
					zap.String("order_id", ev.OrderID),
					zap.Error(err),
				)
			}
		}

		if len(rows) < batch {
			break
		}
	}

	n.Log.Info("outbox replay finished",
		zap.Int("events", stats.Events),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
