package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/logger"
	"github.com/jmehdipour/order-gateway/internal/metrics"
	"github.com/jmehdipour/order-gateway/internal/model"
	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/util"
)

const (
	aggregateOrder = "order"

	// MaxIDLength matches the VARCHAR(128) id columns.
	MaxIDLength = 128

	// admitAttempts bounds reruns of a transaction the server rolled back.
	admitAttempts = 2
)

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Service admits orders: it persists the order, its items and one outbox
// event in a single transaction, then publishes the event.
type Service struct {
	db     *sqlx.DB
	orders repository.OrdersRepository
	outbox repository.OutboxRepository
	pub    Publisher
	log    *zap.Logger

	writeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// New constructs the order service. pub may be nil, in which case events are
// only recorded in the outbox.
func New(
	db *sqlx.DB,
	ordersRepo repository.OrdersRepository,
	outboxRepo repository.OutboxRepository,
	pub Publisher,
	log *zap.Logger,
	writeTimeout time.Duration,
) *Service {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Service{
		db:           db,
		orders:       ordersRepo,
		outbox:       outboxRepo,
		pub:          pub,
		log:          logger.OrNop(log).With(zap.String("component", "orders")),
		writeTimeout: writeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        util.NewID,
	}
}

// Submit validates and admits an order and returns its id. An empty orderID
// gets a generated ULID.
func (s *Service) Submit(ctx context.Context, itemIDs []string, orderID string) (string, error) {
	id, err := s.submit(ctx, itemIDs, orderID)
	switch {
	case err == nil:
		metrics.OrdersTotal.WithLabelValues("accepted").Inc()
	case IsValidation(err):
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
	case IsConflict(err):
		metrics.OrdersTotal.WithLabelValues("conflict").Inc()
	default:
		metrics.OrdersTotal.WithLabelValues("error").Inc()
	}
	return id, err
}

func (s *Service) submit(ctx context.Context, itemIDs []string, orderID string) (string, error) {
	if len(itemIDs) == 0 {
		return "", &ValidationError{Msg: msgItemsRequired}
	}
	for _, it := range itemIDs {
		if strings.TrimSpace(it) == "" {
			return "", &ValidationError{Msg: msgItemsRequired}
		}
		if utf8.RuneCountInString(it) > MaxIDLength {
			return "", &ValidationError{Msg: msgItemTooLong}
		}
	}

	orderID = strings.TrimSpace(orderID)
	if utf8.RuneCountInString(orderID) > MaxIDLength {
		return "", &ValidationError{Msg: msgOrderIDTooLong}
	}
	if orderID == "" {
		orderID = s.newID()
	}

	order := model.Order{
		ID:        orderID,
		ItemIDs:   append([]string(nil), itemIDs...),
		CreatedAt: s.now(),
	}
	event := model.NewOrderCreatedEvent(order)
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	// Admission is not abandoned once validated, even if the caller goes away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.admitWithRetry(wctx, order, payload); err != nil {
		return "", err
	}

	s.log.Info("order accepted",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.ItemIDs)),
	)

	if s.pub != nil {
		if err := s.pub.Publish(ctx, model.TopicOrderCreated, payload); err != nil {
			s.log.Warn("publish order created",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
		}
	}

	return order.ID, nil
}

// admitWithRetry reruns admit when the server aborted the transaction
// (deadlock, lock wait timeout). The rerun's pre-checks then see the
// competing admission and report it as a conflict.
func (s *Service) admitWithRetry(ctx context.Context, order model.Order, payload []byte) error {
	var err error
	for attempt := 1; attempt <= admitAttempts; attempt++ {
		err = s.admit(ctx, order, payload)
		if err == nil || !db.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		s.log.Warn("admission rolled back by store, retrying",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) admit(ctx context.Context, order model.Order, payload []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.orders.Exists(ctx, tx, order.ID)
	if err != nil {
		return &StorageError{Op: "check order", Err: err}
	}
	if exists {
		return &ConflictError{Msg: msgDuplicateID}
	}

	owned, err := s.orders.OwnedItems(ctx, tx, order.ItemIDs)
	if err != nil {
		return &StorageError{Op: "check items", Err: err}
	}
	if dups := mergeDuplicates(order.ItemIDs, owned); len(dups) > 0 {
		return duplicateItems(dups)
	}

	if err := s.orders.Insert(ctx, tx, order); err != nil {
		return mapInsertError(err)
	}

	_, err = s.outbox.Insert(ctx, tx, model.OutboxEvent{
		Aggregate:   aggregateOrder,
		AggregateID: order.ID,
		Topic:       model.TopicOrderCreated,
		Type:        model.EventTypeOrderCreated,
		Version:     model.EventVersion,
		Payload:     payload,
		CreatedAt:   order.CreatedAt,
	})
	if err != nil {
		return &StorageError{Op: "insert outbox", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	return nil
}

// mergeDuplicates returns, in request order and without repeats, the items
// that are either already owned or repeated within the request.
func mergeDuplicates(requested, owned []string) []string {
	taken := make(map[string]struct{}, len(owned))
	for _, it := range owned {
		taken[it] = struct{}{}
	}

	seen := make(map[string]struct{}, len(requested))
	reported := make(map[string]struct{})
	var out []string
	for _, it := range requested {
		_, isTaken := taken[it]
		_, repeated := seen[it]
		seen[it] = struct{}{}
		if !isTaken && !repeated {
			continue
		}
		if _, ok := reported[it]; ok {
			continue
		}
		reported[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// mapInsertError turns primary-key races with a concurrent admission into the
// conflicts the pre-checks would have reported.
func mapInsertError(err error) error {
	if errors.Is(err, repository.ErrDuplicateOrderID) {
		return &ConflictError{Msg: msgDuplicateID}
	}
	var dup *repository.DuplicateItemsError
	if errors.As(err, &dup) {
		return duplicateItems(dup.Items)
	}
	return &StorageError{Op: "insert order", Err: err}
}

// Get returns an admitted order, or repository.ErrNotFound.
func (s *Service) Get(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &StorageError{Op: "get order", Err: err}
	}
	return o, nil
}

// List pages through admitted orders in admission order.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Order, error) {
	out, err := s.orders.List(ctx, limit, offset)
	if err != nil {
		return nil, &StorageError{Op: "list orders", Err: err}
	}
	return out, nil
}
