package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/order-gateway/internal/model"
)

// OutboxRepository defines persistence methods for the outbox table.
// Rows are append-only; nothing updates or deletes them.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) (int64, error)
	// ListAfter returns up to limit events with id > afterID in append order.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]model.OutboxEvent, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent) (int64, error) {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, type, version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			ev.Aggregate, ev.AggregateID, ev.Topic, ev.Type, ev.Version, ev.Payload, ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (r *OutboxRepositoryImpl) ListAfter(ctx context.Context, afterID int64, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []model.OutboxEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, aggregate, aggregate_id, topic, type, version, payload, created_at
		  FROM outbox
		 WHERE id > ?
		 ORDER BY id
		 LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
