package model

import "time"

// OutboxEvent is an append-only outbox row. ID is the append position.
type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // "order"
	AggregateID string    `db:"aggregate_id"` // order.ID
	Topic       string    `db:"topic"`
	Type        string    `db:"type"`
	Version     int       `db:"version"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}
