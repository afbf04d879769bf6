package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/order-gateway/internal/db"
)

// MarksRepository persists processed marks, one per (item, order) whose
// notification has been performed.
type MarksRepository interface {
	// Claim inserts the mark. It returns false without error when the mark
	// already exists.
	Claim(ctx context.Context, tx *sqlx.Tx, itemID, orderID string) (bool, error)
	// Release deletes a mark claimed earlier in the same transaction.
	Release(ctx context.Context, tx *sqlx.Tx, itemID, orderID string) error
	Exists(ctx context.Context, itemID, orderID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type MarksRepositoryImpl struct {
	db *sqlx.DB
}

func NewMarksRepository(db *sqlx.DB) *MarksRepositoryImpl {
	return &MarksRepositoryImpl{db: db}
}

var _ MarksRepository = (*MarksRepositoryImpl)(nil)

func (r *MarksRepositoryImpl) Claim(ctx context.Context, tx *sqlx.Tx, itemID, orderID string) (bool, error) {
	claimed := false
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO processed_marks (item_id, order_id, created_at) VALUES (?, ?, ?)`,
			itemID, orderID, time.Now().UTC())
		if err != nil {
			if db.IsUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("claim mark: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *MarksRepositoryImpl) Release(ctx context.Context, tx *sqlx.Tx, itemID, orderID string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM processed_marks WHERE item_id = ? AND order_id = ?`, itemID, orderID)
		return err
	})
}

func (r *MarksRepositoryImpl) Exists(ctx context.Context, itemID, orderID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM processed_marks WHERE item_id = ? AND order_id = ?`, itemID, orderID)
	return n > 0, err
}

func (r *MarksRepositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_marks`)
	return n, err
}
