package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/order-gateway/internal/db"
	"github.com/jmehdipour/order-gateway/internal/model"
)

// OrdersRepository persists orders and their items.
type OrdersRepository interface {
	Exists(ctx context.Context, tx *sqlx.Tx, orderID string) (bool, error)
	// OwnedItems returns the subset of itemIDs already owned by some order,
	// in the order they appear in itemIDs.
	OwnedItems(ctx context.Context, tx *sqlx.Tx, itemIDs []string) ([]string, error)
	// Insert writes the order row and one order_items row per item. Primary key
	// violations come back as ErrDuplicateOrderID or *DuplicateItemsError.
	Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error
	Get(ctx context.Context, orderID string) (*model.Order, error)
	List(ctx context.Context, limit, offset int) ([]model.Order, error)
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

func (r *OrdersRepositoryImpl) Exists(ctx context.Context, tx *sqlx.Tx, orderID string) (bool, error) {
	var n int
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM orders WHERE id = ?`, orderID)
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *OrdersRepositoryImpl) OwnedItems(ctx context.Context, tx *sqlx.Tx, itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT item_id FROM order_items WHERE item_id IN (?)`, itemIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var found []string
	err = withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &found, query, args...)
	})
	if err != nil {
		return nil, err
	}

	owned := make(map[string]struct{}, len(found))
	for _, id := range found {
		owned[id] = struct{}{}
	}
	out := make([]string, 0, len(found))
	for _, id := range itemIDs {
		if _, ok := owned[id]; ok {
			out = append(out, id)
			delete(owned, id)
		}
	}
	return out, nil
}

func (r *OrdersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, created_at) VALUES (?, ?)`, o.ID, o.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateOrderID
			}
			return fmt.Errorf("insert order: %w", err)
		}

		// Rows go in item_id order so concurrent admissions lock keys in
		// the same order. seq keeps the request position. A failed
		// statement does not abort the surrounding transaction, so every
		// offending item is found.
		idx := make([]int, len(o.ItemIDs))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return o.ItemIDs[idx[a]] < o.ItemIDs[idx[b]] })

		taken := make(map[int]bool)
		for _, i := range idx {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (item_id, order_id, seq) VALUES (?, ?, ?)`, o.ItemIDs[i], o.ID, i)
			if err != nil {
				if db.IsUniqueViolation(err) {
					taken[i] = true
					continue
				}
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		var dups []string
		for i, itemID := range o.ItemIDs {
			if taken[i] {
				dups = append(dups, itemID)
			}
		}
		if len(dups) > 0 {
			return &DuplicateItemsError{Items: dups}
		}
		return nil
	})
}

func (r *OrdersRepositoryImpl) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := r.db.GetContext(ctx, &o, `SELECT id, created_at FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &o.ItemIDs,
		`SELECT item_id FROM order_items WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List pages through orders by admission time.
func (r *OrdersRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT id, created_at
		  FROM orders
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []model.Order{}, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	query, args, err := sqlx.In(
		`SELECT item_id, order_id, seq FROM order_items WHERE order_id IN (?) ORDER BY order_id, seq`, ids)
	if err != nil {
		return nil, err
	}

	var items []model.OrderItem
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	byOrder := make(map[string][]string, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it.ItemID)
	}
	for i := range orders {
		orders[i].ItemIDs = byOrder[orders[i].ID]
	}
	return orders, nil
}
