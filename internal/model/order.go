package model

import "time"

// Order is an admitted order. Orders are never updated or deleted.
type Order struct {
	ID        string    `db:"id"         json:"orderId"`
	ItemIDs   []string  `db:"-"          json:"itemId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// OrderItem is the DB entity persisted in order_items. item_id is the
// primary key, which is what keeps an item inside a single order.
type OrderItem struct {
	ItemID   string `db:"item_id"`
	OrderID  string `db:"order_id"`
	Seq      int    `db:"seq"`
}
