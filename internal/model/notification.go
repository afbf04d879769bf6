package model

import "time"

// Notification is the per-item side-effect payload sent to webhook endpoints.
type Notification struct {
	OrderID    string    `json:"orderId"`
	ItemID     string    `json:"itemId"`
	NotifiedAt time.Time `json:"notifiedAt"`
}
