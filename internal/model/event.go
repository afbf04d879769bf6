package model

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	TopicOrderCreated     = "order.created"
	EventTypeOrderCreated = "order.created"
	EventVersion          = 1
)

// OrderCreatedEvent is the wire contract between order intake and any consumer.
type OrderCreatedEvent struct {
	Type      string    `json:"type"`
	Version   int       `json:"version"`
	OrderID   string    `json:"orderId"`
	ItemIDs   []string  `json:"itemId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewOrderCreatedEvent derives the event from an admitted order.
// The item slice is copied so the event never aliases the order.
func NewOrderCreatedEvent(o Order) OrderCreatedEvent {
	items := make([]string, len(o.ItemIDs))
	copy(items, o.ItemIDs)

	return OrderCreatedEvent{
		Type:      EventTypeOrderCreated,
		Version:   EventVersion,
		OrderID:   o.ID,
		ItemIDs:   items,
		CreatedAt: o.CreatedAt.UTC(),
	}
}

// Valid reports whether the event carries enough to be processed.
func (e OrderCreatedEvent) Valid() bool {
	return e.OrderID != "" && e.ItemIDs != nil
}

// DecodeOrderCreatedEvent parses a wire payload. It returns false for
// malformed JSON, a missing orderId, or an itemId that is not an array.
func DecodeOrderCreatedEvent(b []byte) (OrderCreatedEvent, bool) {
	var raw struct {
		Type      string          `json:"type"`
		Version   int             `json:"version"`
		OrderID   string          `json:"orderId"`
		ItemIDs   json.RawMessage `json:"itemId"`
		CreatedAt time.Time       `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return OrderCreatedEvent{}, false
	}
	if raw.OrderID == "" || !bytes.HasPrefix(bytes.TrimSpace(raw.ItemIDs), []byte("[")) {
		return OrderCreatedEvent{}, false
	}

	items := []string{}
	if err := json.Unmarshal(raw.ItemIDs, &items); err != nil {
		return OrderCreatedEvent{}, false
	}

	return OrderCreatedEvent{
		Type:      raw.Type,
		Version:   raw.Version,
		OrderID:   raw.OrderID,
		ItemIDs:   items,
		CreatedAt: raw.CreatedAt,
	}, true
}
