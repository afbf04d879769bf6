package repository

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateOrderID = errors.New("duplicate order id")
)

// DuplicateItemsError lists requested items that already belong to an order.
type DuplicateItemsError struct {
	Items []string
}

func (e *DuplicateItemsError) Error() string {
	return "duplicate items: " + strings.Join(e.Items, ",")
}
