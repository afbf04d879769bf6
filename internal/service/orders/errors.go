package orders

import (
	"errors"
	"fmt"
	"strings"
)

const (
	msgItemsRequired = "itemId is required (non-empty array)"
	msgDuplicateID   = "duplicate orderId"

	msgItemTooLong    = "itemId entries must be at most 128 characters"
	msgOrderIDTooLong = "orderId must be at most 128 characters"
)

// ValidationError means the request was malformed; nothing was written.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError means the order id or some items are already taken.
// Items is set for item conflicts, in request order.
type ConflictError struct {
	Msg   string
	Items []string
}

func (e *ConflictError) Error() string { return e.Msg }

func duplicateItems(items []string) *ConflictError {
	return &ConflictError{
		Msg:   "duplicate item(s): " + strings.Join(items, ","),
		Items: items,
	}
}

// StorageError wraps a failure of the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}
