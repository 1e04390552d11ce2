package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySortSpec is returned when an operation needs at least one sort field.
	ErrEmptySortSpec = errors.New("sort spec must contain at least one field")
	// ErrInvalidSortSpec classifies malformed sort specifications.
	ErrInvalidSortSpec = errors.New("invalid sort spec")
	// ErrCursorMismatch is returned when a cursor was minted for different sort fields.
	ErrCursorMismatch = errors.New("cursor does not match sort spec")
	// ErrUnknownSortField is returned when a public sort name is not in the catalog.
	ErrUnknownSortField = errors.New("unknown sort field")
	// ErrUnsupportedValue is returned when a sort field value cannot be carried in a cursor.
	ErrUnsupportedValue = errors.New("unsupported cursor value")
	// ErrIncomparable is returned when two field values have no defined order.
	ErrIncomparable = errors.New("values are not comparable")
	// ErrUntranslatable is returned when a store cannot express a query,
	// such as an identifier it rejects or a predicate shape it lacks. It is
	// never retryable.
	ErrUntranslatable = errors.New("query cannot be expressed by the store")
	// ErrStore classifies backing store failures. They are safe to retry.
	ErrStore = errors.New("store failure")
	// ErrStreamClosed is returned when a closed batch stream is used.
	ErrStreamClosed = errors.New("batch stream closed")
)

// StoreError wraps a failure reported by the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the store's error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Retryable reports true for every store failure.
func (e *StoreError) Retryable() bool {
	return true
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrUntranslatable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsRetryable reports whether err came from the backing store.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore)
}
