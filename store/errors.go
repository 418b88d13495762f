package store

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no row matches the identifier.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps every failure of the underlying database,
	// including context cancellation and deadline expiry. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict means a compare-and-swap write matched no row because a
	// concurrent writer changed it first.
	ErrConflict = errors.New("write conflict")
)

// classify maps raw database errors onto the store's error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err carries ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
