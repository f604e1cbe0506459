package database

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when an id or key lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique constraint is violated outside
	// the defined upsert paths, or an illegal status transition is requested.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned when a persisted value fails to decode or an
	// input fails validation. Never retryable.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable is returned for transient connection or locking
	// failures. Callers may retry with backoff.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrSchemaMismatch is returned when a rollback targets a version with
	// no corresponding migration definition.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// IsRetryable reports whether the caller may retry the failed operation.
// Integrity and validation failures are terminal for the call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// scanFailure wraps a row-decode failure. Driver-level errors keep their
// taxonomy; anything else means the persisted data itself did not decode,
// which is corruption, not a transient fault.
func scanFailure(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.Is(err, sql.ErrNoRows) || errors.As(err, &sqliteErr) {
		return classify(err)
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// classify maps driver-level failures onto the store's error taxonomy so
// callers never have to inspect sqlite error codes themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Join(ErrNotFound, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return errors.Join(ErrConflict, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrProtocol:
			return errors.Join(ErrUnavailable, err)
		}
	}
	return err
}
