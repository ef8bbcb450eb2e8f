package db

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel causes for durable store failures. They are matched with errors.Is
// through a *StoreError.
var (
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrReadOnly      = errors.New("storage is read only")
	ErrBusy          = errors.New("storage is busy")
)

// StoreError represents a failed durable store operation
type StoreError struct {
	Op    string // get, set or delete
	Key   string
	cause error // one of the sentinels above, or nil when unclassified
	err   error // the underlying driver error
}

func (e *StoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.cause)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.err)
}

// Unwrap exposes both the classified cause and the driver error
func (e *StoreError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.err}
	}
	return []error{e.cause, e.err}
}

// WrapSqliteError classifies err as returned by the sqlite3 driver. Nil stays nil.
func WrapSqliteError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	se := &StoreError{Op: op, Key: key, err: err}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrFull, sqlite3.ErrTooBig:
			se.cause = ErrQuotaExceeded
		case sqlite3.ErrReadonly, sqlite3.ErrPerm, sqlite3.ErrCantOpen:
			se.cause = ErrReadOnly
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			se.cause = ErrBusy
		}
	}
	return se
}
