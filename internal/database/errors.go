package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a read targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNoRowsAffected signals an update that matched nothing. The row either
// never existed or lost a race with the purge policy; callers treat it as
// a benign race and log it instead of retrying.
var ErrNoRowsAffected = errors.New("no rows affected")

// ValidationError reports a record that fails required-field invariants
// before a write. Always surfaced to the caller synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// StorageError reports the backing store rejecting a read or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func newStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
