package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError – for invalid parameters or business rule violations.
// Supports errors.As.
//
// ValidationError represents an error due to invalid or malformed input.
// Field is empty when the problem is not tied to a single input.
type ValidationError struct {
	Field string
	msg   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.msg)
}

// Message returns the user facing text without the field prefix.
func (e *ValidationError) Message() string {
	return e.msg
}

// NewValidationError creates a new ValidationError with the given message.
func NewValidationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NewFieldError creates a ValidationError scoped to one input field.
func NewFieldError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, msg: msg}
}

// FieldErrors groups field scoped validation failures by field name.
type FieldErrors map[string]string

// Error implements the error interface, listing fields in a stable order.
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// As lets errors.As extract the first field failure as a *ValidationError.
func (fe FieldErrors) As(target any) bool {
	ve, ok := target.(**ValidationError)
	if !ok || len(fe) == 0 {
		return false
	}
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	*ve = NewFieldError(keys[0], fe[keys[0]])
	return true
}

// TransformationError – for issues converting backend payloads into client models.
// Supports errors.As.
type TransformationError struct {
	msg string
}

// Error implements the error interface.
func (e *TransformationError) Error() string {
	return e.msg
}

// NewTransformationError creates a new TransformationError.
func NewTransformationError(msg string) error {
	return &TransformationError{
		msg: msg,
	}
}

// Storage tier names carried by StorageError.
const (
	TierCookie  = "cookie"
	TierSession = "session"
	TierDurable = "durable"
)

// StorageError – for failures in one of the client storage tiers.
// Supports errors.As and errors.Unwrap.
//
// StorageError never escapes the session store; it is produced by the
// storage tiers and logged at the session store boundary.
type StorageError struct {
	Tier string // cookie, session or durable
	err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage error: %v", e.Tier, e.err)
}

func (e *StorageError) Unwrap() error {
	return e.err
}

// NewStorageError creates a new StorageError.
func NewStorageError(tier string, err error) error {
	return &StorageError{
		Tier: tier,
		err:  err,
	}
}

// IsStorageError reports whether err came from a storage tier.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
