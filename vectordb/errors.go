package vectordb

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports input rejected before any I/O: dimension mismatch,
// malformed table identifier, empty vector. It is never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vectordb: invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SchemaError reports a failure to establish the accelerated index structure.
// Callers absorb it and continue in degraded (brute-force) mode.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("vectordb: schema %s: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup against metadata or a table that does not
// exist. Read paths translate it into an empty result rather than raising.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vectordb: %s %q not found", e.Kind, e.Name)
}

// IntegrityError reports a corrupt stored buffer or a duplicate metadata row.
// It is surfaced to the caller, never auto-recovered.
type IntegrityError struct {
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vectordb: integrity: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("vectordb: integrity: %s", e.Detail)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsMissingTable reports whether err is SQLite complaining about a table that
// does not exist. The driver exposes no typed error for this condition.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// IsMissingModule reports whether err indicates an absent virtual table module.
func IsMissingModule(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such module")
}
