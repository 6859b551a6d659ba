package overview

import (
	"errors"
	"strings"
)

// ValidationError rejects a request before any computation. Violations keep
// the order in which the checks run.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// NoDataError means the scope resolved to nothing workable: no embedding
// model, no rows after filtering, or too few points for the requested k.
type NoDataError struct {
	Reason string
}

func (e *NoDataError) Error() string { return e.Reason }

// NotFoundError is returned when an assignee query matches nothing above the
// similarity threshold.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string { return e.Reason }

// TransientError wraps a recoverable backend failure (lock contention,
// dropped connection). Callers may retry the operation.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// SchemaError means the backing store is missing tables the engine needs.
// Retrying cannot help; migrations have to run first.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return "schema: " + e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }

// PermissionError means the store rejected a query for lack of privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string { return "permission: " + e.Err.Error() }
func (e *PermissionError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
