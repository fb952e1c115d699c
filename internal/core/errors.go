package core

// errors.go defines the error taxonomy surfaced by the store.
//
// ValueError and SchemaError are validation failures: always recoverable,
// reported to the caller, never retried automatically. ErrOverlappingValidity
// is a write conflict the caller may resolve by choosing a disjoint window.
// ErrForbidden and ErrNotFound are terminal for the request. Persistence
// outages surface as ErrStoreUnavailable, which the transport layer may
// retry with backoff. Nothing here is process-fatal.

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced dictionary, position or attribute
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the identity lacks the role or ownership
	// required for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrOverlappingValidity indicates a value write whose window intersects
	// an existing value for the same (position, attribute) pair.
	ErrOverlappingValidity = errors.New("overlapping validity window")

	// ErrStoreUnavailable wraps persistence-layer outages.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDuplicateCode indicates a dictionary code collision.
	ErrDuplicateCode = errors.New("dictionary code already exists")
)

// ValueErrorKind classifies codec failures.
type ValueErrorKind string

const (
	InvalidValue ValueErrorKind = "invalid_value"
	ValueTooLong ValueErrorKind = "value_too_long"
)

// ValueError reports a cell or raw value the codec could not accept.
// It always names the offending attribute.
type ValueError struct {
	Attr    string
	Value   string
	Kind    ValueErrorKind
	Message string
}

func (e *ValueError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("%s: %s", e.Attr, e.Message)
	}
	return e.Message
}

// SchemaViolation classifies schema validation failures.
type SchemaViolation string

const (
	MissingRequired      SchemaViolation = "missing_required"
	UnknownAttribute     SchemaViolation = "unknown_attribute"
	TypeMismatch         SchemaViolation = "type_mismatch"
	AttributeNotYetValid SchemaViolation = "attribute_not_yet_valid"
	AttributeExpired     SchemaViolation = "attribute_expired"
)

// SchemaError reports a value set that does not fit the dictionary schema
// at the requested as-of date.
type SchemaError struct {
	Violation SchemaViolation
	Attr      string
	Message   string
	cause     error
}

func (e *SchemaError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("%s: %s", e.Attr, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying codec error for TypeMismatch violations, so
// callers can match the specific ValueError with errors.As.
func (e *SchemaError) Unwrap() error {
	return e.cause
}
