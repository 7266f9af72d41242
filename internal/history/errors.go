package history

import (
	"errors"
	"fmt"
)

// Code categorizes store errors.
type Code string

const (
	// CodeInvalidField indicates an unknown key in a change or predicate.
	CodeInvalidField Code = "INVALID_FIELD"

	// CodeAmbiguousIdentifier indicates an update/bump whose lookup key is
	// not exactly one of guid or (fieldname, value).
	CodeAmbiguousIdentifier Code = "AMBIGUOUS_IDENTIFIER"

	// CodeInvalidOperation indicates an unrecognized op, or an add carrying
	// a guid.
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// CodeConstraintViolation indicates soft-key resolution matched more
	// than one row.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"

	// CodeCorruptedSchema indicates an on-disk schema the code cannot use:
	// version below the oldest supported, or a newer version missing an
	// expected column.
	CodeCorruptedSchema Code = "CORRUPTED_SCHEMA"

	// CodeEngineFailure indicates the persistence engine reported an
	// execution error.
	CodeEngineFailure Code = "ENGINE_FAILURE"
)

// Error is a structured store error with a machine-readable code.
//
// Op names the operation being processed ("add", "search", ...) and Field
// the offending key, when either applies.
type Error struct {
	Code    Code
	Op      string
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (op=%s, field=%s)", e.Code, e.Message, e.Op, e.Field)
	case e.Op != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewInvalidField creates an InvalidField error for the given op and key.
func NewInvalidField(op, field string) *Error {
	return &Error{
		Code:    CodeInvalidField,
		Op:      op,
		Field:   field,
		Message: "unknown field in request",
	}
}

// NewAmbiguousIdentifier creates an AmbiguousIdentifier error.
func NewAmbiguousIdentifier(op string) *Error {
	return &Error{
		Code:    CodeAmbiguousIdentifier,
		Op:      op,
		Message: "exactly one of guid or (fieldname, value) must identify the row",
	}
}

// NewInvalidOperation creates an InvalidOperation error.
func NewInvalidOperation(op, msg string) *Error {
	return &Error{Code: CodeInvalidOperation, Op: op, Message: msg}
}

// NewConstraintViolation creates a ConstraintViolation error for a soft key
// that resolved to more than one row.
func NewConstraintViolation(op, fieldName, value string) *Error {
	return &Error{
		Code:    CodeConstraintViolation,
		Op:      op,
		Message: fmt.Sprintf("multiple rows match (%q, %q)", fieldName, value),
	}
}

// NewCorruptedSchema creates a CorruptedSchema error.
func NewCorruptedSchema(msg string, cause error) *Error {
	return &Error{Code: CodeCorruptedSchema, Message: msg, Err: cause}
}

// NewEngineFailure wraps a persistence engine error.
func NewEngineFailure(op string, cause error) *Error {
	return &Error{Code: CodeEngineFailure, Op: op, Message: "persistence engine failure", Err: cause}
}

// HasCode reports whether err is (or wraps) a store *Error with the code.
func HasCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsCorruptedSchema reports whether err is a CorruptedSchema error.
// Uses errors.As to handle wrapped errors.
func IsCorruptedSchema(err error) bool { return HasCode(err, CodeCorruptedSchema) }

// IsConstraintViolation reports whether err is a ConstraintViolation error.
func IsConstraintViolation(err error) bool { return HasCode(err, CodeConstraintViolation) }
