// Package errs defines the platform error type shared by the metadata
// store, table engine, query engine and workflow engine.
//
// Every error carries a Kind (the caller's retry/fix decision) and a Code
// (the machine-readable reason). Validation and state errors always name
// the offending field or value; infrastructure errors never do.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes errors by how a caller should react.
type Kind string

const (
	// KindValidation marks caller-fixable input errors.
	KindValidation Kind = "validation"

	// KindNotFound marks lookups of entities that do not exist.
	KindNotFound Kind = "not_found"

	// KindConflict marks uniqueness and precondition violations.
	KindConflict Kind = "conflict"

	// KindState marks business-rule violations on workflow state.
	KindState Kind = "state"

	// KindConcurrency marks transient races the caller may retry.
	KindConcurrency Kind = "concurrency"

	// KindUnsupported marks deliberately rejected operations.
	KindUnsupported Kind = "unsupported"

	// KindTimeout marks deadline expiry on a store-facing call.
	KindTimeout Kind = "timeout"

	// KindInfrastructure marks store or environment failures.
	KindInfrastructure Kind = "infrastructure"
)

// Code identifies the specific error condition.
type Code string

const (
	CodeUnknownFieldType Code = "UNKNOWN_FIELD_TYPE"
	CodeUnknownField     Code = "UNKNOWN_FIELD"
	CodeUnknownBO        Code = "UNKNOWN_BO"
	CodeInvalidOperator  Code = "INVALID_OPERATOR"
	CodeInvalidFilter    Code = "INVALID_FILTER_VALUE"
	CodeInvalidValue     Code = "INVALID_FIELD_VALUE"
	CodeRequiredField    Code = "REQUIRED_FIELD"
	CodeInvalidDef       Code = "INVALID_DEFINITION"

	CodeColumnCollision Code = "COLUMN_NAME_COLLISION"
	CodeTableExists     Code = "TABLE_ALREADY_EXISTS"
	CodeDuplicateDef    Code = "DUPLICATE_DEFINITION"
	CodeUniqueViolation Code = "UNIQUE_CONSTRAINT_VIOLATION"
	CodeModuleNotEmpty  Code = "MODULE_NOT_EMPTY"
	CodeNotFound        Code = "NOT_FOUND"

	CodeUnknownTransition     Code = "UNKNOWN_TRANSITION_NAME"
	CodeTransitionNotAllowed  Code = "TRANSITION_NOT_ALLOWED_FROM_STATE"
	CodeGuardRejected         Code = "GUARD_REJECTED"
	CodeDirectStateMutation   Code = "DIRECT_STATE_MUTATION_FORBIDDEN"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeSchemaInFlux          Code = "SCHEMA_IN_FLUX"
	CodeSchemaDrift           Code = "SCHEMA_DRIFT"

	CodeUnsupportedRetype Code = "UNSUPPORTED_RETYPE"
	CodeTimeout           Code = "TIMEOUT"
	CodeStoreFailure      Code = "STORE_FAILURE"
)

// Error is the structured platform error.
//
// Field and Value are set for validation and state errors so callers can
// point at the offending input. Hint carries an optional remediation.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Field   string
	Value   string
	Hint    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given kind, code and message.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches the offending field code.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithValue attaches the offending raw value.
func (e *Error) WithValue(value string) *Error {
	e.Value = value
	return e
}

// WithHint attaches a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// As unwraps err to a platform *Error, if it is one.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether err is a platform error with the given code.
func HasCode(err error, code Code) bool {
	if pe, ok := As(err); ok {
		return pe.Code == code
	}
	return false
}

// IsKind reports whether err is a platform error of the given kind.
func IsKind(err error, kind Kind) bool {
	if pe, ok := As(err); ok {
		return pe.Kind == kind
	}
	return false
}

// Store translates a store-level failure into a platform error.
//
// Deadline expiry becomes a Timeout error so callers can distinguish
// latency from validation failures; everything else passes through as a
// generic infrastructure error without losing the cause.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op,
			New(KindTimeout, CodeTimeout, "store call exceeded deadline"))
	}
	if pe, ok := As(err); ok {
		// Already classified; keep the original kind.
		return fmt.Errorf("%s: %w", op, pe)
	}
	return fmt.Errorf("%s: %w: %v", op,
		New(KindInfrastructure, CodeStoreFailure, "store operation failed"), err)
}
