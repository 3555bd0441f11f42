package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable error identifier returned to clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// escrow and wallet domain
	CodeVerificationMismatch Code = "VERIFICATION_LEVEL_MISMATCH"
	CodeInspectionPending    Code = "INSPECTION_PERIOD_NOT_ELAPSED"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeDuplicateReference   Code = "DUPLICATE_REFERENCE"
)

// Metadata controls how a code is rendered on the wire.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func rendered(status int, public string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public}
}

func (m Metadata) withDetails() Metadata {
	m.DetailsAllowed = true
	return m
}

func (m Metadata) retryable() Metadata {
	m.Retryable = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    rendered(http.StatusBadRequest, "validation failed").withDetails(),
	CodeUnauthorized:  rendered(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     rendered(http.StatusForbidden, "access denied"),
	CodeNotFound:      rendered(http.StatusNotFound, "resource not found"),
	CodeConflict:      rendered(http.StatusConflict, "conflict detected"),
	CodeStateConflict: rendered(http.StatusUnprocessableEntity, "state transition disallowed").withDetails(),
	CodeIdempotency:   rendered(http.StatusConflict, "idempotency key reused").withDetails(),
	CodeRateLimit:     rendered(http.StatusTooManyRequests, "rate limit exceeded").withDetails(),
	CodeInternal:      rendered(http.StatusInternalServerError, "internal server error").retryable(),
	CodeDependency:    rendered(http.StatusServiceUnavailable, "dependency unavailable").retryable().withDetails(),

	CodeVerificationMismatch: rendered(http.StatusConflict, "action not permitted for this verification level").withDetails(),
	CodeInspectionPending:    rendered(http.StatusUnprocessableEntity, "inspection period has not elapsed").withDetails(),
	CodeInsufficientFunds:    rendered(http.StatusUnprocessableEntity, "insufficient wallet balance"),
	CodeDuplicateReference:   rendered(http.StatusConflict, "transaction reference already applied"),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error every service layer returns to the HTTP surface.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails mutates and returns e so it can be chained off New or Wrap.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports err's code; untyped errors are internal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// IsCode reports whether err carries code anywhere a caller would look for it.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
