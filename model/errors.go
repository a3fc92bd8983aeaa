package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Input validation codes. These are produced before any upstream call.
const (
	ErrMissingChipID        = "MISSING_CHIP_ID"
	ErrMissingPhone         = "MISSING_PHONE"
	ErrMissingCode          = "MISSING_CODE"
	ErrMissingField         = "MISSING_FIELD"
	ErrInvalidPhone         = "INVALID_PHONE"
	ErrInvalidCode          = "INVALID_CODE"
	ErrInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrInvalidValue         = "INVALID_VALUE"
	ErrInvalidCoordinates   = "INVALID_COORDINATES"
	ErrInvalidBoatID        = "INVALID_BOAT_ID"
)

// Upstream and persistence failure codes.
const (
	ErrInvalidResponse = "INVALID_RESPONSE"
	ErrFetchFailed     = "FETCH_FAILED"
	ErrCreateFailed    = "CREATE_FAILED"
	ErrUpdateFailed    = "UPDATE_FAILED"
	ErrDeleteFailed    = "DELETE_FAILED"
	ErrSMSSendFailed   = "SMS_SEND_FAILED"
)

// Verification codes.
const (
	ErrCodeExpired     = "CODE_EXPIRED"
	ErrCodeNotFound    = "CODE_NOT_FOUND"
	ErrTooManyAttempts = "TOO_MANY_ATTEMPTS"
)

// ErrorEnvelope is the error object carried in the "error" member of every
// failed API response. It implements the error interface.
type ErrorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details []FieldError   `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error. The cause is never serialized.
func (e *ErrorEnvelope) WithCause(err error) *ErrorEnvelope {
	e.cause = err
	return e
}

// WithMeta adds a key to the envelope's meta map.
func (e *ErrorEnvelope) WithMeta(key string, value any) *ErrorEnvelope {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError returns an envelope with an arbitrary code.
func NewError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

// AsEnvelope returns the first *ErrorEnvelope in err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// HasCode reports whether err carries an envelope with the given code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

// Wrap converts err into an envelope with the given code unless err already
// carries a more specific envelope (validation, not-found, breaker state).
func Wrap(err error, code, msg string) *ErrorEnvelope {
	if ee, ok := AsEnvelope(err); ok {
		switch ee.Code {
		case ErrBackendUnavailable, ErrBackendTimeout, ErrNotFound, ErrInvalidResponse:
			return ee
		}
	}
	return (&ErrorEnvelope{Code: code, Message: msg}).WithCause(err)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewMissingFieldError returns a MISSING_FIELD error naming the field.
func NewMissingFieldError(field string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMissingField,
		Message: fmt.Sprintf("%s is required", field),
		Details: []FieldError{{Field: field, Code: "REQUIRED", Message: "required"}},
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "Rate limit exceeded. Please try again later."
	}
	return &ErrorEnvelope{Code: ErrRateLimited, Message: msg}
}
