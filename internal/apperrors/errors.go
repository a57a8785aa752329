package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category carried across service
// and handler boundaries. Handlers map kinds to HTTP statuses; clients match
// on the string code.
type Kind string

const (
	KindValidation              Kind = "VALIDATION_ERROR"
	KindUnknownChain            Kind = "UNKNOWN_CHAIN"
	KindNotAuthorized           Kind = "NOT_AUTHORIZED"
	KindInvalidState            Kind = "INVALID_STATE"
	KindAlreadyComplete         Kind = "ALREADY_COMPLETE"
	KindNotFound                Kind = "NOT_FOUND"
	KindEstimationFailed        Kind = "ESTIMATION_FAILED"
	KindBridgeSubmissionFailed  Kind = "BRIDGE_SUBMISSION_FAILED"
	KindBridgeStuck             Kind = "BRIDGE_STUCK"
	KindEscrowInvariantViolated Kind = "ESCROW_INVARIANT_VIOLATION"
	KindInternal                Kind = "INTERNAL_ERROR"
)

// Error is the application error type. It wraps an optional cause so call
// sites can still use errors.Is/As against the underlying failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates a cause with a kind and message.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from an error chain. Unknown errors are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may safely retry the same request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindEstimationFailed, KindBridgeSubmissionFailed:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to the HTTP status handlers should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnknownChain:
		return http.StatusBadRequest
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindInvalidState, KindAlreadyComplete:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindEstimationFailed, KindBridgeSubmissionFailed:
		return http.StatusServiceUnavailable
	case KindBridgeStuck, KindEscrowInvariantViolated:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
