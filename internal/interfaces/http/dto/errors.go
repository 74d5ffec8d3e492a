package dto

import "net/http"

// General error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeValidation is used when request binding fails field validation
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnauthorized is used when the bearer token is missing or invalid
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeTokenExpired is used when the bearer token has expired
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	// ErrCodeForbidden is used when the token lacks a required permission
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// Resource error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "INVALID_STATE"
)

// Allocation error codes, one per allocation.ErrorKind
const (
	ErrCodeInvalidAmount             = "INVALID_AMOUNT"
	ErrCodeInvalidStrategy           = "INVALID_STRATEGY"
	ErrCodeExceedsObligationCapacity = "EXCEEDS_OBLIGATION_CAPACITY"
	ErrCodeOverAllocation            = "OVER_ALLOCATION"
	ErrCodeStaleState                = "STALE_STATE"
	ErrCodeLockTimeout               = "LOCK_TIMEOUT"
	ErrCodeIntegrityHold             = "INTEGRITY_HOLD"
	ErrCodePartialRollbackFailure    = "PARTIAL_ROLLBACK_FAILURE"
	ErrCodeDuplicateRequest          = "DUPLICATE_REQUEST"
	ErrCodeReconcileInProgress       = "RECONCILE_IN_PROGRESS"
)

// Payment input error codes
const (
	ErrCodeInvalidCustomer      = "INVALID_CUSTOMER"
	ErrCodeInvalidPaymentDate   = "INVALID_PAYMENT_DATE"
	ErrCodeInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	ErrCodeInvalidReference     = "INVALID_REFERENCE"
	ErrCodeInvalidReason        = "INVALID_REASON"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeTokenExpired:    http.StatusUnauthorized,
	ErrCodeForbidden:       http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,

	// Bad input -> 400
	ErrCodeInvalidAmount:        http.StatusBadRequest,
	ErrCodeInvalidStrategy:      http.StatusBadRequest,
	ErrCodeInvalidCustomer:      http.StatusBadRequest,
	ErrCodeInvalidPaymentDate:   http.StatusBadRequest,
	ErrCodeInvalidPaymentMethod: http.StatusBadRequest,
	ErrCodeInvalidReference:     http.StatusBadRequest,
	ErrCodeInvalidReason:        http.StatusBadRequest,

	// Caller should re-propose -> 422
	ErrCodeExceedsObligationCapacity: http.StatusUnprocessableEntity,
	ErrCodeOverAllocation:            http.StatusUnprocessableEntity,

	// Retry or conflict -> 409 / 503
	ErrCodeStaleState:          http.StatusConflict,
	ErrCodeDuplicateRequest:    http.StatusConflict,
	ErrCodeReconcileInProgress: http.StatusConflict,
	ErrCodeLockTimeout:         http.StatusServiceUnavailable,

	// Needs a person
	ErrCodeIntegrityHold:          http.StatusLocked,
	ErrCodePartialRollbackFailure: http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a client may resend the same request unchanged
func IsRetryable(code string) bool {
	return code == ErrCodeStaleState || code == ErrCodeLockTimeout
}
