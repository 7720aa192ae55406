package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeValidation         = "validation_error"
	ErrCodeNotFound           = "not_found"
	ErrCodeRevoked            = "revoked"
	ErrCodeDomainMismatch     = "domain_mismatch"
	ErrCodeExpired            = "expired"
	ErrCodeDecryption         = "decryption_failed"
	ErrCodeInsufficientShards = "insufficient_shards"
	ErrCodeOwnership          = "ownership_error"
	ErrCodeSigning            = "signing_failed"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeConflict           = "conflict"
	ErrCodeInternalError      = "internal_error"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrRevoked = &AppError{
		Code:       ErrCodeRevoked,
		Message:    "Connection has been revoked",
		StatusCode: http.StatusForbidden,
	}

	ErrDomainMismatch = &AppError{
		Code:       ErrCodeDomainMismatch,
		Message:    "Request origin does not match the connected DApp domain",
		StatusCode: http.StatusForbidden,
	}

	ErrExpired = &AppError{
		Code:       ErrCodeExpired,
		Message:    "Request has expired",
		StatusCode: http.StatusGone,
	}

	// ErrDecryption is intentionally generic: callers must not be able to
	// tell a wrong password from a corrupted blob.
	ErrDecryption = &AppError{
		Code:       ErrCodeDecryption,
		Message:    "Decryption failed",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInsufficientShards = &AppError{
		Code:       ErrCodeInsufficientShards,
		Message:    "Not enough shards to recover the secret",
		StatusCode: http.StatusBadRequest,
	}

	ErrOwnership = &AppError{
		Code:       ErrCodeOwnership,
		Message:    "Caller does not own this resource",
		StatusCode: http.StatusForbidden,
	}

	ErrRateLimited = &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// Validation creates a validation error with detail
func Validation(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    "Invalid request parameters",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// SigningFailed creates an internal signing error. The detail must never
// contain key material or payload contents.
func SigningFailed(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeSigning,
		Message:    "Signing operation failed",
		Detail:     detail,
		StatusCode: http.StatusInternalServerError,
	}
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Wallet not found",
		Detail:     fmt.Sprintf("wallet_id: %s", walletID),
		StatusCode: http.StatusNotFound,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given error code.
func Is(err error, code string) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
