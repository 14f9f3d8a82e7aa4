// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configs, intervals
//   - Connection errors (200-299): Dial failures, send-while-closed, teardown
//   - Correlation errors (300-399): Request/reply matching failures
//   - Subscription errors (400-499): Registry and channel dispatch errors
//   - Seeding errors (500-599): Historical bootstrap failures
//   - Provider errors (600-699): Provider-level rejections and codec failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeNotConnected, "send attempted while disconnected")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeSeedFetchFailed, "no completed candles for %s", symbol)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeConnectionFailed, "handshake failed", dialErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeConnectionClosed) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// ProviderError represents an error code carried in a provider's reply frame.
// It rejects only the request that triggered it, never the whole session.
type ProviderError struct {
	ProviderCode int    // Numeric code from the provider's reply payload
	Symbol       string // Optional: symbol context
	Message      string // Human-readable message from the provider
}

// NewProviderError creates a new ProviderError.
func NewProviderError(providerCode int, symbol, message string) *ProviderError {
	return &ProviderError{
		ProviderCode: providerCode,
		Symbol:       symbol,
		Message:      message,
	}
}

// NewProviderErrorf creates a new ProviderError with a formatted message.
func NewProviderErrorf(providerCode int, symbol, format string, args ...any) *ProviderError {
	return &ProviderError{
		ProviderCode: providerCode,
		Symbol:       symbol,
		Message:      fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return e.Message
}

// IsProviderError checks if an error is a ProviderError.
// It uses errors.As to check the error chain.
func IsProviderError(err error) bool {
	var providerErr *ProviderError

	return errors.As(err, &providerErr)
}
