// Package domainerrors defines coded errors shared by every service in the engine.
//
// Services return *Error values (optionally wrapping a cause) so transports can map
// them to status codes without string matching. Stores return sentinel errors from
// pkg/platform/sentinel and services translate them into codes here.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeGone               Code = "gone"

	// DSR taxonomy.
	CodeVerificationFailed          Code = "verification_failed"
	CodeRateLimited                 Code = "rate_limited"
	CodeManifestIncomplete          Code = "manifest_incomplete"
	CodeExportFailed                Code = "export_failed"
	CodeDeletionVerificationFailed  Code = "deletion_verification_failed"
	CodeCertificateSignatureInvalid Code = "certificate_signature_invalid"
	CodeDeadlineExceeded            Code = "deadline_exceeded"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is set for CodeRateLimited errors.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
// Wrapping a nil error returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// RateLimited builds a CodeRateLimited error carrying the remaining lockout time.
func RateLimited(message string, retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Code: CodeRateLimited, Message: message, RetryAfter: retryAfter}
}

// HasCode reports whether any error in the chain carries the code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// Is reports whether the outermost coded error in the chain has the code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// RetryAfterOf returns the retry-after hint of a rate-limited error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == CodeRateLimited {
			return de.RetryAfter, true
		}
		err = de.cause
	}
	return 0, false
}

// ToHTTPStatus maps a code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeVerificationFailed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	case CodeGone, CodeDeadlineExceeded:
		return http.StatusGone
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeManifestIncomplete:
		return http.StatusServiceUnavailable
	case CodeCertificateSignatureInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
