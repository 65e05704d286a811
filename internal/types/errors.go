package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All services MUST use these constants instead of hardcoded strings.
const (
	// Configuration / validation. Not retried by clients; the pipeline still
	// reschedules the row at the standard retry delay.
	ErrCodeValidationConfig        ErrorCode = "validation_config"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationPayloadSchema ErrorCode = "validation_payload_schema"
	ErrCodeValidationPayloadDecode ErrorCode = "validation_payload_decode"

	// Not Found
	ErrCodeNotFoundAccount ErrorCode = "not_found_account"
	ErrCodeNotFoundDataset ErrorCode = "not_found_dataset"
	ErrCodeNotFoundExport  ErrorCode = "not_found_export"

	// Conflict
	ErrCodeConflictClaimLost  ErrorCode = "conflict_claim_lost"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Internal
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Upstream (reporting API)
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamAuth          ErrorCode = "upstream_auth_failed"
	ErrCodeUpstreamDownload      ErrorCode = "upstream_download_failed"
	ErrCodeUpstreamReportFailed  ErrorCode = "upstream_report_failed"
	ErrCodeUpstreamReportTimeout ErrorCode = "upstream_report_timeout"
)

// Transient reports whether the code represents a failure that a retry of the
// same operation may resolve. Used by the HTTP client's backoff loop and by
// the worker when deciding whether an error is worth a same-request retry;
// the dataset-level reschedule happens regardless of this classification.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrCodeUpstreamUnavailable,
		ErrCodeUpstreamTimeout,
		ErrCodeUpstreamRateLimited,
		ErrCodeUpstreamDownload,
		ErrCodeInternalDB:
		return true
	default:
		return false
	}
}

// InvalidatesExport reports whether the failure makes the outstanding export
// handle unusable. When true, the pipeline clears report_id so the next cycle
// requests a fresh export instead of re-polling a dead one.
func (c ErrorCode) InvalidatesExport() bool {
	switch {
	case c == ErrCodeUpstreamReportFailed,
		c == ErrCodeUpstreamReportTimeout:
		return true
	case strings.HasPrefix(string(c), "validation_payload"):
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain errors should be expressed as AppError to enable consistent error
// formatting, retry classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from anywhere in an error chain.
// Errors that are not AppErrors classify as internal_unexpected_error.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
