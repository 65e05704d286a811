package types

import (
	"errors"
	"fmt"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationPayloadSchema,
		Message: "record 14 missing required field campaignId",
	}

	expected := "validation_payload_schema: record 14 missing required field campaignId"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := &AppError{
		Code:    ErrCodeInternalDB,
		Message: "failed to claim dataset period",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorUnwrapNil verifies Unwrap returns nil when no underlying error exists.
func TestAppErrorUnwrapNil(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundDataset,
		Message: "dataset period not found",
	}

	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from a chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeUpstreamRateLimited,
		Message: "report API throttled the request",
	}
	wrappedErr := fmt.Errorf("create export: %w", appErr)

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeUpstreamRateLimited {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeUpstreamRateLimited)
	}
}

// TestAppErrorErrorsIs verifies that errors.Is works through the AppError chain.
func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := &AppError{
		Code:    ErrCodeInternalUnexpected,
		Message: "unexpected failure",
		Err:     sentinel,
	}

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the sentinel through the AppError chain")
	}
}

// TestWithDetailsDoesNotMutate verifies WithDetails copies rather than mutates.
func TestWithDetailsDoesNotMutate(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeUpstreamReportFailed, "export failed remotely", nil,
		map[string]any{"export_id": "R1"})

	enriched := orig.WithDetails(map[string]any{"account_id": "acc-1"})

	if _, ok := orig.Details["account_id"]; ok {
		t.Error("WithDetails mutated the original error's details")
	}
	if enriched.Details["export_id"] != "R1" || enriched.Details["account_id"] != "acc-1" {
		t.Errorf("merged details incomplete: %v", enriched.Details)
	}
}

func TestErrorCodeTransient(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeUpstreamUnavailable, true},
		{ErrCodeUpstreamTimeout, true},
		{ErrCodeUpstreamRateLimited, true},
		{ErrCodeUpstreamDownload, true},
		{ErrCodeInternalDB, true},
		{ErrCodeUpstreamReportFailed, false},
		{ErrCodeValidationPayloadSchema, false},
		{ErrCodeValidationConfig, false},
		{ErrCodeNotFoundAccount, false},
		{ErrCodeConflictClaimLost, false},
	}

	for _, tt := range tests {
		if got := tt.code.Transient(); got != tt.want {
			t.Errorf("Transient(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorCodeInvalidatesExport(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeUpstreamReportFailed, true},
		{ErrCodeUpstreamReportTimeout, true},
		{ErrCodeValidationPayloadSchema, true},
		{ErrCodeValidationPayloadDecode, true},
		{ErrCodeUpstreamTimeout, false},
		{ErrCodeUpstreamUnavailable, false},
		{ErrCodeInternalDB, false},
		{ErrCodeValidationConfig, false},
	}

	for _, tt := range tests {
		if got := tt.code.InvalidatesExport(); got != tt.want {
			t.Errorf("InvalidatesExport(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

// TestCodeOf verifies classification of wrapped and foreign errors.
func TestCodeOf(t *testing.T) {
	appErr := NewAppError(ErrCodeUpstreamAuth, "token rejected", nil)
	wrapped := fmt.Errorf("refresh token: %w", appErr)

	if got := CodeOf(wrapped); got != ErrCodeUpstreamAuth {
		t.Errorf("CodeOf(wrapped AppError) = %q, want %q", got, ErrCodeUpstreamAuth)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternalUnexpected {
		t.Errorf("CodeOf(plain error) = %q, want %q", got, ErrCodeInternalUnexpected)
	}
}
