// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		// General errors
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"validation", ErrValidation},

		// Database errors
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"constraint", ErrConstraint},
		{"storage quota", ErrStorageQuota},
		{"unknown table", ErrUnknownTable},

		// Queue errors
		{"queue full", ErrQueueFull},
		{"queue item not found", ErrQueueItemNotFound},

		// Sync errors
		{"sync in progress", ErrSyncInProgress},
		{"sync offline", ErrSyncOffline},
		{"sync transient", ErrSyncTransient},
		{"sync terminal", ErrSyncTerminal},

		// Export errors
		{"export failed", ErrExportFailed},

		// Media errors
		{"media unsupported", ErrMediaUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrQueueFull, Message: "enqueue rejected", Err: errors.New("200 items pending")},
			want:     "[QUEUE_FULL] enqueue rejected: 200 items pending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies the wrapped error is reachable via errors.Is.
func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	appErr := Wrap(ErrStorageQuota, "write rejected", cause)

	if !errors.Is(appErr, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if appErr.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}
}

// TestNew verifies New constructs a code-only error.
func TestNew(t *testing.T) {
	err := New(ErrSyncInProgress, "sync already in progress")

	if err.Code != ErrSyncInProgress {
		t.Errorf("Code = %q, want %q", err.Code, ErrSyncInProgress)
	}
	if err.Err != nil {
		t.Error("Err should be nil for New()")
	}
	if !strings.Contains(err.Error(), "SYNC_IN_PROGRESS") {
		t.Errorf("Error() = %q, should contain the code", err.Error())
	}
}

// TestIs verifies code matching across wrap chains.
func TestIs(t *testing.T) {
	base := New(ErrQueueFull, "capacity reached")
	wrapped := fmt.Errorf("enqueue: %w", base)

	if !Is(base, ErrQueueFull) {
		t.Error("Is() should match the direct AppError")
	}
	if !Is(wrapped, ErrQueueFull) {
		t.Error("Is() should match an AppError wrapped by fmt.Errorf")
	}
	if Is(wrapped, ErrSyncTerminal) {
		t.Error("Is() should not match a different code")
	}
	if Is(errors.New("plain"), ErrQueueFull) {
		t.Error("Is() should not match a plain error")
	}
	if Is(nil, ErrQueueFull) {
		t.Error("Is() should not match nil")
	}
}

// TestCodeOf verifies code extraction with fallback.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrSyncTerminal, "retries exhausted")); got != ErrSyncTerminal {
		t.Errorf("CodeOf() = %q, want %q", got, ErrSyncTerminal)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}
