package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
	if got := err.Error(); got != "[validation] CODE: message (root)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := ErrExecution("X", "msg").WithDetail("backend", "groq")
	if err.Details["backend"] != "groq" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name      string
		err       *DomainError
		category  ErrorCategory
		retryable bool
	}{
		{"validation", ErrValidation("C", "m"), ErrCatValidation, false},
		{"execution", ErrExecution("C", "m"), ErrCatExecution, true},
		{"timeout", ErrTimeout("m"), ErrCatTimeout, true},
		{"rate limit", ErrRateLimit("m"), ErrCatRateLimit, true},
		{"schema", ErrSchema("m"), ErrCatSchema, true},
		{"storage", ErrStorage(CodeStoreRead, "m"), ErrCatStorage, false},
		{"auth", ErrAuth("m"), ErrCatAuth, false},
		{"not found", ErrNotFound("comment", "1"), ErrCatNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("wrapped: %w", ErrExecution("X", "m"))) {
		t.Fatalf("expected wrapped retryable error")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected non-domain error to be non-retryable")
	}
}

func TestGetCategory(t *testing.T) {
	if got := GetCategory(ErrSchema("bad json")); got != ErrCatSchema {
		t.Errorf("GetCategory() = %s, want schema", got)
	}
	if got := GetCategory(errors.New("plain")); got != ErrCatInternal {
		t.Errorf("GetCategory() = %s, want internal", got)
	}
	if !IsCategory(ErrTimeout("slow"), ErrCatTimeout) {
		t.Error("IsCategory() = false, want true")
	}
}
