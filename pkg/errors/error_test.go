package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "fuzsandbox/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidParams, "Invalid parameters"},
		{SandboxChildStartFailed, "The child process has exited unexpectedly"},
		{SandboxCleanupFailed, "Failed to release accounting groups"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_Transient(t *testing.T) {
	if !SandboxChildStartFailed.Transient() {
		t.Error("child start failure should be transient")
	}
	for _, code := range []ErrorCode{SandboxSpawnFailed, SandboxWaitFailed, InvalidParams} {
		if code.Transient() {
			t.Errorf("%v should not be transient", code)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: fmt.Errorf("boom"), want: false},
		{name: "direct", err: New(SandboxChildStartFailed), want: true},
		{name: "wrapped_by_permanent_code", err: Wrap(New(SandboxChildStartFailed), SandboxSpawnFailed), want: true},
		{name: "stdlib_wrapped", err: fmt.Errorf("clone: %w", New(SandboxChildStartFailed)), want: true},
		{name: "permanent", err: New(SandboxSpawnFailed), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(SandboxWaitFailed, "wait for pid %d failed", 42)

	want := "wait for pid 42 failed"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("device or resource busy")
	wrappedErr := Wrap(originalErr, SandboxCleanupFailed)

	if wrappedErr.Code != SandboxCleanupFailed {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, SandboxCleanupFailed)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if !errors.Is(wrappedErr, originalErr) {
		t.Error("errors.Is should see the original error")
	}
	if got, want := wrappedErr.Error(), "Failed to release accounting groups: device or resource busy"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if Wrap(nil, SandboxCleanupFailed) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(SandboxSpawnFailed), want: SandboxSpawnFailed},
		{name: "fmt wrapped", err: fmt.Errorf("attempt 3: %w", New(SandboxChildStartFailed)), want: SandboxChildStartFailed},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	inner := New(SandboxChildStartFailed)
	outer := Wrapf(inner, SandboxSpawnFailed, "spawn failed")

	if !Is(outer, SandboxSpawnFailed) {
		t.Error("Is() should match the outer code")
	}
	if !Is(outer, SandboxChildStartFailed) {
		t.Error("Is() should match a wrapped code")
	}
	if Is(outer, SandboxWaitFailed) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, SandboxSpawnFailed) {
		t.Error("Is() should return false for nil error")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("executable", "required")
	if err.Code != ValidationFailed {
		t.Error("ValidationError should use ValidationFailed code")
	}
	if err.Details["field"] != "executable" {
		t.Error("Field detail not set")
	}
	if err.Error() != "invalid executable: required" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
