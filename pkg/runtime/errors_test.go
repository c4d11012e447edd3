package runtime

import (
	"errors"
	"testing"
)

func TestRuntimeError_ErrorIncludesCauseWhenPresent(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying failure")
	err := NewRuntimeError(CodeNetworkError, "upstream call failed", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through to the wrapped cause")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestRuntimeError_ErrorWithoutCause(t *testing.T) {
	t.Parallel()

	err := NewRuntimeError(CodeZeroOutput, "empty output", nil)
	if err.Unwrap() != nil {
		t.Error("expected a nil Unwrap when no cause was given")
	}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}
