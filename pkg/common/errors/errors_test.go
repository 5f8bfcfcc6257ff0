package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("bridge", "resultAttribute", "score", "already exists in schema").
		WithHint("choose an unused attribute name")

	if !IsConfiguration(err) {
		t.Error("expected IsConfiguration to be true")
	}
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Error("expected errors.Is(err, ErrInvalidConfiguration) to be true")
	}
	if IsStageFatal(err) {
		t.Error("configuration error should not be stage-fatal")
	}

	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestConfigurationErrorWrapped(t *testing.T) {
	inner := NewConfigurationError("operator", "input", nil, "cannot be nil")
	wrapped := fmt.Errorf("opening stage: %w", inner)

	if !IsConfiguration(wrapped) {
		t.Error("expected IsConfiguration to see through wrapping")
	}

	var ce *ConfigurationError
	if !errors.As(wrapped, &ce) {
		t.Fatal("expected errors.As to extract ConfigurationError")
	}
	if ce.Module != "operator" {
		t.Errorf("got module %q, want %q", ce.Module, "operator")
	}
}

func TestStageError(t *testing.T) {
	err := NewStageError("classifier", "result count mismatch", nil)

	if !IsStageFatal(err) {
		t.Error("expected IsStageFatal to be true")
	}
	if IsConfiguration(err) {
		t.Error("stage error should not be a configuration error")
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	err := NewStageError("classifier", "connect", ErrServiceUnavailable)

	if !errors.Is(err, ErrServiceUnavailable) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
	if !IsRetryable(ErrServiceUnavailable) {
		t.Error("expected service unavailability to be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"service unavailable", ErrServiceUnavailable, true},
		{"closed", ErrClosed, false},
		{"nil", nil, false},
		{"wrapped timeout", fmt.Errorf("barrier: %w", ErrTimeout), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
