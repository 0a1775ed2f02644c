package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassOf_ProviderError(t *testing.T) {
	err := NewTransientError("openai", errors.New("timeout"))

	if ClassOf(err) != ClassTransient {
		t.Errorf("expected ClassTransient, got %v", ClassOf(err))
	}
}

func TestClassOf_WrappedProviderError(t *testing.T) {
	err := fmt.Errorf("call failed: %w", NewPermanentError("openai", errors.New("bad auth")))

	if ClassOf(err) != ClassPermanent {
		t.Errorf("expected ClassPermanent, got %v", ClassOf(err))
	}
}

func TestClassOf_PlainError(t *testing.T) {
	if ClassOf(errors.New("something")) != ClassUnknown {
		t.Error("expected plain errors to classify as unknown")
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransientError("ollama", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestErrorClass_String(t *testing.T) {
	cases := []struct {
		class ErrorClass
		want  string
	}{
		{ClassTransient, "transient"},
		{ClassPermanent, "permanent"},
		{ClassUnknown, "unknown"},
	}

	for _, tc := range cases {
		if got := tc.class.String(); got != tc.want {
			t.Errorf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestAllProvidersFailedError_AggregatesAttempts(t *testing.T) {
	err := &AllProvidersFailedError{
		Attempts: []Attempt{
			{Provider: "a", Err: errors.New("timeout")},
			{Provider: "b", Err: errors.New("rate limited")},
		},
	}

	msg := err.Error()
	if !strings.Contains(msg, "a: timeout") || !strings.Contains(msg, "b: rate limited") {
		t.Errorf("expected aggregated message, got %q", msg)
	}
}

func TestAllProvidersFailedError_UnwrapReachesAttemptErrors(t *testing.T) {
	err := &AllProvidersFailedError{
		Attempts: []Attempt{
			{Provider: "a", Err: fmt.Errorf("%w: a", ErrCircuitOpen)},
			{Provider: "b", Err: fmt.Errorf("%w: b", ErrCapacityExceeded)},
		},
	}

	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected errors.Is to find ErrCircuitOpen among attempts")
	}
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Error("expected errors.Is to find ErrCapacityExceeded among attempts")
	}
}

func TestAllProvidersFailedError_EmptyAttempts(t *testing.T) {
	err := &AllProvidersFailedError{}

	if !strings.Contains(err.Error(), "no capable provider") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
