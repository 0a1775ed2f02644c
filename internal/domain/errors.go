package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy returned by the gateway. Callers branch on these with
// errors.Is/errors.As; adapter-specific errors never escape unwrapped.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCapacityExceeded    = errors.New("provider capacity exceeded")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrDeadlineExceeded    = errors.New("request deadline exceeded")
	ErrNoProviderAvailable = errors.New("no provider available")
)

// ErrorClass categorizes a provider failure for retry decisions.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota // uncategorized, retried once then surfaced
	ClassTransient                 // network timeout, 5xx, rate limited
	ClassPermanent                 // malformed request, auth failure
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ProviderError wraps a single provider failure with its classification.
type ProviderError struct {
	Provider string
	Class    ErrorClass
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewTransientError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassTransient, Err: err}
}

func NewPermanentError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassPermanent, Err: err}
}

func NewUnknownError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassUnknown, Err: err}
}

// ClassOf extracts the classification from an error chain.
// Anything that is not a ProviderError is treated as unknown.
func ClassOf(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassUnknown
}

// Attempt records the terminal error of one provider candidate.
type Attempt struct {
	Provider string
	Err      error
}

// AllProvidersFailedError aggregates the last error of every candidate
// tried for a request.
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers failed: no capable provider"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the underlying attempt errors to errors.Is/errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
