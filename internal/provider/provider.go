// Package provider defines the adapter contract between the gateway core
// and upstream AI vendors. Each adapter translates the canonical request
// into the vendor's call shape and classifies vendor failures; the core
// never touches a vendor SDK or wire format directly.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

// Adapter is implemented once per upstream vendor.
//
// Generate must classify every failure as transient, permanent or
// unknown via domain.ProviderError, and must always report token usage:
// when the vendor omits it, the adapter estimates deterministically so
// the cost ledger has a number to work with.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req domain.Request) (*domain.Response, error)
}

// ClassifyStatus maps an upstream HTTP status to an error class.
// 5xx and 429 are worth retrying; 4xx means the request itself is bad.
func ClassifyStatus(status int) domain.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ClassTransient
	case status >= 500:
		return domain.ClassTransient
	case status >= 400:
		return domain.ClassPermanent
	default:
		return domain.ClassUnknown
	}
}

// StatusError converts an upstream HTTP failure into a classified error.
func StatusError(provider string, status int, body string) *domain.ProviderError {
	err := fmt.Errorf("status=%d body=%s", status, body)
	return &domain.ProviderError{Provider: provider, Class: ClassifyStatus(status), Err: err}
}

// EnsureUsage fills in estimated token usage when the vendor reported none.
func EnsureUsage(resp *domain.Response, req domain.Request, est *tokens.Estimator) {
	if resp.Usage.Total > 0 {
		return
	}
	if resp.Usage.Input == 0 {
		resp.Usage.Input = est.CountMessages(req.Messages)
	}
	if resp.Usage.Output == 0 {
		resp.Usage.Output = est.Count(resp.Content)
	}
	resp.Usage.Total = resp.Usage.Input + resp.Usage.Output
}
