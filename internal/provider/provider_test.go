package provider

import (
	"testing"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   domain.ErrorClass
	}{
		{429, domain.ClassTransient},
		{500, domain.ClassTransient},
		{502, domain.ClassTransient},
		{503, domain.ClassTransient},
		{400, domain.ClassPermanent},
		{401, domain.ClassPermanent},
		{404, domain.ClassPermanent},
		{200, domain.ClassUnknown},
		{302, domain.ClassUnknown},
	}

	for _, tc := range cases {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, got)
		}
	}
}

func TestStatusError_Classification(t *testing.T) {
	err := StatusError("openai", 503, "upstream unavailable")

	if err.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", err.Provider)
	}
	if err.Class != domain.ClassTransient {
		t.Errorf("expected transient, got %v", err.Class)
	}
}

func TestEnsureUsage_FillsEstimateWhenMissing(t *testing.T) {
	est := tokens.NewEstimator()

	req := domain.Request{Messages: []domain.Message{{Role: "user", Content: "hello"}}}
	resp := &domain.Response{Content: "hi there"}

	EnsureUsage(resp, req, est)

	if resp.Usage.Input == 0 || resp.Usage.Output == 0 {
		t.Errorf("expected estimated usage, got %+v", resp.Usage)
	}
	if resp.Usage.Total != resp.Usage.Input+resp.Usage.Output {
		t.Errorf("expected total to be input+output, got %+v", resp.Usage)
	}
}

func TestEnsureUsage_KeepsReportedUsage(t *testing.T) {
	est := tokens.NewEstimator()

	resp := &domain.Response{
		Content: "hi",
		Usage:   domain.TokenUsage{Input: 10, Output: 5, Total: 15},
	}

	EnsureUsage(resp, domain.Request{}, est)

	if resp.Usage.Input != 10 || resp.Usage.Output != 5 || resp.Usage.Total != 15 {
		t.Errorf("expected reported usage kept, got %+v", resp.Usage)
	}
}
