package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/httputil"
	"github.com/felipepmaragno/llm-gateway/internal/provider"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024
)

// Adapter translates canonical requests into the Anthropic messages API.
// System messages are lifted into the top-level system field.
type Adapter struct {
	name      string
	apiKey    string
	baseURL   string
	model     string
	client    *http.Client
	estimator *tokens.Estimator
}

func New(name, apiKey, baseURL, model string, est *tokens.Estimator) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		name:      name,
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		client:    httputil.APIClient(),
		estimator: est,
	}
}

func (a *Adapter) Name() string { return a.name }

type wireRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, req domain.Request) (*domain.Response, error) {
	wire := wireRequest{
		Model:       a.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = defaultMaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			if wire.System != "" {
				wire.System += "\n"
			}
			wire.System += m.Content
			continue
		}
		wire.Messages = append(wire.Messages, m)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.NewTransientError(a.name, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.StatusError(a.name, resp.StatusCode, string(bodyBytes))
	}

	var wireResp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, domain.NewTransientError(a.name, fmt.Errorf("decode response: %w", err))
	}

	var content string
	for _, block := range wireResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	out := &domain.Response{
		RequestID: req.ID,
		Provider:  a.name,
		Content:   content,
		Usage: domain.TokenUsage{
			Input:  wireResp.Usage.InputTokens,
			Output: wireResp.Usage.OutputTokens,
			Total:  wireResp.Usage.InputTokens + wireResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}
	provider.EnsureUsage(out, req, a.estimator)

	return out, nil
}
