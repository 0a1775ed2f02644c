package openai

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

// Adapter translates canonical requests into OpenAI chat completion calls.
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
		baseURL = "https://api.openai.com/v1"
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
	Messages    []domain.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, req domain.Request) (*domain.Response, error) {
	wire := wireRequest{
		Model:       a.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = &req.MaxTokens
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

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

	if len(wireResp.Choices) == 0 {
		return nil, domain.NewTransientError(a.name, errors.New("empty choices"))
	}

	out := &domain.Response{
		RequestID: req.ID,
		Provider:  a.name,
		Content:   wireResp.Choices[0].Message.Content,
		Usage: domain.TokenUsage{
			Input:  wireResp.Usage.PromptTokens,
			Output: wireResp.Usage.CompletionTokens,
			Total:  wireResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}
	provider.EnsureUsage(out, req, a.estimator)

	return out, nil
}
