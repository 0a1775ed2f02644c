package ollama

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

// Adapter talks to a local or self-hosted Ollama instance. Ollama reports
// eval counts rather than token usage, so the usage mapping is direct.
type Adapter struct {
	name      string
	baseURL   string
	model     string
	client    *http.Client
	estimator *tokens.Estimator
}

func New(name, baseURL, model string, est *tokens.Estimator) *Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Adapter{
		name:      name,
		baseURL:   baseURL,
		model:     model,
		client:    httputil.LocalClient(),
		estimator: est,
	}
}

func (a *Adapter) Name() string { return a.name }

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type wireRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  wireOptions      `json:"options,omitempty"`
}

type wireResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (a *Adapter) Generate(ctx context.Context, req domain.Request) (*domain.Response, error) {
	wire := wireRequest{
		Model:    a.model,
		Messages: req.Messages,
		Stream:   false,
		Options:  wireOptions{Temperature: req.Temperature},
	}
	if req.MaxTokens > 0 {
		wire.Options.NumPredict = &req.MaxTokens
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError(a.name, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	out := &domain.Response{
		RequestID: req.ID,
		Provider:  a.name,
		Content:   wireResp.Message.Content,
		Usage: domain.TokenUsage{
			Input:  wireResp.PromptEvalCount,
			Output: wireResp.EvalCount,
			Total:  wireResp.PromptEvalCount + wireResp.EvalCount,
		},
		Latency: time.Since(start),
	}
	provider.EnsureUsage(out, req, a.estimator)

	return out, nil
}
