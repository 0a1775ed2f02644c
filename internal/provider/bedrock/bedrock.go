package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/provider"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1024
)

// Adapter invokes Anthropic models hosted on AWS Bedrock.
type Adapter struct {
	name      string
	modelID   string
	client    *bedrockruntime.Client
	estimator *tokens.Estimator
}

func New(ctx context.Context, name, region, modelID string, est *tokens.Estimator) (*Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg, name, modelID, est), nil
}

func NewWithConfig(cfg aws.Config, name, modelID string, est *tokens.Estimator) *Adapter {
	return &Adapter{
		name:      name,
		modelID:   modelID,
		client:    bedrockruntime.NewFromConfig(cfg),
		estimator: est,
	}
}

func (a *Adapter) Name() string { return a.name }

type wireRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	System           string           `json:"system,omitempty"`
	Messages         []domain.Message `json:"messages"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      *float64         `json:"temperature,omitempty"`
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
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
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

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	start := time.Now()
	output, err := a.client.InvokeModel(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// The SDK surfaces throttling and 5xx as opaque operation errors;
		// both are worth a retry, so classify the whole lot transient.
		return nil, domain.NewTransientError(a.name, fmt.Errorf("invoke model: %w", err))
	}

	var wireResp wireResponse
	if err := json.Unmarshal(output.Body, &wireResp); err != nil {
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
