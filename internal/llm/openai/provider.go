package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/llm"
)

const (
	providerName          = "openai"
	defaultModelName      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultTimeout        = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容接口所需的信息。
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
	Temperature    float64
	MaxTokens      int64
}

// Provider 基于官方 SDK 实现 llm.Provider。
type Provider struct {
	client         sdk.Client
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int64
}

// New 根据配置创建 OpenAI Provider。
func New(cfg Config, opts ...option.RequestOption) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if cfg.MaxRetries >= 0 {
		requestOpts = append(requestOpts, option.WithMaxRetries(cfg.MaxRetries))
	}
	requestOpts = append(requestOpts, opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	return &Provider{
		client:         sdk.NewClient(requestOpts...),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
	}, nil
}

// ChatCompletion 发送有序消息并返回首个候选回复。
func (p *Provider) ChatCompletion(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(p.model),
		Messages: convertMessages(messages),
	}
	if p.temperature > 0 {
		params.Temperature = sdk.Float(p.temperature)
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(p.maxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeProviderFailure, err, "")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeProviderFailure, "openai chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Completion 将单条提示作为用户消息发送。
func (p *Provider) Completion(ctx context.Context, prompt string) (string, error) {
	return p.ChatCompletion(ctx, []llm.Message{llm.UserMessage(prompt)})
}

// Embeddings 批量生成文本向量，返回顺序与输入一致。
func (p *Provider) Embeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(p.embeddingModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "")
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			continue
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}

// HealthCheck 通过列出模型验证凭据与连通性。
func (p *Provider) HealthCheck(ctx context.Context) llm.Health {
	health := llm.Health{Provider: providerName, Model: p.model}
	if _, err := p.client.Models.List(ctx); err != nil {
		health.Status = llm.HealthStatusUnhealthy
		health.Detail = err.Error()
		return health
	}
	health.Status = llm.HealthStatusHealthy
	return health
}

func convertMessages(messages []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	converted := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			converted = append(converted, sdk.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			converted = append(converted, sdk.AssistantMessage(msg.Content))
		default:
			converted = append(converted, sdk.UserMessage(msg.Content))
		}
	}
	return converted
}

var _ llm.Provider = (*Provider)(nil)
