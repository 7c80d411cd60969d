package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/llm"
)

const (
	providerName     = "anthropic"
	defaultModelName = "claude-3-5-sonnet-20241022"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// ErrEmbeddingsUnsupported 表示该服务商不提供向量接口。
var ErrEmbeddingsUnsupported = errors.New("anthropic provider does not support embeddings")

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	MaxTokens   int64
	Temperature float64
}

// Provider 基于官方 SDK 实现 llm.Provider。
type Provider struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature float64
}

// New 根据配置创建 Anthropic Provider。
func New(cfg Config, opts ...option.RequestOption) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
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
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Provider{
		client:      sdk.NewClient(requestOpts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// ChatCompletion 将系统消息拆出后调用 Messages API，返回所有文本块拼接的结果。
func (p *Provider) ChatCompletion(ctx context.Context, messages []llm.Message) (string, error) {
	system, dialog := llm.SplitSystem(messages)
	turns := mergeTurns(dialog)
	if len(turns) == 0 {
		return "", errors.New("messages cannot be empty")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if p.temperature > 0 {
		params.Temperature = sdk.Float(p.temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeProviderFailure, err, "")
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.AsText().Text)
		}
	}
	if len(parts) == 0 {
		return "", xerrors.New(xerrors.CodeProviderFailure, "anthropic messages returned no text content")
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// Completion 将单条提示作为用户消息发送。
func (p *Provider) Completion(ctx context.Context, prompt string) (string, error) {
	return p.ChatCompletion(ctx, []llm.Message{llm.UserMessage(prompt)})
}

// Embeddings 始终返回 ErrEmbeddingsUnsupported。
func (p *Provider) Embeddings(context.Context, []string) ([][]float64, error) {
	return nil, ErrEmbeddingsUnsupported
}

// HealthCheck 通过列出模型验证凭据与连通性。
func (p *Provider) HealthCheck(ctx context.Context) llm.Health {
	health := llm.Health{Provider: providerName, Model: p.model}
	if _, err := p.client.Models.List(ctx, sdk.ModelListParams{}); err != nil {
		health.Status = llm.HealthStatusUnhealthy
		health.Detail = err.Error()
		return health
	}
	health.Status = llm.HealthStatusHealthy
	return health
}

// mergeTurns 合并相邻的同角色消息，Messages API 要求用户与助手交替出现且以用户开头。
func mergeTurns(messages []llm.Message) []sdk.MessageParam {
	type turn struct {
		role  llm.Role
		parts []string
	}
	var merged []turn
	for _, msg := range messages {
		role := msg.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if len(merged) == 0 && role == llm.RoleAssistant {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].role == role {
			merged[n-1].parts = append(merged[n-1].parts, msg.Content)
			continue
		}
		merged = append(merged, turn{role: role, parts: []string{msg.Content}})
	}

	params := make([]sdk.MessageParam, 0, len(merged))
	for _, t := range merged {
		block := sdk.NewTextBlock(strings.Join(t.parts, "\n\n"))
		if t.role == llm.RoleAssistant {
			params = append(params, sdk.NewAssistantMessage(block))
		} else {
			params = append(params, sdk.NewUserMessage(block))
		}
	}
	return params
}

var _ llm.Provider = (*Provider)(nil)
