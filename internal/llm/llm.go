package llm

import (
	"context"
	"strings"
)

// Role 标识对话消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给大模型的一条有序消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage 构造系统消息。
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage 构造用户消息。
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage 构造助手消息。
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// Health 描述一次健康检查的结果。
type Health struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Model    string `json:"model,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Healthy 判断健康检查是否通过。
func (h Health) Healthy() bool { return h.Status == HealthStatusHealthy }

// Provider 定义了调用大模型的统一接口，实现必须支持并发调用。
type Provider interface {
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
	Completion(ctx context.Context, prompt string) (string, error)
	Embeddings(ctx context.Context, texts []string) ([][]float64, error)
	HealthCheck(ctx context.Context) Health
}

// SplitSystem 将系统消息合并为一段文本，并返回其余的对话消息。
// 部分服务商要求系统提示单独传递。
func SplitSystem(messages []Message) (string, []Message) {
	var (
		system []string
		rest   = make([]Message, 0, len(messages))
	)
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
