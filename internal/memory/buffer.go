package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/llm"
)

// Strategy 选择进程内对话缓冲的保留策略。
type Strategy string

const (
	StrategyWindow  Strategy = "window"
	StrategySummary Strategy = "summary"

	DefaultWindowSize        = 10
	DefaultSummaryTokenLimit = 2000
)

// ParseStrategy 解析策略名称，未知值返回 false。
func ParseStrategy(value string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategyWindow:
		return StrategyWindow, true
	case StrategySummary:
		return StrategySummary, true
	default:
		return "", false
	}
}

// Buffer 是两种保留策略共同的契约。
type Buffer interface {
	Add(ctx context.Context, msg llm.Message) error
	Messages() []llm.Message
	Clear()
}

// WindowBuffer 只保留最近 k 轮（2k 条）消息。
type WindowBuffer struct {
	mu       sync.Mutex
	k        int
	messages []llm.Message
}

// NewWindowBuffer 创建窗口缓冲，k<=0 时使用默认值。
func NewWindowBuffer(k int) *WindowBuffer {
	if k <= 0 {
		k = DefaultWindowSize
	}
	return &WindowBuffer{k: k}
}

// Add 追加消息并丢弃超出窗口的最旧消息。
func (b *WindowBuffer) Add(_ context.Context, msg llm.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	if overflow := len(b.messages) - 2*b.k; overflow > 0 {
		b.messages = append([]llm.Message(nil), b.messages[overflow:]...)
	}
	return nil
}

// Messages 返回按时间顺序排列的副本。
func (b *WindowBuffer) Messages() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Message(nil), b.messages...)
}

// Clear 清空缓冲。
func (b *WindowBuffer) Clear() {
	b.mu.Lock()
	b.messages = nil
	b.mu.Unlock()
}

// Summarizer 是摘要缓冲所需的补全能力，llm.Provider 满足该接口。
type Summarizer interface {
	Completion(ctx context.Context, prompt string) (string, error)
}

// SummaryBuffer 在内容超过 token 预算时，把较早的消息压缩进滚动摘要。
type SummaryBuffer struct {
	mu         sync.Mutex
	summarizer Summarizer
	tokenLimit int
	summary    string
	messages   []llm.Message
}

// NewSummaryBuffer 创建摘要缓冲，tokenLimit<=0 时使用默认值。
func NewSummaryBuffer(summarizer Summarizer, tokenLimit int) *SummaryBuffer {
	if tokenLimit <= 0 {
		tokenLimit = DefaultSummaryTokenLimit
	}
	return &SummaryBuffer{summarizer: summarizer, tokenLimit: tokenLimit}
}

// Add 追加消息，必要时调用大模型压缩旧消息。
// 压缩失败时保留原始消息并返回错误，下次追加时会再次尝试。
func (b *SummaryBuffer) Add(ctx context.Context, msg llm.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)
	total := 0
	for _, m := range b.messages {
		total += estimateTokens(m.Content)
	}
	if total <= b.tokenLimit {
		return nil
	}

	// 至少保留最新一条消息。
	cut := 0
	for cut < len(b.messages)-1 && total > b.tokenLimit {
		total -= estimateTokens(b.messages[cut].Content)
		cut++
	}
	if cut == 0 {
		return nil
	}

	summary, err := b.summarizer.Completion(ctx, summaryPrompt(b.summary, b.messages[:cut]))
	if err != nil {
		return xerrors.Wrap(CodeSummarize, err, "压缩历史对话失败")
	}
	b.summary = strings.TrimSpace(summary)
	b.messages = append([]llm.Message(nil), b.messages[cut:]...)
	return nil
}

// Messages 返回摘要（作为系统消息）与未压缩的消息。
func (b *SummaryBuffer) Messages() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.Message, 0, len(b.messages)+1)
	if b.summary != "" {
		out = append(out, llm.SystemMessage("Summary of earlier conversation:\n"+b.summary))
	}
	return append(out, b.messages...)
}

// Summary 返回当前滚动摘要。
func (b *SummaryBuffer) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary
}

// Clear 清空摘要与消息。
func (b *SummaryBuffer) Clear() {
	b.mu.Lock()
	b.summary = ""
	b.messages = nil
	b.mu.Unlock()
}

func summaryPrompt(previous string, lines []llm.Message) string {
	var sb strings.Builder
	sb.WriteString("Progressively summarize the lines of conversation provided, adding onto the previous summary and returning a new summary.\n\n")
	sb.WriteString("Current summary:\n")
	sb.WriteString(previous)
	sb.WriteString("\n\nNew lines of conversation:\n")
	for _, m := range lines {
		speaker := "Human"
		switch m.Role {
		case llm.RoleAssistant:
			speaker = "AI"
		case llm.RoleSystem:
			speaker = "System"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	sb.WriteString("\nNew summary:")
	return sb.String()
}

// estimateTokens 粗略估算 token 数，约四个字符一个 token。
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text)/4 + 1
}

var (
	_ Buffer = (*WindowBuffer)(nil)
	_ Buffer = (*SummaryBuffer)(nil)
)
