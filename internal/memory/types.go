package memory

import (
	"time"

	xerrors "agent-platform/internal/errors"
)

// ItemType 区分上下文条目的来源。
type ItemType string

const (
	ItemMessage    ItemType = "message"
	ItemDocument   ItemType = "document"
	ItemToolResult ItemType = "tool_result"
	ItemMemory     ItemType = "memory"
)

// ContextItem 是一条不可变的上下文记录，写入存储后按 TTL 过期。
type ContextItem struct {
	ID        string         `json:"id"`
	Type      ItemType       `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// ConversationTurn 记录一次完整的对话轮次。
type ConversationTurn struct {
	TurnID        string         `json:"turn_id"`
	UserMessage   string         `json:"user_message"`
	AgentResponse string         `json:"agent_response"`
	ContextUsed   []ContextItem  `json:"context_used,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

const (
	CodeItemNotFound xerrors.Code = "MEMORY_ITEM_NOT_FOUND"
	CodeSummarize    xerrors.Code = "MEMORY_SUMMARIZE_FAILED"
)

var (
	// ErrItemNotFound 表示上下文条目不存在或已过期。
	ErrItemNotFound = xerrors.New(CodeItemNotFound, "context item not found")
)

func init() {
	xerrors.Register(CodeItemNotFound, xerrors.Attributes{
		Message:  "context item not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSummarize, xerrors.Attributes{
		Message:   "conversation summarization failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
