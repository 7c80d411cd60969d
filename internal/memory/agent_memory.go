package memory

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-platform/internal/llm"
)

// Stats 汇总单个记忆句柄的状态。
type Stats struct {
	AgentID         string    `json:"agent_id"`
	SessionID       string    `json:"session_id"`
	Strategy        Strategy  `json:"strategy"`
	BufferedMessage int       `json:"buffered_messages"`
	EstimatedMB     float64   `json:"estimated_mb"`
	LastActive      time.Time `json:"last_active"`
}

// AgentMemory 是某个 (智能体, 会话) 的对话记忆：进程内缓冲加共享存储。
type AgentMemory struct {
	agentID    string
	sessionID  string
	strategy   Strategy
	buffer     Buffer
	store      Store
	ttl        time.Duration
	historyMax int
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	lastActive time.Time
}

// AgentID 返回所属智能体。
func (m *AgentMemory) AgentID() string { return m.agentID }

// SessionID 返回所属会话。
func (m *AgentMemory) SessionID() string { return m.sessionID }

// Strategy 返回当前使用的保留策略。
func (m *AgentMemory) Strategy() Strategy { return m.strategy }

func (m *AgentMemory) touch() {
	m.mu.Lock()
	m.lastActive = m.now()
	m.mu.Unlock()
}

// LastActive 返回最近一次读写的时间。
func (m *AgentMemory) LastActive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}

func (m *AgentMemory) newItem(content string, typ ItemType, metadata map[string]any) ContextItem {
	return ContextItem{
		ID:        uuid.NewString(),
		Type:      typ,
		Content:   content,
		Metadata:  cloneMetadata(metadata),
		Timestamp: m.now().UTC(),
		AgentID:   m.agentID,
		SessionID: m.sessionID,
	}
}

// AddMessage 追加消息到缓冲并持久化为 message 类型的上下文条目。
// 缓冲与存储的错误会合并返回，但两者互不阻塞。
func (m *AgentMemory) AddMessage(ctx context.Context, msg llm.Message) (ContextItem, error) {
	m.touch()
	item := m.newItem(msg.Content, ItemMessage, map[string]any{"role": string(msg.Role)})

	bufErr := m.buffer.Add(ctx, msg)
	storeErr := m.store.SaveItem(ctx, item, m.ttl)
	return item, stdErrors.Join(bufErr, storeErr)
}

// AddContext 持久化一段非对话上下文，不进入缓冲。
func (m *AgentMemory) AddContext(ctx context.Context, content string, typ ItemType, metadata map[string]any) (ContextItem, error) {
	m.touch()
	if typ == "" {
		typ = ItemDocument
	}
	item := m.newItem(content, typ, metadata)
	if err := m.store.SaveItem(ctx, item, m.ttl); err != nil {
		return item, err
	}
	return item, nil
}

// ConversationHistory 优先返回缓冲内容；缓冲为空时从共享存储重建最近的轮次。
func (m *AgentMemory) ConversationHistory(ctx context.Context) ([]llm.Message, error) {
	m.touch()
	if messages := m.buffer.Messages(); len(messages) > 0 {
		return messages, nil
	}

	turns, err := m.store.RecentTurns(ctx, m.sessionID, m.historyMax)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(turns)*2)
	for i := len(turns) - 1; i >= 0; i-- {
		history = append(history,
			llm.UserMessage(turns[i].UserMessage),
			llm.AssistantMessage(turns[i].AgentResponse),
		)
	}
	return history, nil
}

// RelevantContext 按关键词重合度返回与 query 最相关的条目。
func (m *AgentMemory) RelevantContext(ctx context.Context, query string, limit int) ([]ContextItem, error) {
	m.touch()
	if limit <= 0 {
		limit = 5
	}
	candidates, err := m.store.AgentItems(ctx, m.agentID, max(limit*10, 50))
	if err != nil {
		return nil, err
	}
	queryWords := wordSet(query)
	if len(queryWords) == 0 {
		return []ContextItem{}, nil
	}

	type scored struct {
		item    ContextItem
		overlap int
	}
	matches := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		overlap := 0
		for word := range wordSet(item.Content) {
			if _, ok := queryWords[word]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			matches = append(matches, scored{item: item, overlap: overlap})
		}
	}
	// candidates 已按时间倒序，稳定排序保证同分时较新的在前。
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].overlap > matches[j].overlap })

	results := make([]ContextItem, 0, min(limit, len(matches)))
	for _, match := range matches {
		if len(results) == limit {
			break
		}
		results = append(results, match.item)
	}
	return results, nil
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

// SaveConversationTurn 持久化一次完整的对话轮次。
func (m *AgentMemory) SaveConversationTurn(ctx context.Context, userMessage, response string, used []ContextItem, metadata map[string]any) (ConversationTurn, error) {
	m.touch()
	turn := ConversationTurn{
		TurnID:        uuid.NewString(),
		UserMessage:   userMessage,
		AgentResponse: response,
		ContextUsed:   append([]ContextItem(nil), used...),
		Timestamp:     m.now().UTC(),
		Metadata:      cloneMetadata(metadata),
	}
	if err := m.store.SaveTurn(ctx, m.sessionID, turn, m.ttl); err != nil {
		m.logger.Warn("保存对话轮次失败",
			slog.String("agent_id", m.agentID),
			slog.String("session_id", m.sessionID),
			slog.Any("error", err),
		)
		return turn, err
	}
	return turn, nil
}

// Clear 丢弃进程内缓冲，已持久化的条目不受影响。
func (m *AgentMemory) Clear() {
	m.buffer.Clear()
}

// Stats 返回当前状态快照。
func (m *AgentMemory) Stats() Stats {
	buffered := len(m.buffer.Messages())
	return Stats{
		AgentID:         m.agentID,
		SessionID:       m.sessionID,
		Strategy:        m.strategy,
		BufferedMessage: buffered,
		EstimatedMB:     EstimateMB(buffered),
		LastActive:      m.LastActive(),
	}
}

// EstimateMB 按每条消息 0.1MB 粗略估算记忆占用。
func EstimateMB(messages int) float64 {
	return float64(messages) * 0.1
}
