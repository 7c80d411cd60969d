package memory

import (
	"log/slog"
	"sync"
	"time"

	"agent-platform/pkg/logger"
)

// DefaultHistoryLimit 是从共享存储重建历史时读取的轮次数。
const DefaultHistoryLimit = 20

// Manager 按 (智能体, 会话) 缓存记忆句柄，所有句柄共享同一个 Store。
type Manager struct {
	store        Store
	strategy     Strategy
	windowSize   int
	summarizer   Summarizer
	tokenLimit   int
	ttl          time.Duration
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	memories map[string]*AgentMemory
}

// Option 定制 Manager。
type Option func(*Manager)

// WithStrategy 设置默认保留策略。
func WithStrategy(strategy Strategy) Option {
	return func(m *Manager) {
		if strategy != "" {
			m.strategy = strategy
		}
	}
}

// WithWindowSize 设置窗口缓冲保留的轮数。
func WithWindowSize(k int) Option {
	return func(m *Manager) {
		if k > 0 {
			m.windowSize = k
		}
	}
}

// WithSummarizer 设置摘要缓冲使用的补全能力。
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) {
		m.summarizer = s
	}
}

// WithSummaryTokenLimit 设置摘要缓冲的 token 预算。
func WithSummaryTokenLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.tokenLimit = limit
		}
	}
}

// WithTTL 设置共享存储中条目的保留时长。
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithHistoryLimit 设置回退路径读取的轮次上限。
func WithHistoryLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.historyLimit = limit
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock 替换时间源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建记忆管理器。
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		strategy:     StrategyWindow,
		windowSize:   DefaultWindowSize,
		tokenLimit:   DefaultSummaryTokenLimit,
		ttl:          DefaultTTL,
		historyLimit: DefaultHistoryLimit,
		logger:       logger.Named("memory"),
		now:          time.Now,
		memories:     make(map[string]*AgentMemory),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	return m
}

// Store 返回底层共享存储。
func (m *Manager) Store() Store {
	return m.store
}

func memoryKey(agentID, sessionID string) string {
	return agentID + ":" + sessionID
}

// AgentSessionID 是未指定会话时智能体默认对话使用的会话 ID。
func AgentSessionID(agentID string) string {
	return "agent:" + agentID
}

// Memory 返回 (agentID, sessionID) 对应的句柄，不存在时创建。
// sessionID 为空时落到该智能体的默认对话；strategy 为空时使用默认策略。
func (m *Manager) Memory(agentID, sessionID string, strategy Strategy) *AgentMemory {
	if sessionID == "" {
		sessionID = AgentSessionID(agentID)
	}
	key := memoryKey(agentID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memories[key]; ok {
		return mem
	}

	if strategy == "" {
		strategy = m.strategy
	}
	mem := &AgentMemory{
		agentID:    agentID,
		sessionID:  sessionID,
		store:      m.store,
		ttl:        m.ttl,
		historyMax: m.historyLimit,
		logger:     m.logger,
		now:        m.now,
		lastActive: m.now(),
	}
	switch {
	case strategy == StrategySummary && m.summarizer != nil:
		mem.strategy = StrategySummary
		mem.buffer = NewSummaryBuffer(m.summarizer, m.tokenLimit)
	default:
		if strategy == StrategySummary {
			m.logger.Warn("未配置摘要能力，回退到窗口缓冲",
				slog.String("agent_id", agentID),
				slog.String("session_id", sessionID),
			)
		}
		mem.strategy = StrategyWindow
		mem.buffer = NewWindowBuffer(m.windowSize)
	}
	m.memories[key] = mem
	return mem
}

// Drop 丢弃指定会话的句柄及其缓冲。
func (m *Manager) Drop(agentID, sessionID string) bool {
	if sessionID == "" {
		sessionID = AgentSessionID(agentID)
	}
	key := memoryKey(agentID, sessionID)
	m.mu.Lock()
	mem, ok := m.memories[key]
	delete(m.memories, key)
	m.mu.Unlock()
	if ok {
		mem.Clear()
	}
	return ok
}

// CleanupIdle 释放超过 maxIdle 未活动的句柄，返回释放数量。
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, mem := range m.memories {
		if mem.LastActive().Before(cutoff) {
			mem.Clear()
			delete(m.memories, key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("已释放空闲记忆句柄", slog.Int("count", removed))
	}
	return removed
}

// Len 返回当前缓存的句柄数量。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memories)
}
