package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "agent-platform/internal/errors"
)

// DefaultTTL 是上下文条目与对话轮次的默认保留时长。
const DefaultTTL = 24 * time.Hour

// Store 抽象了共享的上下文存储。实现需保证单个键的写入是原子的。
// 列表类查询均按时间倒序返回。
type Store interface {
	SaveItem(ctx context.Context, item ContextItem, ttl time.Duration) error
	Item(ctx context.Context, id string) (ContextItem, error)
	AgentItems(ctx context.Context, agentID string, limit int) ([]ContextItem, error)
	SessionItems(ctx context.Context, sessionID string, limit int) ([]ContextItem, error)
	SaveTurn(ctx context.Context, sessionID string, turn ConversationTurn, ttl time.Duration) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error)
	Close() error
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func (e expiring[T]) alive(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryStore 以进程内映射模拟共享存储，过期条目在读取时剔除。
type MemoryStore struct {
	mu           sync.RWMutex
	items        map[string]expiring[ContextItem]
	agentIndex   map[string]map[string]struct{}
	sessionIndex map[string]map[string]struct{}
	turns        map[string][]expiring[ConversationTurn]
	now          func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:        make(map[string]expiring[ContextItem]),
		agentIndex:   make(map[string]map[string]struct{}),
		sessionIndex: make(map[string]map[string]struct{}),
		turns:        make(map[string][]expiring[ConversationTurn]),
		now:          time.Now,
	}
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// SaveItem 写入条目并更新智能体与会话索引。
func (s *MemoryStore) SaveItem(_ context.Context, item ContextItem, ttl time.Duration) error {
	if item.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "context item id is required")
	}
	item.Metadata = cloneMetadata(item.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = expiring[ContextItem]{value: item, expiresAt: s.expiry(ttl)}
	if item.AgentID != "" {
		addToIndex(s.agentIndex, item.AgentID, item.ID)
	}
	if item.SessionID != "" {
		addToIndex(s.sessionIndex, item.SessionID, item.ID)
	}
	return nil
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

// Item 返回单个条目。
func (s *MemoryStore) Item(_ context.Context, id string) (ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[id]
	if !ok || !entry.alive(s.now()) {
		return ContextItem{}, ErrItemNotFound
	}
	item := entry.value
	item.Metadata = cloneMetadata(item.Metadata)
	return item, nil
}

// AgentItems 返回智能体最近的条目。
func (s *MemoryStore) AgentItems(_ context.Context, agentID string, limit int) ([]ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.agentIndex[agentID], limit), nil
}

// SessionItems 返回会话最近的条目。
func (s *MemoryStore) SessionItems(_ context.Context, sessionID string, limit int) ([]ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.sessionIndex[sessionID], limit), nil
}

func (s *MemoryStore) collect(ids map[string]struct{}, limit int) []ContextItem {
	now := s.now()
	results := make([]ContextItem, 0, len(ids))
	for id := range ids {
		entry, ok := s.items[id]
		if !ok || !entry.alive(now) {
			continue
		}
		item := entry.value
		item.Metadata = cloneMetadata(item.Metadata)
		results = append(results, item)
	}
	SortNewestFirst(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// SaveTurn 将轮次追加到会话列表头部。
func (s *MemoryStore) SaveTurn(_ context.Context, sessionID string, turn ConversationTurn, ttl time.Duration) error {
	if sessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "session id is required")
	}
	turn.Metadata = cloneMetadata(turn.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := expiring[ConversationTurn]{value: turn, expiresAt: s.expiry(ttl)}
	s.turns[sessionID] = append([]expiring[ConversationTurn]{entry}, s.turns[sessionID]...)
	return nil
}

// RecentTurns 返回会话最近的轮次，最新的在前。
func (s *MemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	results := make([]ConversationTurn, 0, max(limit, 0))
	for _, entry := range s.turns[sessionID] {
		if !entry.alive(now) {
			continue
		}
		results = append(results, entry.value)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error {
	return nil
}

// SortNewestFirst 按时间倒序排列条目，时间相同时按 ID 排序。
func SortNewestFirst(items []ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID < items[j].ID
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}

var _ Store = (*MemoryStore)(nil)
