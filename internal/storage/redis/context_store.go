package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/memory"
)

// Config 描述 Redis 上下文存储的连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// ContextStore 基于 Redis 实现 memory.Store。
//
// 键布局：
//
//	context:<id>                 条目 JSON（SETEX）
//	agent_context:<agent_id>     条目 ID 有序集合，分值为条目时间戳（毫秒）
//	session_context:<session_id> 同上
//	conversation:<turn_id>       轮次 JSON（SETEX）
//	session_turns:<session_id>   轮次 ID 列表，最新的在头部
type ContextStore struct {
	client *goredis.Client
	prefix string
}

// NewContextStore 连接 Redis 并校验可用性。
func NewContextStore(ctx context.Context, cfg Config) (*ContextStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewContextStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewContextStoreFromClient 复用已有的客户端。
func NewContextStoreFromClient(client *goredis.Client, prefix string) *ContextStore {
	return &ContextStore{client: client, prefix: prefix}
}

func (s *ContextStore) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// SaveItem 写入条目并在同一事务内更新两个索引。
func (s *ContextStore) SaveItem(ctx context.Context, item memory.ContextItem, ttl time.Duration) error {
	if item.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "context item id is required")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化上下文条目失败")
	}
	member := goredis.Z{Score: float64(item.Timestamp.UnixMilli()), Member: item.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key("context", item.ID), payload, expiration(ttl))
		for _, index := range s.indexesOf(item) {
			pipe.ZAdd(ctx, index, member)
			if ttl > 0 {
				pipe.Expire(ctx, index, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入上下文条目失败")
	}
	return nil
}

// Item 读取单个条目。
func (s *ContextStore) Item(ctx context.Context, id string) (memory.ContextItem, error) {
	raw, err := s.client.Get(ctx, s.key("context", id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return memory.ContextItem{}, memory.ErrItemNotFound
	}
	if err != nil {
		return memory.ContextItem{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取上下文条目失败")
	}
	var item memory.ContextItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return memory.ContextItem{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析上下文条目失败")
	}
	return item, nil
}

// AgentItems 返回智能体最近的条目。
func (s *ContextStore) AgentItems(ctx context.Context, agentID string, limit int) ([]memory.ContextItem, error) {
	return s.indexedItems(ctx, s.key("agent_context", agentID), limit)
}

// SessionItems 返回会话最近的条目。
func (s *ContextStore) SessionItems(ctx context.Context, sessionID string, limit int) ([]memory.ContextItem, error) {
	return s.indexedItems(ctx, s.key("session_context", sessionID), limit)
}

func (s *ContextStore) indexesOf(item memory.ContextItem) []string {
	var indexes []string
	if item.AgentID != "" {
		indexes = append(indexes, s.key("agent_context", item.AgentID))
	}
	if item.SessionID != "" {
		indexes = append(indexes, s.key("session_context", item.SessionID))
	}
	return indexes
}

// indexedItems 只读取索引中最新的 limit 个条目，limit <= 0 时读取全部。
func (s *ContextStore) indexedItems(ctx context.Context, index string, limit int) ([]memory.ContextItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取上下文索引失败")
	}
	if len(ids) == 0 {
		return []memory.ContextItem{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("context", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取上下文条目失败")
	}

	items := make([]memory.ContextItem, 0, len(values))
	stale := make([]any, 0)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var item memory.ContextItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	// 条目键已过期但索引仍在，顺手清理。
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, index, stale...).Err()
	}

	memory.SortNewestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// SaveTurn 写入轮次并推入会话轮次列表头部。
func (s *ContextStore) SaveTurn(ctx context.Context, sessionID string, turn memory.ConversationTurn, ttl time.Duration) error {
	if sessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "session id is required")
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化对话轮次失败")
	}
	list := s.key("session_turns", sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key("conversation", turn.TurnID), payload, expiration(ttl))
		pipe.LPush(ctx, list, turn.TurnID)
		if ttl > 0 {
			pipe.Expire(ctx, list, ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入对话轮次失败")
	}
	return nil
}

// RecentTurns 返回会话最近的轮次，最新的在前。
func (s *ContextStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]memory.ConversationTurn, error) {
	if limit <= 0 {
		limit = memory.DefaultHistoryLimit
	}
	ids, err := s.client.LRange(ctx, s.key("session_turns", sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话轮次失败")
	}
	if len(ids) == 0 {
		return []memory.ConversationTurn{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("conversation", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取对话轮次失败")
	}
	turns := make([]memory.ConversationTurn, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var turn memory.ConversationTurn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话轮次失败")
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Close 关闭 Redis 连接。
func (s *ContextStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ memory.Store = (*ContextStore)(nil)
