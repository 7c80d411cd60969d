package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/memory"
	"agent-platform/pkg/logger"
)

func newTestStore(t *testing.T) (*ContextStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewContextStore(context.Background(), Config{Address: mr.Addr(), KeyPrefix: "agentd:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestContextStoreIndexesItems(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, content := range []string{"oldest", "middle", "newest"} {
		item := memory.ContextItem{
			ID:        content,
			Type:      memory.ItemMessage,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			AgentID:   "agent-1",
			SessionID: "s-1",
			Metadata:  map[string]any{"role": "user"},
		}
		require.NoError(t, store.SaveItem(ctx, item, time.Hour))
	}

	assert.True(t, mr.Exists("agentd:context:middle"))
	members, err := mr.ZMembers("agentd:agent_context:agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "middle", "newest"}, members)

	items, err := store.AgentItems(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "newest", items[0].Content)
	assert.Equal(t, "middle", items[1].Content)
	assert.Equal(t, "user", items[0].Metadata["role"])

	items, err = store.SessionItems(ctx, "s-1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	got, err := store.Item(ctx, "oldest")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)

	_, err = store.Item(ctx, "missing")
	assert.ErrorIs(t, err, memory.ErrItemNotFound)
}

func TestContextStoreExpiresItems(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveItem(ctx, memory.ContextItem{ID: "short", Content: "x", AgentID: "agent-1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Item(ctx, "short")
	assert.ErrorIs(t, err, memory.ErrItemNotFound)
	items, err := store.AgentItems(ctx, "agent-1", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestContextStorePrunesStaleIndexEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveItem(ctx, memory.ContextItem{ID: "kept", Content: "x", AgentID: "agent-1", Timestamp: now}, time.Hour))
	require.NoError(t, store.SaveItem(ctx, memory.ContextItem{ID: "gone", Content: "y", AgentID: "agent-1", Timestamp: now.Add(time.Second)}, time.Hour))
	mr.Del("agentd:context:gone")

	items, err := store.AgentItems(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "kept", items[0].ID)
	members, err := mr.ZMembers("agentd:agent_context:agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, members)
}

func TestContextStoreReadsOnlyNewestIndexEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		item := memory.ContextItem{ID: id, Content: id, AgentID: "agent-1", Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.SaveItem(ctx, item, time.Hour))
	}
	mr.Del("agentd:context:a")

	items, err := store.AgentItems(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "b", items[1].ID)

	// 超出 limit 的旧条目没有被读取，索引中仍保留。
	members, err := mr.ZMembers("agentd:agent_context:agent-1")
	require.NoError(t, err)
	assert.Contains(t, members, "a")
}

func TestContextStoreTurnsNewestFirst(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		turn := memory.ConversationTurn{TurnID: id, UserMessage: "q-" + id, AgentResponse: "a-" + id}
		require.NoError(t, store.SaveTurn(ctx, "s-1", turn, time.Hour))
	}
	assert.True(t, mr.Exists("agentd:conversation:t2"))

	turns, err := store.RecentTurns(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t3", turns[0].TurnID)
	assert.Equal(t, "t2", turns[1].TurnID)

	require.Error(t, store.SaveTurn(ctx, "", memory.ConversationTurn{TurnID: "t4"}, time.Hour))
}

func TestContextStoreRequiresAddress(t *testing.T) {
	_, err := NewContextStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestContextStoreBacksAgentMemory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	writer := memory.NewManager(store, memory.WithLogger(logger.Discard())).Memory("agent-1", "s-1", "")
	_, err := writer.SaveConversationTurn(ctx, "hello", "hi there", nil, nil)
	require.NoError(t, err)

	reader := memory.NewManager(store, memory.WithLogger(logger.Discard())).Memory("agent-1", "s-1", "")
	history, err := reader.ConversationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "hi there", history[1].Content)
}
