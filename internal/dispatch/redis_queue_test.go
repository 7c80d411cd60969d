package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	queue := NewRedisQueueFromClient(client, "test:jobs", 50*time.Millisecond)
	t.Cleanup(func() { _ = queue.Close() })
	return queue, srv
}

func TestRedisQueuePublishUsesList(t *testing.T) {
	queue, srv := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, "job-1"))
	require.NoError(t, queue.Publish(ctx, "job-2"))

	items, err := srv.List("test:jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-2", "job-1"}, items)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisQueueConsumesInPublishOrder(t *testing.T) {
	queue, _ := newTestRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Publish(ctx, id))
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			mu.Lock()
			seen = append(seen, jobID)
			if len(seen) == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestRedisQueueRequeuesOnHandlerError(t *testing.T) {
	queue, srv := newTestRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, queue.Publish(ctx, "flaky"))

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 1, func(context.Context, string) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("temporary")
			}
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not stop")
	}
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	assert.False(t, srv.Exists("test:jobs"))
}

func TestNewRedisQueueRequiresAddress(t *testing.T) {
	_, err := NewRedisQueue(context.Background(), RedisQueueConfig{})
	require.Error(t, err)
}

func TestMemoryQueueCloseStopsPublishing(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())
	assert.Error(t, queue.Publish(context.Background(), "late"))
}
