package rediscounter

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/model"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "counter:thread_views:42", Key(model.CounterThreadViews, 42))
	assert.Equal(t, "counter:thread_replies:-1", Key(model.CounterThreadReplies, -1))
}

func TestUnknownCounterRejectedBeforeNetwork(t *testing.T) {
	// nothing listens here; an unknown counter must fail without dialing
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	defer c.Close()

	err := c.IncrementCounter(context.Background(), model.Counter("likes"), 1, 1)
	assert.ErrorContains(t, err, "unknown counter")

	_, _, err = c.GetCounter(context.Background(), model.Counter("likes"), 1)
	assert.ErrorContains(t, err, "unknown counter")
}

// newLive connects to REDIS_TEST_ADDR and flushes the selected database.
func newLive(t *testing.T) *Counters {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c, err := New(context.Background(), Options{Addr: addr, DB: 15})
	require.NoError(t, err)
	require.NoError(t, c.client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCounters_Live(t *testing.T) {
	c := newLive(t)
	ctx := context.Background()

	_, found, err := c.GetCounter(ctx, model.CounterThreadViews, 7)
	require.NoError(t, err)
	assert.False(t, found)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.IncrementCounter(ctx, model.CounterThreadViews, 7, 1))
		}()
	}
	wg.Wait()

	v, found, err := c.GetCounter(ctx, model.CounterThreadViews, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(50), v)

	// counters are independent per kind
	_, found, err = c.GetCounter(ctx, model.CounterThreadReplies, 7)
	require.NoError(t, err)
	assert.False(t, found)
}
