package cache

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTaggedGateway(t *testing.T) (*Gateway, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := &clock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	g := New(NewTaggedBackend(client, "test:", time.Hour), WithTTL(time.Hour), WithClock(c.Now))
	return g, mr, c
}

// memKV is an in-memory KV for the flush-only backend.
type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	resets int
	err    error
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) GetWithContext(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func (m *memKV) SetWithContext(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = val
	return nil
}

func (m *memKV) DeleteWithContext(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.err
}

func (m *memKV) ResetWithContext(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.resets++
	m.data = map[string][]byte{}
	return nil
}

func (m *memKV) Close() error { return nil }

func counter(n *int32, v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		atomic.AddInt32(n, 1)
		return v, nil
	}
}

func TestRemember_CachesUntilTTL(t *testing.T) {
	g, _, c := newTaggedGateway(t)
	ctx := context.Background()
	var calls int32

	v, err := Remember(ctx, g, "k", []string{TagTasks}, counter(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = Remember(ctx, g, "k", []string{TagTasks}, counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.EqualValues(t, 1, calls)

	c.Advance(time.Hour)
	v, err = Remember(ctx, g, "k", []string{TagTasks}, counter(&calls, "c"))
	require.NoError(t, err)
	assert.Equal(t, "c", v)
	assert.EqualValues(t, 2, calls)

	s := g.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 2, s.Misses)
	assert.True(t, s.SupportsTags)
}

func TestRemember_ProducerErrorNotCached(t *testing.T) {
	g, _, _ := newTaggedGateway(t)
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := Remember(ctx, g, "k", nil, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Has(ctx, "k"))
}

func TestRememberFor_ShorterTTL(t *testing.T) {
	g, _, c := newTaggedGateway(t)
	ctx := context.Background()

	_, err := RememberFor(ctx, g, "k", nil, func(context.Context) (int, time.Duration, error) {
		return 1, 5 * time.Minute, nil
	})
	require.NoError(t, err)
	assert.True(t, g.Has(ctx, "k"))

	c.Advance(5 * time.Minute)
	assert.False(t, g.Has(ctx, "k"))
}

func TestInvalidateTag_IsPrecise(t *testing.T) {
	g, _, _ := newTaggedGateway(t)
	ctx := context.Background()

	require.True(t, g.Put(ctx, ShowKey("1"), "one", []string{TagTasks, TaskTag("1")}))
	require.True(t, g.Put(ctx, ShowKey("2"), "two", []string{TagTasks, TaskTag("2")}))
	require.True(t, g.Put(ctx, "unrelated", "x", nil))

	assert.True(t, g.InvalidateTag(ctx, TaskTag("1")))
	assert.False(t, g.Has(ctx, ShowKey("1")))
	assert.True(t, g.Has(ctx, ShowKey("2")))

	assert.True(t, g.InvalidateTags(ctx, []string{TagTasks}))
	assert.False(t, g.Has(ctx, ShowKey("2")))
	assert.True(t, g.Has(ctx, "unrelated"))

	assert.True(t, g.Forget(ctx, "unrelated"))
	assert.False(t, g.Has(ctx, "unrelated"))
}

func TestFlush_RemovesOnlyPrefixedKeys(t *testing.T) {
	g, mr, _ := newTaggedGateway(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("other:key", "keep"))

	for _, k := range []string{"a", "b", "c"} {
		require.True(t, g.Put(ctx, k, k, []string{TagTasks}))
	}
	assert.True(t, g.Flush(ctx))
	assert.False(t, g.Has(ctx, "a"))
	assert.True(t, mr.Exists("other:key"))
}

func TestBackendFailureFallsBackToProducer(t *testing.T) {
	g, mr, _ := newTaggedGateway(t)
	ctx := context.Background()
	mr.Close()

	var calls int32
	v, err := Remember(ctx, g, "k", []string{TagTasks}, counter(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	assert.False(t, g.Put(ctx, "k", 1, nil))
	assert.False(t, g.Has(ctx, "k"))
	assert.False(t, g.Forget(ctx, "k"))
	assert.False(t, g.InvalidateTag(ctx, TagTasks))
	assert.False(t, g.Flush(ctx))
	assert.Positive(t, g.Stats().Errors)
}

func TestFlushBackend_TagInvalidationFlushesEverything(t *testing.T) {
	kv := newMemKV()
	g := New(NewFlushBackend(kv, "p:"))
	ctx := context.Background()

	require.True(t, g.Put(ctx, ShowKey("1"), "one", []string{TagTasks, TaskTag("1")}))
	require.True(t, g.Put(ctx, "unrelated", "x", nil))
	assert.False(t, g.Stats().SupportsTags)

	assert.True(t, g.InvalidateTag(ctx, TaskTag("1")))
	assert.False(t, g.Has(ctx, ShowKey("1")))
	assert.False(t, g.Has(ctx, "unrelated"))
	assert.Equal(t, 1, kv.resets)

	kv.err = errors.New("unavailable")
	assert.False(t, g.InvalidateTag(ctx, TagTasks))
	assert.Error(t, g.Ping(ctx))
}

func TestRemember_CollapsesConcurrentMisses(t *testing.T) {
	g := New(NewFlushBackend(newMemKV(), ""))
	ctx := context.Background()
	release := make(chan struct{})
	var calls int32

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Remember(ctx, g, "hot", nil, func(context.Context) (string, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return "v", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "v", r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(len(results)))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestIndexKey(t *testing.T) {
	a := IndexKey(url.Values{"status": {"pending"}, "search": {"x"}})
	b := IndexKey(url.Values{"search": {"x"}, "status": {"pending"}, "empty": {""}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, IndexKey(url.Values{"status": {"completed"}}))
	assert.Equal(t, IndexKey(nil), IndexKey(url.Values{"status": {""}}))
	assert.Regexp(t, `^tasks\.index\.[0-9a-f]{32}$`, a)
	assert.Equal(t, "tasks.show.42", ShowKey("42"))
	assert.Equal(t, "task.42", TaskTag("42"))
}

func TestNewKVStoreAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := NewKVStore("redis://"+mr.Addr()+"/0", 2)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	g := New(NewFlushBackend(kv, "kv:"))
	ctx := context.Background()
	require.True(t, g.Put(ctx, "a", 1, []string{TagTasks}))
	assert.True(t, g.Has(ctx, "a"))
	assert.True(t, g.InvalidateTag(ctx, TagTasks))
	assert.False(t, g.Has(ctx, "a"))
}

func TestFlushBackendKeepsDelayQueueOnSharedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := NewKVStore("redis://"+mr.Addr()+"/0", 2)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	g := New(NewFlushBackend(kv, "task-manager:"))
	q := queue.NewRedisDelayQueue(client, queue.RetryPolicy{MaxAttempts: 3}, queue.WithRedisKey("tasks:purge:delayed"))
	ctx := context.Background()

	require.NoError(t, q.SchedulePurge(ctx, "a", 10*time.Minute))
	require.True(t, g.Put(ctx, ShowKey("a"), "cached", []string{TagTasks}))
	require.NoError(t, client.Set(ctx, "other-app:key", "v", 0).Err())

	assert.True(t, g.InvalidateTag(ctx, TagTasks))
	assert.False(t, g.Has(ctx, ShowKey("a")))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.True(t, mr.Exists("other-app:key"))

	assert.True(t, g.Flush(ctx))
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}
