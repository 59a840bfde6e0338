package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingHandler struct {
	mu       sync.Mutex
	errs     []error
	handled  []models.PurgeJob
	failed   []models.PurgeJob
	failErrs []error
}

func (h *recordingHandler) Handle(_ context.Context, job models.PurgeJob) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, job)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}

func (h *recordingHandler) Failed(_ context.Context, job models.PurgeJob, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, job)
	h.failErrs = append(h.failErrs, err)
}

func newRedisQueue(t *testing.T, retry RetryPolicy) (*RedisDelayQueue, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewRedisDelayQueue(client, retry, WithRedisClock(clock.Now), WithLease(time.Minute)), clock
}

func TestRedisDelayQueue_RunsOnlyWhenDue(t *testing.T) {
	q, clock := newRedisQueue(t, RetryPolicy{MaxAttempts: 3, Backoff: 30 * time.Second})
	ctx := context.Background()
	h := &recordingHandler{}

	require.NoError(t, q.SchedulePurge(ctx, "task-1", 10*time.Minute))

	n, err := q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(10*time.Minute - time.Second)
	n, err = q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Second)
	n, err = q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, h.handled, 1)
	assert.Equal(t, "task-1", h.handled[0].TaskID)
	assert.Equal(t, 1, h.handled[0].Attempts)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRedisDelayQueue_RetriesThenFails(t *testing.T) {
	q, clock := newRedisQueue(t, RetryPolicy{MaxAttempts: 2, Backoff: 30 * time.Second})
	ctx := context.Background()
	boom := errors.New("db unavailable")
	h := &recordingHandler{errs: []error{boom, boom}}

	require.NoError(t, q.SchedulePurge(ctx, "task-1", 0))

	n, err := q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.failed)

	n, err = q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, n, "retry waits for its backoff")

	clock.Advance(30 * time.Second)
	n, err = q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, h.failed, 1)
	assert.Equal(t, 2, h.failed[0].Attempts)
	assert.ErrorIs(t, h.failErrs[0], boom)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRedisDelayQueue_UnackedJobReappearsAfterLease(t *testing.T) {
	q, clock := newRedisQueue(t, RetryPolicy{MaxAttempts: 3})
	ctx := context.Background()
	require.NoError(t, q.SchedulePurge(ctx, "task-1", 0))

	// Claim without handling, as a consumer that crashed mid-job would.
	members, err := claimScript.Run(ctx, q.client, []string{q.key},
		clock.Now().UnixMilli(), 10, clock.Now().Add(time.Minute).UnixMilli()).StringSlice()
	require.NoError(t, err)
	require.Len(t, members, 1)

	h := &recordingHandler{}
	n, err := q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Minute)
	n, err = q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisDelayQueue_DropsGarbage(t *testing.T) {
	q, _ := newRedisQueue(t, RetryPolicy{MaxAttempts: 1})
	ctx := context.Background()
	require.NoError(t, q.client.ZAdd(ctx, q.key, redis.Z{Score: 0, Member: "not-json"}).Err())

	h := &recordingHandler{}
	n, err := q.PollOnce(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.handled)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
