package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"task-manager/internal/models"
	"task-manager/pkg/logger"
)

// DefaultDelayedKey is the sorted set holding scheduled purge jobs.
const DefaultDelayedKey = "tasks:purge:delayed"

// claimScript moves up to ARGV[2] members due at ARGV[1] to score ARGV[3] and
// returns them. A claimed member that is not acknowledged becomes due again
// once the lease runs out.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(items) do
  redis.call('ZADD', KEYS[1], ARGV[3], m)
end
return items
`)

// RedisDelayQueue schedules jobs in a sorted set scored by run time in milliseconds.
type RedisDelayQueue struct {
	client       redis.UniversalClient
	key          string
	retry        RetryPolicy
	lease        time.Duration
	pollInterval time.Duration
	batch        int
	now          func() time.Time
}

// RedisOption configures a RedisDelayQueue.
type RedisOption func(*RedisDelayQueue)

// WithRedisKey sets the sorted set holding delayed jobs.
func WithRedisKey(key string) RedisOption {
	return func(q *RedisDelayQueue) { q.key = key }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(q *RedisDelayQueue) { q.now = now }
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisDelayQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithLease sets how long a claimed job stays invisible to other consumers.
func WithLease(d time.Duration) RedisOption {
	return func(q *RedisDelayQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func NewRedisDelayQueue(client redis.UniversalClient, retry RetryPolicy, opts ...RedisOption) *RedisDelayQueue {
	q := &RedisDelayQueue{
		client:       client,
		key:          DefaultDelayedKey,
		retry:        retry.normalized(),
		lease:        time.Minute,
		pollInterval: time.Second,
		batch:        50,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SchedulePurge adds a job due after delay.
func (q *RedisDelayQueue) SchedulePurge(ctx context.Context, taskID string, delay time.Duration) error {
	job := newJob(taskID, q.now(), delay)
	if err := q.add(ctx, job); err != nil {
		return fmt.Errorf("schedule purge %s: %w", taskID, err)
	}
	logger.Info(ctx, "Purge scheduled", "task_id", taskID, "job_id", job.ID, "run_at", job.RunAt)
	return nil
}

func (q *RedisDelayQueue) add(ctx context.Context, job models.PurgeJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: string(b)}).Err()
}

// Pending returns the number of jobs not yet acknowledged.
func (q *RedisDelayQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

// Run polls for due jobs until ctx is cancelled.
func (q *RedisDelayQueue) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	logger.Info(ctx, "Purge consumer started", "transport", "redis", "key", q.key)
	for {
		if _, err := q.PollOnce(ctx, h); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "Purge poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce claims due jobs, runs them and acknowledges or reschedules each.
// It returns the number of jobs handled.
func (q *RedisDelayQueue) PollOnce(ctx context.Context, h Handler) (int, error) {
	now := q.now()
	members, err := claimScript.Run(ctx, q.client, []string{q.key},
		now.UnixMilli(), q.batch, now.Add(q.lease).UnixMilli()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("claim jobs: %w", err)
	}

	for _, m := range members {
		var job models.PurgeJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			logger.StepLogWithContext(ctx, "error", "Dropping undecodable purge job", m)
			q.ack(ctx, m)
			continue
		}
		jobCtx := logger.With(ctx, "job_id", job.ID, "task_id", job.TaskID)
		job.Attempts++
		herr := h.Handle(jobCtx, job)
		switch {
		case herr == nil:
			q.ack(jobCtx, m)
		case job.Attempts >= q.retry.MaxAttempts:
			q.ack(jobCtx, m)
			h.Failed(jobCtx, job, herr)
		default:
			job.RunAt = q.now().Add(q.retry.delay(job.Attempts)).UTC()
			if err := q.reschedule(jobCtx, m, job); err != nil {
				logger.Error(jobCtx, "Purge reschedule failed", "error", err)
			} else {
				logger.Warn(jobCtx, "Purge attempt failed, retrying", "attempt", job.Attempts, "run_at", job.RunAt, "error", herr)
			}
		}
	}
	return len(members), nil
}

func (q *RedisDelayQueue) ack(ctx context.Context, member string) {
	if err := q.client.ZRem(ctx, q.key, member).Err(); err != nil {
		logger.Error(ctx, "Purge ack failed", "error", err)
	}
}

func (q *RedisDelayQueue) reschedule(ctx context.Context, member string, job models.PurgeJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key, member)
		p.ZAdd(ctx, q.key, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: string(b)})
		return nil
	})
	return err
}
