package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"task-manager/internal/models"
)

// Scheduler enqueues a purge of taskID to run after delay.
type Scheduler interface {
	SchedulePurge(ctx context.Context, taskID string, delay time.Duration) error
}

// Handler processes purge jobs. Handle errors are retried by the transport;
// Failed is called once when a job exhausts its attempts.
type Handler interface {
	Handle(ctx context.Context, job models.PurgeJob) error
	Failed(ctx context.Context, job models.PurgeJob, err error)
}

// Consumer delivers due jobs to a Handler until ctx is done.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
}

// RetryPolicy bounds redelivery of failed jobs.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number before the next delivery.
	Backoff time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

func newJob(taskID string, now time.Time, delay time.Duration) models.PurgeJob {
	return models.PurgeJob{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		RunAt:      now.Add(delay).UTC(),
		EnqueuedAt: now.UTC(),
	}
}
