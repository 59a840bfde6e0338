package worker

import (
	"context"
	"errors"
	"fmt"

	"task-manager/internal/cache"
	"task-manager/internal/models"
	"task-manager/internal/repository"
	"task-manager/pkg/logger"
)

// PurgeJobError is returned when a purge could not complete and should be retried.
type PurgeJobError struct {
	TaskID string
	Err    error
}

func (e *PurgeJobError) Error() string {
	return fmt.Sprintf("purge task %s: %v", e.TaskID, e.Err)
}

func (e *PurgeJobError) Unwrap() error { return e.Err }

// Purger permanently deletes tasks that are still completed when their
// scheduled purge runs. Running it twice for the same task is harmless.
type Purger struct {
	store repository.TaskStore
	cache *cache.Gateway
}

func NewPurger(store repository.TaskStore, gw *cache.Gateway) *Purger {
	return &Purger{store: store, cache: gw}
}

// Handle re-checks the task and hard-deletes it if it is still completed.
func (p *Purger) Handle(ctx context.Context, job models.PurgeJob) error {
	task, err := p.store.GetWithTrashed(ctx, job.TaskID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn(ctx, "Purge skipped, task no longer exists", "task_id", job.TaskID)
		return nil
	}
	if err != nil {
		logger.Error(ctx, "Purge lookup failed", "task_id", job.TaskID, "error", err)
		return &PurgeJobError{TaskID: job.TaskID, Err: err}
	}
	if !task.Completed {
		logger.Info(ctx, "Purge skipped, task is no longer completed", "task_id", job.TaskID)
		return nil
	}

	if err := p.store.HardDelete(ctx, job.TaskID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Error(ctx, "Purge delete failed", "task_id", job.TaskID, "error", err)
		return &PurgeJobError{TaskID: job.TaskID, Err: err}
	}
	p.cache.InvalidateTags(ctx, []string{cache.TagTasks, cache.TaskTag(job.TaskID)})
	logger.Info(ctx, "Completed task purged", "task_id", job.TaskID, "name", task.Name, "attempt", job.Attempts)
	return nil
}

// Failed records a job that exhausted its retries.
func (p *Purger) Failed(ctx context.Context, job models.PurgeJob, err error) {
	logger.Error(ctx, "Purge job failed permanently",
		"task_id", job.TaskID, "job_id", job.ID, "attempts", job.Attempts, "error", err)
}
