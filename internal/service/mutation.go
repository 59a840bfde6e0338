package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"task-manager/internal/cache"
	"task-manager/internal/models"
	"task-manager/internal/queue"
	"task-manager/internal/repository"
	"task-manager/pkg/logger"
)

// DefaultPurgeDelay is how long a completed task survives before it is purged.
const DefaultPurgeDelay = 10 * time.Minute

// MutationService applies writes and keeps the cache and purge schedule in step.
type MutationService struct {
	store      repository.TaskStore
	cache      *cache.Gateway
	scheduler  queue.Scheduler
	validator  *validatorSet
	purgeDelay time.Duration
	now        func() time.Time
}

// MutationOption configures a MutationService.
type MutationOption func(*MutationService)

func WithPurgeDelay(d time.Duration) MutationOption {
	return func(s *MutationService) { s.purgeDelay = d }
}

func WithClock(now func() time.Time) MutationOption {
	return func(s *MutationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone that defines "today" for due date checks.
func WithLocation(loc *time.Location) MutationOption {
	return func(s *MutationService) { s.validator = newValidator(loc) }
}

func NewMutationService(store repository.TaskStore, gw *cache.Gateway, scheduler queue.Scheduler, opts ...MutationOption) *MutationService {
	s := &MutationService{
		store:      store,
		cache:      gw,
		scheduler:  scheduler,
		validator:  newValidator(time.UTC),
		purgeDelay: DefaultPurgeDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PurgeDelay returns the delay applied to purges scheduled by Toggle.
func (s *MutationService) PurgeDelay() time.Duration { return s.purgeDelay }

// Create validates in and stores a new task.
func (s *MutationService) Create(ctx context.Context, in TaskInput) (*models.Task, error) {
	task := &models.Task{ID: uuid.NewString()}
	if err := s.validator.apply(in, task, s.now(), true); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, storeErr("create task", err)
	}
	s.cache.InvalidateTag(ctx, cache.TagTasks)
	logger.Info(ctx, "Task created", "task_id", task.ID)
	return task, nil
}

// Update applies the fields present in in. Explicit nulls clear optional fields.
func (s *MutationService) Update(ctx context.Context, id string, in TaskInput) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get task", err)
	}
	if err := s.validator.apply(in, task, s.now(), false); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, task); err != nil {
		return nil, storeErr("update task", err)
	}
	s.invalidate(ctx, id)
	logger.Info(ctx, "Task updated", "task_id", id)
	return task, nil
}

// Toggle flips the completion flag. Completing a task schedules its purge;
// a scheduling failure is logged and does not undo the toggle.
func (s *MutationService) Toggle(ctx context.Context, id string) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	task, err := s.store.Toggle(ctx, id)
	if err != nil {
		return nil, storeErr("toggle task", err)
	}
	s.invalidate(ctx, id)

	if task.Completed {
		if err := s.scheduler.SchedulePurge(ctx, id, s.purgeDelay); err != nil {
			logger.Error(ctx, "Purge scheduling failed", "task_id", id, "error", err)
		}
	}
	logger.Info(ctx, "Task toggled", "task_id", id, "completed", task.Completed)
	return task, nil
}

// Delete soft-deletes a task.
func (s *MutationService) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return storeErr("delete task", err)
	}
	s.invalidate(ctx, id)
	logger.Info(ctx, "Task deleted", "task_id", id)
	return nil
}

// Purge removes a task permanently, including soft-deleted ones.
func (s *MutationService) Purge(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.store.HardDelete(ctx, id); err != nil {
		return storeErr("purge task", err)
	}
	s.invalidate(ctx, id)
	logger.Info(ctx, "Task purged", "task_id", id)
	return nil
}

func (s *MutationService) invalidate(ctx context.Context, id string) {
	s.cache.InvalidateTags(ctx, []string{cache.TagTasks, cache.TaskTag(id)})
}
