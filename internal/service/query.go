package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"task-manager/internal/cache"
	"task-manager/internal/models"
	"task-manager/internal/repository"
)

// ListParams are the listing query parameters. Status accepts the canonical
// names and their Portuguese aliases; unknown values are ignored.
type ListParams struct {
	Status string
	Search string
}

// ListResult is a cached listing.
type ListResult struct {
	Tasks []models.Task `json:"tasks"`
	Meta  models.Meta   `json:"meta"`
}

// QueryService serves task reads through the cache.
type QueryService struct {
	store repository.TaskStore
	cache *cache.Gateway
	now   func() time.Time
}

func NewQueryService(store repository.TaskStore, gw *cache.Gateway, now func() time.Time) *QueryService {
	if now == nil {
		now = time.Now
	}
	return &QueryService{store: store, cache: gw, now: now}
}

func (p ListParams) filter(now time.Time) models.ListFilter {
	status, _ := models.ParseStatus(p.Status)
	return models.ListFilter{Status: status, Search: strings.TrimSpace(p.Search), Now: now}
}

func cacheKeyFor(f models.ListFilter) string {
	return cache.IndexKey(url.Values{"status": {string(f.Status)}, "search": {f.Search}})
}

// List returns live tasks matching params, newest first, with summary counts.
// Entries expire no later than the next due date of a pending task so the
// overdue view never lags a due boundary.
func (s *QueryService) List(ctx context.Context, params ListParams) (*ListResult, error) {
	now := s.now()
	filter := params.filter(now)

	return cache.RememberFor(ctx, s.cache, cacheKeyFor(filter), []string{cache.TagTasks},
		func(ctx context.Context) (*ListResult, time.Duration, error) {
			tasks, err := s.store.List(ctx, filter)
			if err != nil {
				return nil, 0, storeErr("list tasks", err)
			}
			res := &ListResult{Tasks: tasks, Meta: summarize(tasks)}

			var ttl time.Duration
			next, err := s.store.NextDueAfter(ctx, now)
			if err != nil {
				return nil, 0, storeErr("next due", err)
			}
			if next != nil {
				ttl = next.Sub(now)
			}
			return res, ttl, nil
		})
}

func summarize(tasks []models.Task) models.Meta {
	m := models.Meta{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			m.Completed++
		} else {
			m.Pending++
		}
	}
	return m
}

// Get returns a live task by id.
func (s *QueryService) Get(ctx context.Context, id string) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return cache.Remember(ctx, s.cache, cache.ShowKey(id), []string{cache.TagTasks, cache.TaskTag(id)},
		func(ctx context.Context) (*models.Task, error) {
			t, err := s.store.Get(ctx, id)
			return t, storeErr("get task", err)
		})
}
