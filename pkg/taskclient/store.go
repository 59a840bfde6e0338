package taskclient

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"
)

// API is the subset of Client the Store drives.
type API interface {
	ListTasks(ctx context.Context, f Filters) ([]Task, Meta, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateTask(ctx context.Context, p TaskPayload) (*Task, string, error)
	UpdateTask(ctx context.Context, id string, p TaskPayload) (*Task, string, error)
	DeleteTask(ctx context.Context, id string) (string, error)
	ToggleTask(ctx context.Context, id string) (*Task, string, error)
}

// Statistics summarise the loaded tasks.
type Statistics struct {
	Total          int
	Completed      int
	Pending        int
	Overdue        int
	CompletionRate int
}

// State is a snapshot of the store.
type State struct {
	Tasks   []Task
	Current *Task
	Loading bool
	Err     string
	Meta    Meta
	Filters Filters
}

// Store keeps a local copy of the listing and applies mutation results to it
// without refetching. Safe for concurrent use.
type Store struct {
	api API

	mu      sync.RWMutex
	tasks   []Task
	current *Task
	loading bool
	err     string
	meta    Meta
	filters Filters
}

func NewStore(api API) *Store {
	return &Store{api: api}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		Tasks:   append([]Task(nil), s.tasks...),
		Loading: s.loading,
		Err:     s.err,
		Meta:    s.meta,
		Filters: s.filters,
	}
	if s.current != nil {
		c := *s.current
		st.Current = &c
	}
	return st
}

func (s *Store) begin(loading bool) {
	s.mu.Lock()
	s.err = ""
	if loading {
		s.loading = true
	}
	s.mu.Unlock()
}

func (s *Store) fail(err error) {
	msg := MsgUnknown
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	} else if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	s.err = msg
}

// FetchTasks loads the listing for the current filters.
func (s *Store) FetchTasks(ctx context.Context) error {
	s.begin(true)
	s.mu.RLock()
	f := s.filters
	s.mu.RUnlock()

	tasks, meta, err := s.api.ListTasks(ctx, f)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		s.tasks = nil
		return err
	}
	s.tasks = tasks
	s.meta = meta
	return nil
}

// FetchTask loads one task into Current.
func (s *Store) FetchTask(ctx context.Context, id string) (*Task, error) {
	s.begin(true)
	t, err := s.api.GetTask(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		s.current = nil
		return nil, err
	}
	s.current = t
	return t, nil
}

// CreateTask prepends the created task and bumps the counters.
func (s *Store) CreateTask(ctx context.Context, p TaskPayload) (*Task, string, error) {
	s.begin(true)
	t, msg, err := s.api.CreateTask(ctx, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		return nil, "", err
	}
	s.tasks = append([]Task{*t}, s.tasks...)
	s.meta.Total++
	if t.Completed {
		s.meta.Completed++
	} else {
		s.meta.Pending++
	}
	return t, msg, nil
}

// UpdateTask replaces the task in place.
func (s *Store) UpdateTask(ctx context.Context, id string, p TaskPayload) (*Task, string, error) {
	s.begin(true)
	t, msg, err := s.api.UpdateTask(ctx, id, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		return nil, "", err
	}
	if i := s.indexOf(id); i >= 0 {
		s.tasks[i] = *t
	}
	if s.current != nil && s.current.ID == id {
		c := *t
		s.current = &c
	}
	return t, msg, nil
}

// DeleteTask removes the task and decrements the counters.
func (s *Store) DeleteTask(ctx context.Context, id string) (string, error) {
	s.begin(true)
	msg, err := s.api.DeleteTask(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		return "", err
	}
	if i := s.indexOf(id); i >= 0 {
		removed := s.tasks[i]
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		s.meta.Total--
		if removed.Completed {
			s.meta.Completed--
		} else {
			s.meta.Pending--
		}
	}
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	return msg, nil
}

// ToggleTask replaces the task and moves it between the counters.
func (s *Store) ToggleTask(ctx context.Context, id string) (*Task, string, error) {
	s.begin(false)
	t, msg, err := s.api.ToggleTask(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return nil, "", err
	}
	if i := s.indexOf(id); i >= 0 {
		was := s.tasks[i].Completed
		s.tasks[i] = *t
		if was != t.Completed {
			if t.Completed {
				s.meta.Completed++
				s.meta.Pending--
			} else {
				s.meta.Completed--
				s.meta.Pending++
			}
		}
	}
	if s.current != nil && s.current.ID == id {
		c := *t
		s.current = &c
	}
	return t, msg, nil
}

// FilterUpdate is a partial Filters. Nil fields keep their current value;
// an empty string clears the filter.
type FilterUpdate struct {
	Status *string
	Search *string
}

// SetFilters merges the set fields of u into the filters.
func (s *Store) SetFilters(u FilterUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status != nil {
		s.filters.Status = *u.Status
	}
	if u.Search != nil {
		s.filters.Search = *u.Search
	}
}

func (s *Store) ClearFilters() {
	s.mu.Lock()
	s.filters = Filters{}
	s.mu.Unlock()
}

// Refresh refetches the listing.
func (s *Store) Refresh(ctx context.Context) error {
	return s.FetchTasks(ctx)
}

// Reset returns the store to its initial state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
	s.current = nil
	s.loading = false
	s.err = ""
	s.meta = Meta{}
	s.filters = Filters{}
}

func (s *Store) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) filter(keep func(Task) bool) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// FilteredTasks applies the filters locally. Unlike the server, the pending
// view here leaves out overdue tasks.
func (s *Store) FilteredTasks(now time.Time) []Task {
	s.mu.RLock()
	f := s.filters
	s.mu.RUnlock()
	status := normalizeStatus(f.Status)
	search := strings.ToLower(f.Search)

	return s.filter(func(t Task) bool {
		switch status {
		case "completed":
			if !t.Completed {
				return false
			}
		case "pending":
			if t.Completed || t.IsOverdue(now) {
				return false
			}
		case "overdue":
			if !t.IsOverdue(now) {
				return false
			}
		}
		if search == "" {
			return true
		}
		if strings.Contains(strings.ToLower(t.Name), search) {
			return true
		}
		return t.Description != nil && strings.Contains(strings.ToLower(*t.Description), search)
	})
}

func (s *Store) CompletedTasks() []Task {
	return s.filter(func(t Task) bool { return t.Completed })
}

func (s *Store) PendingTasks() []Task {
	return s.filter(func(t Task) bool { return !t.Completed })
}

func (s *Store) OverdueTasks(now time.Time) []Task {
	return s.filter(func(t Task) bool { return t.IsOverdue(now) })
}

// Statistics computes counters over the loaded tasks.
func (s *Store) Statistics(now time.Time) Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Statistics{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch {
		case t.Completed:
			st.Completed++
		case t.IsOverdue(now):
			st.Pending++
			st.Overdue++
		default:
			st.Pending++
		}
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) / float64(st.Total) * 100))
	}
	return st
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "finalizada", "finalizado":
		return "completed"
	case "pending", "pendente":
		return "pending"
	case "overdue", "vencida":
		return "overdue"
	}
	return ""
}
