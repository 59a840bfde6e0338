package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"task-manager/internal/models"
)

// ErrNotFound is returned when no row matches the requested id.
var ErrNotFound = errors.New("task not found")

// TaskStore persists tasks. Reads exclude soft-deleted rows unless the method
// name says otherwise.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	GetWithTrashed(ctx context.Context, id string) (*models.Task, error)
	// Update writes the mutable fields of a live task.
	Update(ctx context.Context, task *models.Task) error
	// Toggle flips completed in a single statement and returns the new row.
	Toggle(ctx context.Context, id string) (*models.Task, error)
	SoftDelete(ctx context.Context, id string) error
	// HardDelete removes the row whether or not it was soft-deleted.
	HardDelete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.ListFilter) ([]models.Task, error)
	// NextDueAfter returns the earliest due date after now among live pending tasks.
	NextDueAfter(ctx context.Context, now time.Time) (*time.Time, error)
	Ping(ctx context.Context) error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a case-folded substring pattern with LIKE wildcards escaped.
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
