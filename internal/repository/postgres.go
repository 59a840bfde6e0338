package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"task-manager/internal/models"
	"task-manager/pkg/logger"
)

const taskColumns = `id, name, description, completed, due_at, created_at, updated_at, deleted_at`

// PostgresStore is the database/sql implementation over lib/pq.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open pool. now stamps created/updated/deleted times.
func NewPostgresStore(db *sql.DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		description sql.NullString
		dueAt       sql.NullTime
		deletedAt   sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Name, &description, &t.Completed, &dueAt, &t.CreatedAt, &t.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	if dueAt.Valid {
		d := dueAt.Time.UTC()
		t.DueAt = &d
	}
	if deletedAt.Valid {
		d := deletedAt.Time.UTC()
		t.DeletedAt = &d
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// Create inserts a new task, stamping created_at and updated_at.
func (s *PostgresStore) Create(ctx context.Context, task *models.Task) error {
	now := s.now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.DueAt = utcPtr(task.DueAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, description, completed, due_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.Name, task.Description, task.Completed, task.DueAt, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		logger.Error(ctx, "Repository Create failed", "error", err, "id", task.ID)
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns a live task.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.get(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND deleted_at IS NULL`, id)
}

// GetWithTrashed returns a task even when it was soft-deleted.
func (s *PostgresStore) GetWithTrashed(ctx context.Context, id string) (*models.Task, error) {
	return s.get(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
}

func (s *PostgresStore) get(ctx context.Context, query, id string, extra ...any) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, query, append([]any{id}, extra...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error(ctx, "Repository Get failed", "error", err, "id", id)
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update overwrites name, description, completed and due_at of a live task.
func (s *PostgresStore) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = s.now().UTC()
	task.DueAt = utcPtr(task.DueAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name = $1, description = $2, completed = $3, due_at = $4, updated_at = $5
		 WHERE id = $6 AND deleted_at IS NULL`,
		task.Name, task.Description, task.Completed, task.DueAt, task.UpdatedAt, task.ID)
	if err != nil {
		logger.Error(ctx, "Repository Update failed", "error", err, "id", task.ID)
		return fmt.Errorf("update task: %w", err)
	}
	return expectOne(res)
}

// Toggle flips completed atomically.
func (s *PostgresStore) Toggle(ctx context.Context, id string) (*models.Task, error) {
	return s.get(ctx,
		`UPDATE tasks SET completed = NOT completed, updated_at = $2
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+taskColumns, id, s.now().UTC())
}

// SoftDelete marks a live task as deleted.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		logger.Error(ctx, "Repository SoftDelete failed", "error", err, "id", id)
		return fmt.Errorf("soft delete task: %w", err)
	}
	return expectOne(res)
}

// HardDelete removes the row permanently.
func (s *PostgresStore) HardDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		logger.Error(ctx, "Repository HardDelete failed", "error", err, "id", id)
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res)
}

// List returns live tasks matching filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]models.Task, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch filter.Status {
	case models.StatusCompleted:
		where = append(where, "completed = TRUE")
	case models.StatusPending:
		where = append(where, "completed = FALSE")
	case models.StatusOverdue:
		where = append(where, "completed = FALSE", "due_at < "+arg(filter.Now.UTC()))
	}
	if filter.Search != "" {
		p := arg(likePattern(filter.Search))
		where = append(where, fmt.Sprintf(`(LOWER(name) LIKE %[1]s ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE %[1]s ESCAPE '\')`, p))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error(ctx, "Repository List failed", "error", err)
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logger.Error(ctx, "Repository scan task failed", "error", err)
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// NextDueAfter returns the earliest future due date of a live pending task, or nil.
func (s *PostgresStore) NextDueAfter(ctx context.Context, now time.Time) (*time.Time, error) {
	var next sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(due_at) FROM tasks WHERE deleted_at IS NULL AND completed = FALSE AND due_at > $1`,
		now.UTC()).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next due: %w", err)
	}
	if !next.Valid {
		return nil, nil
	}
	t := next.Time.UTC()
	return &t, nil
}

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
