package models

import (
	"strings"
	"time"
)

// Status is the derived state of a task at a given instant.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusOverdue   Status = "overdue"
)

// ParseStatus accepts the canonical status names and the Portuguese aliases
// used by the web client. Unknown values report ok=false.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "finalizada", "finalizadas", "finalizado", "finalizados":
		return StatusCompleted, true
	case "pending", "pendente", "pendentes":
		return StatusPending, true
	case "overdue", "vencida", "vencidas", "vencido", "vencidos":
		return StatusOverdue, true
	}
	return "", false
}

// Task is the persisted task row.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"nome"`
	Description *string    `json:"descricao"`
	Completed   bool       `json:"finalizado"`
	DueAt       *time.Time `json:"data_limite"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// IsOverdue reports whether the task has passed its due date without being completed.
func (t Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.DueAt != nil && t.DueAt.Before(now)
}

// Status derives the task status at now.
func (t Task) Status(now time.Time) Status {
	switch {
	case t.Completed:
		return StatusCompleted
	case t.IsOverdue(now):
		return StatusOverdue
	default:
		return StatusPending
	}
}

// IsTrashed reports whether the task was soft-deleted.
func (t Task) IsTrashed() bool {
	return t.DeletedAt != nil
}

// TaskView is the API representation: the stored fields plus the values
// derived from the clock at response time.
type TaskView struct {
	Task
	Overdue bool   `json:"vencida"`
	Status  Status `json:"status"`
}

// View renders the task as seen at now.
func (t Task) View(now time.Time) TaskView {
	return TaskView{Task: t, Overdue: t.IsOverdue(now), Status: t.Status(now)}
}

// Views renders a slice of tasks.
func Views(tasks []Task, now time.Time) []TaskView {
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.View(now))
	}
	return out
}

// ListFilter narrows a task listing. Zero value lists every live task.
type ListFilter struct {
	Status Status
	Search string
	// Now is the instant overdue is evaluated against.
	Now time.Time
}

// Meta summarises a listing.
type Meta struct {
	Total     int `json:"total"`
	Completed int `json:"finalizadas"`
	Pending   int `json:"pendentes"`
}

// PurgeJob is the payload carried by the delay queue.
type PurgeJob struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	RunAt      time.Time `json:"run_at"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
