package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"task-manager/internal/models"
	"task-manager/pkg/logger"
)

// taskRecord is the gorm mapping of the tasks table.
type taskRecord struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)"`
	Name        string  `gorm:"size:255;not null"`
	Description *string `gorm:"type:text"`
	Completed   bool    `gorm:"not null;default:false;index"`
	DueAt       *time.Time
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (taskRecord) TableName() string { return "tasks" }

func toRecord(t *models.Task) *taskRecord {
	return &taskRecord{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Completed:   t.Completed,
		DueAt:       utcPtr(t.DueAt),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (r *taskRecord) toModel() *models.Task {
	t := &models.Task{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Completed:   r.Completed,
		DueAt:       utcPtr(r.DueAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		d := r.DeletedAt.Time.UTC()
		t.DeletedAt = &d
	}
	return t
}

// GormStore is the gorm implementation, used with SQLite for single-node setups.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db and migrates the tasks table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate tasks: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Create inserts task and copies back the generated timestamps.
func (s *GormStore) Create(ctx context.Context, task *models.Task) error {
	rec := toRecord(task)
	rec.CreatedAt, rec.UpdatedAt = time.Time{}, time.Time{}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		logger.Error(ctx, "Repository Create failed", "error", err, "id", task.ID)
		return fmt.Errorf("insert task: %w", err)
	}
	*task = *rec.toModel()
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.first(s.db.WithContext(ctx), id)
}

func (s *GormStore) GetWithTrashed(ctx context.Context, id string) (*models.Task, error) {
	return s.first(s.db.WithContext(ctx).Unscoped(), id)
}

func (s *GormStore) first(db *gorm.DB, id string) (*models.Task, error) {
	var rec taskRecord
	err := db.Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return rec.toModel(), nil
}

func (s *GormStore) Update(ctx context.Context, task *models.Task) error {
	now := s.db.NowFunc()
	res := s.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", task.ID).Updates(map[string]any{
		"name":        task.Name,
		"description": task.Description,
		"completed":   task.Completed,
		"due_at":      utcPtr(task.DueAt),
		"updated_at":  now,
	})
	if res.Error != nil {
		logger.Error(ctx, "Repository Update failed", "error", res.Error, "id", task.ID)
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	task.UpdatedAt = now
	return nil
}

// Toggle flips completed inside a transaction and re-reads the row.
func (s *GormStore) Toggle(ctx context.Context, id string) (*models.Task, error) {
	var out *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&taskRecord{}).Where("id = ?", id).Updates(map[string]any{
			"completed":  gorm.Expr("NOT completed"),
			"updated_at": tx.NowFunc(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		t, err := s.first(tx, id)
		out = t
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error(ctx, "Repository Toggle failed", "error", err, "id", id)
		}
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		logger.Error(ctx, "Repository SoftDelete failed", "error", res.Error, "id", id)
		return fmt.Errorf("soft delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) HardDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		logger.Error(ctx, "Repository HardDelete failed", "error", res.Error, "id", id)
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, filter models.ListFilter) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Model(&taskRecord{})
	switch filter.Status {
	case models.StatusCompleted:
		q = q.Where("completed = ?", true)
	case models.StatusPending:
		q = q.Where("completed = ?", false)
	case models.StatusOverdue:
		q = q.Where("completed = ? AND due_at IS NOT NULL AND due_at < ?", false, filter.Now.UTC())
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		q = q.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\')`, p, p)
	}

	var recs []taskRecord
	if err := q.Order("created_at DESC").Order("id DESC").Find(&recs).Error; err != nil {
		logger.Error(ctx, "Repository List failed", "error", err)
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]models.Task, 0, len(recs))
	for i := range recs {
		tasks = append(tasks, *recs[i].toModel())
	}
	return tasks, nil
}

func (s *GormStore) NextDueAfter(ctx context.Context, now time.Time) (*time.Time, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).
		Where("completed = ? AND due_at IS NOT NULL AND due_at > ?", false, now.UTC()).
		Order("due_at ASC").
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("next due: %w", err)
	}
	if rec.ID == "" || rec.DueAt == nil {
		return nil, nil
	}
	return utcPtr(rec.DueAt), nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
