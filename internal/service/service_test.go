package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/cache"
	"task-manager/internal/database"
	"task-manager/internal/models"
	"task-manager/internal/queue"
	"task-manager/internal/repository"
	"task-manager/internal/worker"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	clock    *clock
	store    repository.TaskStore
	gw       *cache.Gateway
	queue    *queue.RedisDelayQueue
	query    *QueryService
	mutation *MutationService
	purger   *worker.Purger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}

	db, err := database.OpenSQLite(":memory:", c.Now)
	require.NoError(t, err)
	store, err := repository.NewGormStore(db)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gw := cache.New(cache.NewTaggedBackend(client, "svc:", time.Hour), cache.WithClock(c.Now))
	q := queue.NewRedisDelayQueue(client, queue.RetryPolicy{MaxAttempts: 3, Backoff: time.Second}, queue.WithRedisClock(c.Now))

	return &env{
		clock:    c,
		store:    store,
		gw:       gw,
		queue:    q,
		query:    NewQueryService(store, gw, c.Now),
		mutation: NewMutationService(store, gw, q, WithClock(c.Now)),
		purger:   worker.NewPurger(store, gw),
	}
}

func (e *env) create(t *testing.T, name string, due *time.Time) *models.Task {
	t.Helper()
	in := TaskInput{Name: Some(name)}
	if due != nil {
		in.DueAt = Some(due.Format(time.RFC3339))
	}
	task, err := e.mutation.Create(context.Background(), in)
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	return task
}

func decodeInput(t *testing.T, body string) TaskInput {
	t.Helper()
	var in TaskInput
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	return in
}

func TestCreate_Defaults(t *testing.T) {
	e := newEnv(t)
	a := e.create(t, "  Comprar leite  ", nil)
	b := e.create(t, "Outra", nil)

	assert.Equal(t, "Comprar leite", a.Name)
	assert.False(t, a.Completed)
	assert.Nil(t, a.Description)
	assert.NotEqual(t, a.ID, b.ID)
	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"missing name", `{}`, "nome", MsgNameRequired},
		{"blank name", `{"nome":"   "}`, "nome", MsgNameRequired},
		{"null name", `{"nome":null}`, "nome", MsgNameRequired},
		{"numeric name", `{"nome":12}`, "nome", MsgNameString},
		{"long name", `{"nome":"` + strings.Repeat("a", 256) + `"}`, "nome", MsgNameMax},
		{"long description", `{"nome":"x","descricao":"` + strings.Repeat("é", 1001) + `"}`, "descricao", MsgDescriptionMax},
		{"non boolean finalizado", `{"nome":"x","finalizado":"sim"}`, "finalizado", MsgCompletedBoolean},
		{"bad date", `{"nome":"x","data_limite":"amanhã"}`, "data_limite", MsgDueAtDate},
		{"past date", `{"nome":"x","data_limite":"2026-03-09"}`, "data_limite", MsgDueAtPast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.mutation.Create(ctx, decodeInput(t, tt.body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.msg}, verr.Fields[tt.field])
		})
	}

	list, err := e.query.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.Zero(t, list.Meta.Total, "rejected input is not stored")
}

func TestCreate_AcceptsBoundaryValues(t *testing.T) {
	e := newEnv(t)
	body := `{"nome":"` + strings.Repeat("ã", 255) + `","descricao":"` + strings.Repeat("b", 1000) +
		`","finalizado":true,"data_limite":"2026-03-10"}`

	task, err := e.mutation.Create(context.Background(), decodeInput(t, body))
	require.NoError(t, err)
	assert.True(t, task.Completed)
	require.NotNil(t, task.DueAt)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), *task.DueAt)
}

func TestUpdate_PartialAndClears(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.mutation.Create(ctx, decodeInput(t, `{"nome":"a","descricao":"d","data_limite":"2026-03-12"}`))
	require.NoError(t, err)

	updated, err := e.mutation.Update(ctx, created.ID, decodeInput(t, `{"descricao":null}`))
	require.NoError(t, err)
	assert.Equal(t, "a", updated.Name)
	assert.Nil(t, updated.Description)
	assert.NotNil(t, updated.DueAt)

	// past due dates are allowed on update
	updated, err = e.mutation.Update(ctx, created.ID, decodeInput(t, `{"nome":"b","data_limite":"2020-01-01"}`))
	require.NoError(t, err)
	assert.Equal(t, "b", updated.Name)

	_, err = e.mutation.Update(ctx, created.ID, decodeInput(t, `{"nome":""}`))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = e.mutation.Update(ctx, uuid.NewString(), decodeInput(t, `{"nome":"x"}`))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.mutation.Update(ctx, "not-a-uuid", decodeInput(t, `{"nome":"x"}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_NeverStaleAfterUpdate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "antes", nil)

	got, err := e.query.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "antes", got.Name)
	assert.True(t, e.gw.Has(ctx, cache.ShowKey(task.ID)))

	_, err = e.mutation.Update(ctx, task.ID, TaskInput{Name: Some("depois")})
	require.NoError(t, err)

	got, err = e.query.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "depois", got.Name)

	list, err := e.query.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "depois", list.Tasks[0].Name)
}

func TestDelete_HidesTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "x", nil)
	_, err := e.query.Get(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, e.mutation.Delete(ctx, task.ID))
	_, err = e.query.Get(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.mutation.Delete(ctx, task.ID), ErrNotFound)

	trashed, err := e.store.GetWithTrashed(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, trashed.IsTrashed())

	require.NoError(t, e.mutation.Purge(ctx, task.ID))
	_, err = e.store.GetWithTrashed(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_FiltersAndMeta(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	soon := e.clock.Now().Add(time.Hour)

	late := e.create(t, "Pagar boleto", &soon)
	open := e.create(t, "Ler", nil)
	done := e.create(t, "Correr", nil)
	_, err := e.mutation.Toggle(ctx, done.ID)
	require.NoError(t, err)

	all, err := e.query.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, models.Meta{Total: 3, Completed: 1, Pending: 2}, all.Meta)
	assert.Equal(t, done.ID, all.Tasks[0].ID)

	overdue, err := e.query.List(ctx, ListParams{Status: "vencida"})
	require.NoError(t, err)
	assert.Empty(t, overdue.Tasks)

	// the cached overdue listing expires at the due boundary
	e.clock.Advance(2 * time.Hour)
	overdue, err = e.query.List(ctx, ListParams{Status: "overdue"})
	require.NoError(t, err)
	require.Len(t, overdue.Tasks, 1)
	assert.Equal(t, late.ID, overdue.Tasks[0].ID)
	for _, task := range overdue.Tasks {
		assert.False(t, task.Completed)
		assert.True(t, task.DueAt.Before(e.clock.Now()))
	}

	pending, err := e.query.List(ctx, ListParams{Status: "pendente"})
	require.NoError(t, err)
	assert.Len(t, pending.Tasks, 2)
	assert.Equal(t, models.Meta{Total: 2, Pending: 2}, pending.Meta)

	search, err := e.query.List(ctx, ListParams{Search: "ler"})
	require.NoError(t, err)
	require.Len(t, search.Tasks, 1)
	assert.Equal(t, open.ID, search.Tasks[0].ID)

	unknown, err := e.query.List(ctx, ListParams{Status: "archived"})
	require.NoError(t, err)
	assert.Len(t, unknown.Tasks, 3)
}

func TestToggle_TwiceRestores(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "x", nil)

	on, err := e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, on.Completed)
	off, err := e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, off.Completed)
	assert.Equal(t, models.StatusPending, off.Status(e.clock.Now()))

	pending, err := e.queue.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "only the false to true flip schedules a purge")
}

type failingScheduler struct{}

func (failingScheduler) SchedulePurge(context.Context, string, time.Duration) error {
	return errors.New("queue down")
}

func TestToggle_SchedulingFailureKeepsToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "x", nil)
	svc := NewMutationService(e.store, e.gw, failingScheduler{}, WithClock(e.clock.Now))

	got, err := svc.Toggle(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
}

func TestScenario_CompleteThenPurge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tomorrow := e.clock.Now().Add(24 * time.Hour)
	task := e.create(t, "Entregar relatório", &tomorrow)

	got, err := e.query.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status(e.clock.Now()))

	e.clock.Advance(25 * time.Hour)
	got, err = e.query.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverdue, got.Status(e.clock.Now()))

	toggled, err := e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, toggled.Status(e.clock.Now()))

	n, err := e.queue.PollOnce(ctx, e.purger)
	require.NoError(t, err)
	assert.Zero(t, n, "purge is not due yet")

	e.clock.Advance(10 * time.Minute)
	n, err = e.queue.PollOnce(ctx, e.purger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.query.Get(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.store.GetWithTrashed(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScenario_ToggledBackSurvivesPurge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "Revisar", nil)

	_, err := e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)
	e.clock.Advance(5 * time.Minute)
	_, err = e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)

	e.clock.Advance(5 * time.Minute)
	n, err := e.queue.PollOnce(ctx, e.purger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.query.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

func TestPurgeIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := e.create(t, "x", nil)
	_, err := e.mutation.Toggle(ctx, task.ID)
	require.NoError(t, err)

	job := models.PurgeJob{TaskID: task.ID}
	require.NoError(t, e.purger.Handle(ctx, job))
	require.NoError(t, e.purger.Handle(ctx, job))
	_, err = e.store.GetWithTrashed(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistenceErrorIsWrapped(t *testing.T) {
	err := storeErr("list", errors.New("boom"))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "list", perr.Op)
	assert.ErrorIs(t, storeErr("get", ErrNotFound), ErrNotFound)
	assert.NoError(t, storeErr("get", nil))
}
