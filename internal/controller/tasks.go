package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"task-manager/internal/models"
	"task-manager/internal/service"
	"task-manager/pkg/logger"
)

// Response messages.
const (
	MsgCreated       = "Tarefa criada com sucesso!"
	MsgUpdated       = "Tarefa atualizada com sucesso!"
	MsgDeleted       = "Tarefa excluída com sucesso!"
	MsgPurged        = "Tarefa removida definitivamente!"
	MsgMarkedPending = "Tarefa marcada como pendente!"
	MsgNotFound      = "Tarefa não encontrada."
	MsgInvalid       = "Dados inválidos."
	MsgInternal      = "Erro interno do servidor."
)

// MsgMarkedCompleted renders the completion message for the configured purge
// delay, rounded up to whole minutes.
func MsgMarkedCompleted(delay time.Duration) string {
	const prefix = "Tarefa marcada como finalizada! Será excluída automaticamente "
	switch minutes := int(math.Ceil(delay.Minutes())); {
	case minutes <= 0:
		return prefix + "em instantes."
	case minutes == 1:
		return prefix + "em 1 minuto."
	default:
		return fmt.Sprintf(prefix+"em %d minutos.", minutes)
	}
}

// TaskController exposes the task services over HTTP.
type TaskController struct {
	query    *service.QueryService
	mutation *service.MutationService
	now      func() time.Time
}

func NewTaskController(query *service.QueryService, mutation *service.MutationService, now func() time.Time) *TaskController {
	if now == nil {
		now = time.Now
	}
	return &TaskController{query: query, mutation: mutation, now: now}
}

// List handles GET /tasks?status=&search=.
func (tc *TaskController) List(c *gin.Context) {
	res, err := tc.query.List(c.Request.Context(), service.ListParams{
		Status: c.Query("status"),
		Search: c.Query("search"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    models.Views(res.Tasks, tc.now()),
		"meta":    res.Meta,
	})
}

// Show handles GET /tasks/:id.
func (tc *TaskController) Show(c *gin.Context) {
	task, err := tc.query.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": task.View(tc.now())})
}

// Create handles POST /tasks.
func (tc *TaskController) Create(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	task, err := tc.mutation.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": MsgCreated, "data": task.View(tc.now())})
}

// Update handles PUT and PATCH /tasks/:id.
func (tc *TaskController) Update(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	task, err := tc.mutation.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": MsgUpdated, "data": task.View(tc.now())})
}

// Delete handles DELETE /tasks/:id (soft delete).
func (tc *TaskController) Delete(c *gin.Context) {
	if err := tc.mutation.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": MsgDeleted})
}

// Toggle handles PATCH /tasks/:id/toggle.
func (tc *TaskController) Toggle(c *gin.Context) {
	task, err := tc.mutation.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	msg := MsgMarkedPending
	if task.Completed {
		msg = MsgMarkedCompleted(tc.mutation.PurgeDelay())
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "data": task.View(tc.now())})
}

// Purge handles DELETE /tasks/:id/purge.
func (tc *TaskController) Purge(c *gin.Context) {
	if err := tc.mutation.Purge(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": MsgPurged})
}

// bindInput decodes the JSON body. A body that is not a JSON object yields 422.
func bindInput(c *gin.Context) (service.TaskInput, bool) {
	var in service.TaskInput
	err := c.ShouldBindJSON(&in)
	if err == nil || errors.Is(err, io.EOF) {
		return in, true
	}
	logger.Debug(c.Request.Context(), "Invalid request body", "error", err)
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"success": false,
		"message": MsgInvalid,
		"errors":  gin.H{"body": []string{"O corpo da requisição deve ser um objeto JSON válido."}},
	})
	return in, false
}

func respondError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": MsgInvalid, "errors": verr.Fields})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": MsgNotFound})
	case isContextErr(err):
		c.Status(499)
	default:
		logger.Error(ctx, "Request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": MsgInternal})
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
