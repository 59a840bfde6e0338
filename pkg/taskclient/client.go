// Package taskclient consumes the task API: an HTTP client plus a Store that
// mirrors the server listing for UI code.
package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Messages shown to users for failed requests.
const (
	MsgInvalidData = "Dados inválidos"
	MsgNotFound    = "Tarefa não encontrada"
	MsgServerError = "Erro interno do servidor. Tente novamente mais tarde."
	MsgUnknown     = "Erro desconhecido"
)

// Task mirrors the API representation.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"nome"`
	Description *string    `json:"descricao"`
	Completed   bool       `json:"finalizado"`
	DueAt       *time.Time `json:"data_limite"`
	Overdue     bool       `json:"vencida"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsOverdue recomputes the overdue flag locally.
func (t Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.DueAt != nil && t.DueAt.Before(now)
}

// Meta are the listing counters.
type Meta struct {
	Total     int `json:"total"`
	Completed int `json:"finalizadas"`
	Pending   int `json:"pendentes"`
}

// Filters are the listing query.
type Filters struct {
	Status string
	Search string
}

// TaskPayload is the create/update body. Nil fields are omitted.
type TaskPayload struct {
	Name        *string `json:"nome,omitempty"`
	Description *string `json:"descricao,omitempty"`
	Completed   *bool   `json:"finalizado,omitempty"`
	DueAt       *string `json:"data_limite,omitempty"`
}

// APIError is a non-2xx response translated into a user-facing message.
type APIError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client calls the task API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL, e.g. "http://localhost:8080/api".
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type response struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Meta    *Meta               `json:"meta"`
	Errors  map[string][]string `json:"errors"`
}

// ListTasks returns the tasks and counters for filters.
func (c *Client) ListTasks(ctx context.Context, f Filters) ([]Task, Meta, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []Task
	resp, err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	if err != nil {
		return nil, Meta{}, err
	}
	var meta Meta
	if resp.Meta != nil {
		meta = *resp.Meta
	}
	return tasks, meta, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if _, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateTask(ctx context.Context, p TaskPayload) (*Task, string, error) {
	var t Task
	resp, err := c.do(ctx, http.MethodPost, "/tasks", p, &t)
	if err != nil {
		return nil, "", err
	}
	return &t, resp.Message, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, p TaskPayload) (*Task, string, error) {
	var t Task
	resp, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), p, &t)
	if err != nil {
		return nil, "", err
	}
	return &t, resp.Message, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) ToggleTask(ctx context.Context, id string) (*Task, string, error) {
	var t Task
	resp, err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id)+"/toggle", nil, &t)
	if err != nil {
		return nil, "", err
	}
	return &t, resp.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var r response
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	decodeErr := json.Unmarshal(raw, &r)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, apiError(res.StatusCode, &r)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, decodeErr)
	}
	if out != nil && len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, out); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return &r, nil
}

func apiError(status int, r *response) *APIError {
	e := &APIError{Status: status, Fields: r.Errors}
	switch {
	case status == http.StatusUnprocessableEntity:
		e.Message = joinFieldErrors(r.Errors)
		if e.Message == "" {
			e.Message = MsgInvalidData
		}
	case status == http.StatusNotFound:
		e.Message = MsgNotFound
	case status >= 500:
		e.Message = MsgServerError
	case r.Message != "":
		e.Message = r.Message
	default:
		e.Message = MsgUnknown
	}
	return e
}

func joinFieldErrors(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var msgs []string
	for _, k := range keys {
		msgs = append(msgs, fields[k]...)
	}
	return strings.Join(msgs, ", ")
}
