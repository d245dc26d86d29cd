package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/service"
)

type CreateTaskRequest struct {
	Title       *string `json:"title" binding:"required"`
	Description *string `json:"description"`
}

func (r *CreateTaskRequest) Draft() core.TaskDraft {
	d := core.TaskDraft{Description: r.Description}
	if r.Title != nil {
		d.Title = *r.Title
	}
	return d
}

// optional tells an absent field (Set == false) from an explicit null (Value == nil).
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type UpdateTaskRequest struct {
	Title       optional[string] `json:"title"`
	Description optional[string] `json:"description"`
	Completed   optional[bool]   `json:"completed"`
}

var (
	errNullTitle     = errors.New("title can not be null")
	errNullCompleted = errors.New("completed can not be null")
)

// Patch converts the request. Only description may be cleared with null.
func (r *UpdateTaskRequest) Patch() (core.TaskPatch, error) {
	p := core.TaskPatch{}
	if r.Title.Set {
		if r.Title.Value == nil {
			return core.TaskPatch{}, errNullTitle
		}
		p.Title = r.Title.Value
	}
	if r.Description.Set {
		if r.Description.Value == nil {
			p.ClearDescription = true
		} else {
			p.Description = r.Description.Value
		}
	}
	if r.Completed.Set {
		if r.Completed.Value == nil {
			return core.TaskPatch{}, errNullCompleted
		}
		p.Completed = r.Completed.Value
	}
	return p, nil
}

type ReorderTasksRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

type TaskResponse struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type StatsResponse struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

type ErrorResponse struct {
	Detail string         `json:"detail"`
	Code   core.ErrorCode `json:"code"`
}

func NewTaskResponse(task *core.Task) *TaskResponse {
	if task == nil {
		return nil
	}
	t := task.CloneTask()
	return &TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt.UTC(),
		CompletedAt: utcTime(t.CompletedAt),
	}
}

// NewTaskListResponse never returns nil, an empty list is encoded as [].
func NewTaskListResponse(tasks []*core.Task) []*TaskResponse {
	resp := make([]*TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		resp = append(resp, NewTaskResponse(t))
	}
	return resp
}

func NewStatsResponse(st service.Stats) *StatsResponse {
	return &StatsResponse{
		Total:     st.Total,
		Completed: st.Completed,
		Pending:   st.Pending,
	}
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	nt := t.UTC()
	return &nt
}
