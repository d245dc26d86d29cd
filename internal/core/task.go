package core

import (
	"time"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// Task is a single to-do item.
type Task struct {
	ID          int64   `json:"id" yaml:"id"`
	Title       string  `json:"title" yaml:"title"`
	Description *string `json:"description" yaml:"description"`
	Completed   bool    `json:"completed" yaml:"completed"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	CompletedAt *time.Time `json:"completed_at" yaml:"completed_at"`
}

// TaskDraft is the input of task creation.
type TaskDraft struct {
	Title       string  `validate:"min=1,max=200"`
	Description *string `validate:"omitnil,max=1000"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string `validate:"omitnil,min=1,max=200"`
	Description *string `validate:"omitnil,max=1000"`
	// ClearDescription drops the description; it wins over Description.
	ClearDescription bool
	Completed        *bool
}

func NewTask(id int64, draft TaskDraft, now time.Time) *Task {
	return &Task{
		ID:          id,
		Title:       draft.Title,
		Description: cloneString(draft.Description),
		Completed:   false,
		CreatedAt:   now.UTC(),
	}
}

// ApplyPatch updates the provided fields. CompletedAt follows Completed transitions:
// set on false->true, cleared on true->false, untouched otherwise.
func (t *Task) ApplyPatch(p TaskPatch, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	switch {
	case p.ClearDescription:
		t.Description = nil
	case p.Description != nil:
		t.Description = cloneString(p.Description)
	}
	if p.Completed == nil {
		return
	}
	switch done := *p.Completed; {
	case done && !t.Completed:
		at := now.UTC()
		t.CompletedAt = &at
	case !done && t.Completed:
		t.CompletedAt = nil
	}
	t.Completed = *p.Completed
}

func (t *Task) CloneTask() *Task {
	if t == nil {
		return nil
	}

	ct := *t
	ct.Description = cloneString(t.Description)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		ct.CompletedAt = &at
	}
	return &ct
}

func CloneTasks(tasks []*Task) []*Task {
	res := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.CloneTask())
	}
	return res
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
