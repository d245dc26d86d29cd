package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/state"
)

// Stats summarizes completion across all live tasks.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

type TaskService struct {
	store    *state.Store
	validate *validator.Validate

	now func() time.Time
}

func NewTaskService(store *state.Store, now func() time.Time) (*TaskService, error) {
	const op = "service.NewTaskService"
	if store == nil {
		return nil, core.NewAppErrorBuilder(core.ErrorCodeInternal).
			Message("state store required").
			SafeToShow(false).
			Oper(op).
			Build()
	}
	if now == nil {
		now = time.Now
	}
	return &TaskService{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}, nil
}

// List returns all tasks in presentation order.
func (ts *TaskService) List(ctx context.Context) ([]*core.Task, error) {
	const op = "service.TaskService.List"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}

	var res []*core.Task
	ts.store.View(func(s *state.State) {
		res = core.CloneTasks(s.Ordered())
	})
	return res, nil
}

func (ts *TaskService) Get(ctx context.Context, id int64) (*core.Task, error) {
	const op = "service.TaskService.Get"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}

	var res *core.Task
	ts.store.View(func(s *state.State) {
		res = s.Tasks[id].CloneTask()
	})
	if res == nil {
		return nil, core.NewTaskNotFoundError(id, op)
	}
	return res, nil
}

func (ts *TaskService) Stats(ctx context.Context) (Stats, error) {
	const op = "service.TaskService.Stats"

	if err := ctx.Err(); err != nil {
		return Stats{}, internalError(op, "ctx error", err)
	}

	st := Stats{}
	ts.store.View(func(s *state.State) {
		st.Total = len(s.Tasks)
		for _, t := range s.Tasks {
			if t.Completed {
				st.Completed++
			}
		}
	})
	st.Pending = st.Total - st.Completed
	return st, nil
}

// Create allocates the next id and appends the task to the order.
// A failed save hands the id back, the next create reuses it.
func (ts *TaskService) Create(ctx context.Context, draft core.TaskDraft) (*core.Task, error) {
	const op = "service.TaskService.Create"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	if err := ts.validateInput(op, draft); err != nil {
		return nil, err
	}

	var created *core.Task
	err := ts.store.Apply(ctx, func(s *state.State) error {
		id, err := s.NextID()
		if err != nil {
			return core.NewStorageError("allocate task id", err, op)
		}
		t := core.NewTask(id, draft, ts.now())
		s.Add(t)
		created = t.CloneTask()
		return nil
	})
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return created, nil
}

func (ts *TaskService) Update(ctx context.Context, id int64, patch core.TaskPatch) (*core.Task, error) {
	const op = "service.TaskService.Update"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	if err := ts.validateInput(op, patch); err != nil {
		return nil, err
	}

	var updated *core.Task
	err := ts.store.Apply(ctx, func(s *state.State) error {
		t, ok := s.Tasks[id]
		if !ok {
			return core.NewTaskNotFoundError(id, op)
		}
		t.ApplyPatch(patch, ts.now())
		updated = t.CloneTask()
		return nil
	})
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return updated, nil
}

func (ts *TaskService) Delete(ctx context.Context, id int64) error {
	const op = "service.TaskService.Delete"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}

	err := ts.store.Apply(ctx, func(s *state.State) error {
		if !s.Remove(id) {
			return core.NewTaskNotFoundError(id, op)
		}
		return nil
	})
	return tryAsAppError(err, op)
}

// Reorder replaces the order. ids must be a permutation of the live ids.
func (ts *TaskService) Reorder(ctx context.Context, ids []int64) error {
	const op = "service.TaskService.Reorder"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}

	err := ts.store.Apply(ctx, func(s *state.State) error {
		if !isPermutation(ids, s.Tasks) {
			return validationError(op, "invalid task ordering supplied")
		}
		s.Order = append(make([]int64, 0, len(ids)), ids...)
		return nil
	})
	return tryAsAppError(err, op)
}

// Import replaces every task with the ones in doc, a snapshot document.
func (ts *TaskService) Import(ctx context.Context, doc []byte) error {
	const op = "service.TaskService.Import"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}
	return tryAsAppError(ts.store.Replace(ctx, doc), op)
}

// Export returns the committed state as a snapshot document.
func (ts *TaskService) Export(ctx context.Context) ([]byte, error) {
	const op = "service.TaskService.Export"

	if err := ctx.Err(); err != nil {
		return nil, internalError(op, "ctx error", err)
	}
	doc, err := ts.store.Export()
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return doc, nil
}

// Reload re-reads the backend. A failed reload keeps the current tasks.
func (ts *TaskService) Reload(ctx context.Context) error {
	const op = "service.TaskService.Reload"
	return tryAsAppError(ts.store.Load(ctx), op)
}

func isPermutation(ids []int64, live map[int64]*core.Task) bool {
	if len(ids) != len(live) {
		return false
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := live[id]; !ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func (ts *TaskService) validateInput(op string, in any) error {
	err := ts.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return internalError(op, "validate input", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return core.NewValidationError(strings.Join(msgs, "; "), err, op)
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "min":
		if fe.Param() == "1" {
			return field + " must not be empty"
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func tryAsAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.WithOper(op)
	}
	return internalError(op, "unexpected error", err)
}

func validationError(op, msg string) error {
	return core.NewAppErrorBuilder(core.ErrorCodeValidation).
		Message(msg).
		SafeToShow(true).
		Oper(op).
		Build()
}

func internalError(op, msg string, err error) error {
	return core.NewAppErrorBuilder(core.ErrorCodeInternal).
		Message(msg).
		Err(err).
		SafeToShow(false).
		Oper(op).
		Build()
}
