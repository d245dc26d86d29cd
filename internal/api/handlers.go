package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/service"
	"go.uber.org/zap"
)

type taskService interface {
	List(ctx context.Context) ([]*core.Task, error)
	Get(ctx context.Context, id int64) (*core.Task, error)
	Stats(ctx context.Context) (service.Stats, error)
	Create(ctx context.Context, draft core.TaskDraft) (*core.Task, error)
	Update(ctx context.Context, id int64, patch core.TaskPatch) (*core.Task, error)
	Delete(ctx context.Context, id int64) error
	Reorder(ctx context.Context, ids []int64) error
}

type handler struct {
	tasks   taskService
	logger  *zap.Logger
	timeout time.Duration
}

const defaultHandlerTimeout = 30 * time.Second

func NewHandler(ts taskService, logger *zap.Logger, timeout time.Duration) *handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &handler{tasks: ts, logger: logger, timeout: timeout}
}

// opContext is detached from the request: a client that goes away must not
// cut a save in half.
func (h *handler) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *handler) listTasks(c *gin.Context) {
	ctx, canc := context.WithTimeout(c.Request.Context(), h.timeout)
	defer canc()

	tasks, err := h.tasks.List(ctx)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTaskListResponse(tasks))
}

func (h *handler) taskStats(c *gin.Context) {
	ctx, canc := context.WithTimeout(c.Request.Context(), h.timeout)
	defer canc()

	st, err := h.tasks.Stats(ctx)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewStatsResponse(st))
}

func (h *handler) getTask(c *gin.Context) {
	id, ok := h.taskIDParam(c)
	if !ok {
		return
	}
	ctx, canc := context.WithTimeout(c.Request.Context(), h.timeout)
	defer canc()

	t, err := h.tasks.Get(ctx, id)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTaskResponse(t))
}

func (h *handler) createTask(c *gin.Context) {
	req := CreateTaskRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, canc := h.opContext()
	defer canc()

	t, err := h.tasks.Create(ctx, req.Draft())
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	SetTaskID(c, t.ID)
	h.logger.Info("task created",
		zap.String("reqid", GetRequestID(c)),
		zap.Int64("task_id", t.ID),
	)
	c.JSON(http.StatusCreated, NewTaskResponse(t))
}

func (h *handler) updateTask(c *gin.Context) {
	id, ok := h.taskIDParam(c)
	if !ok {
		return
	}
	req := UpdateTaskRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}
	patch, err := req.Patch()
	if err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, canc := h.opContext()
	defer canc()

	t, err := h.tasks.Update(ctx, id, patch)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTaskResponse(t))
}

func (h *handler) deleteTask(c *gin.Context) {
	id, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	ctx, canc := h.opContext()
	defer canc()

	if err := h.tasks.Delete(ctx, id); err != nil {
		h.errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) reorderTasks(c *gin.Context) {
	req := ReorderTasksRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, canc := h.opContext()
	defer canc()

	if err := h.tasks.Reorder(ctx, req.IDs); err != nil {
		h.errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) taskIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		h.badRequestResponse(c, errBadTaskID)
		return 0, false
	}
	SetTaskID(c, id)
	return id, true
}

func (h *handler) badRequestResponse(c *gin.Context, err error) {
	c.Error(err) //nolint:errcheck
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Detail: err.Error(),
		Code:   core.ErrorCodeValidation,
	})
}

func (h *handler) errorResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	if err == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Detail: "internal server error",
			Code:   core.ErrorCodeInternal,
		})
		return
	}

	if appErr, ok := core.AsAppError(err); ok {
		s := appErr.HTTPStatus()
		if s >= http.StatusInternalServerError {
			h.logger.Error("handler error",
				zap.String("reqid", GetRequestID(c)),
				taskIDField(c),
				zap.String("op", appErr.Operation),
				zap.Error(err),
			)
		} else {
			h.logger.Debug("client error",
				zap.String("reqid", GetRequestID(c)),
				taskIDField(c),
				zap.String("error", err.Error()),
			)
		}
		c.AbortWithStatusJSON(s, ErrorResponse{
			Detail: appErr.PublicMessage(),
			Code:   appErr.Code,
		})
		return
	}

	h.logger.Error("handler unknown error",
		zap.String("reqid", GetRequestID(c)),
		taskIDField(c),
		zap.String("error", err.Error()),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Detail: "internal server error",
		Code:   core.ErrorCodeInternal,
	})
}
