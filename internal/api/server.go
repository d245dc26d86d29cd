package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	ErrNoTaskService = errors.New("task service is required")

	errBadTaskID = errors.New("task id must be a positive integer")
)

type Server struct {
	router *gin.Engine

	httpSrv *http.Server
}

type ServerOptions struct {
	TaskService taskService
	Logger      *zap.Logger
	Addr        string
	// Prefix is prepended to every route, e.g. "/api". Empty serves from the root.
	Prefix         string
	AllowOrigins   []string
	HandlerTimeout time.Duration
}

func NewServer(opts *ServerOptions) (*Server, error) {
	if opts.TaskService == nil {
		return nil, ErrNoTaskService
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		RecoveryMiddleware(opts.Logger),
		RequestIDMiddleware(),
		LoggingMiddleware(opts.Logger),
		CORSMiddleware(opts.AllowOrigins),
	)

	h := NewHandler(opts.TaskService, opts.Logger, opts.HandlerTimeout)
	setupRouter(router, h, opts.Prefix)

	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}}, nil
}

func (s *Server) Run() error {
	return s.httpSrv.ListenAndServe()
}
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) Router() http.Handler {
	return s.router
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func setupRouter(router *gin.Engine, h *handler, prefix string) {
	group := router.Group(normalizePrefix(prefix))

	group.GET("/healthz", h.healthz)

	group.GET("/tasks/", h.listTasks)
	group.POST("/tasks/", h.createTask)
	group.GET("/tasks/stats", h.taskStats)
	group.POST("/tasks/reorder", h.reorderTasks)
	group.GET("/tasks/:id", h.getTask)
	group.PATCH("/tasks/:id", h.updateTask)
	group.DELETE("/tasks/:id", h.deleteTask)
}
