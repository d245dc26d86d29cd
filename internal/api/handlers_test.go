package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/service"
	"github.com/mauzec/task-manager/internal/state"
	"github.com/mauzec/task-manager/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	backend *storage.MemoryBackend
	prefix  string
}

func newTestAPI(t *testing.T, prefix string) *testAPI {
	t.Helper()
	backend := storage.NewMemoryBackend(nil)
	store, err := state.New(backend, zap.NewNop(), time.Now)
	require.NoError(t, err)
	svc, err := service.NewTaskService(store, time.Now)
	require.NoError(t, err)

	srv, err := NewServer(&ServerOptions{
		TaskService:  svc,
		Prefix:       prefix,
		AllowOrigins: []string{"*"},
	})
	require.NoError(t, err)
	return &testAPI{t: t, handler: srv.Router(), backend: backend, prefix: prefix}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, a.prefix+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoErrorf(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (a *testAPI) listIDs() []int64 {
	a.t.Helper()
	rec := a.do(http.MethodGet, "/tasks/", "")
	require.Equal(a.t, http.StatusOK, rec.Code)
	tasks := decode[[]TaskResponse](a.t, rec)
	ids := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestScenarioCreateCompleteDelete(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")

	rec := api.do(http.MethodPost, "/tasks/", `{"title": "Buy milk"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	raw := decode[map[string]any](t, rec)
	require.EqualValues(t, 1, raw["id"])
	require.Equal(t, false, raw["completed"])
	require.Contains(t, raw, "completed_at")
	require.Nil(t, raw["completed_at"])
	require.Nil(t, raw["description"])
	require.True(t, strings.HasSuffix(raw["created_at"].(string), "Z"))

	rec = api.do(http.MethodPatch, "/tasks/1", `{"completed": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[TaskResponse](t, rec)
	require.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)

	rec = api.do(http.MethodDelete, "/tasks/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = api.do(http.MethodGet, "/tasks/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestScenarioReorder(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")
	for _, title := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/tasks/", `{"title": "`+title+`"}`).Code)
	}

	rec := api.do(http.MethodPost, "/tasks/reorder", `{"ids": [3, 1, 2]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []int64{3, 1, 2}, api.listIDs())

	for _, body := range []string{`{"ids": [1, 2]}`, `{"ids": [1, 2, 2]}`, `{"ids": [1, 2, 3, 9]}`, `{"ids": ["a"]}`, `{}`} {
		rec = api.do(http.MethodPost, "/tasks/reorder", body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "body %s", body)
		errResp := decode[ErrorResponse](t, rec)
		require.NotEmpty(t, errResp.Detail)
		require.Equal(t, core.ErrorCodeValidation, errResp.Code)
	}
	require.Equal(t, []int64{3, 1, 2}, api.listIDs())
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/tasks/", `{"title": "a"}`).Code)

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "missing title", method: http.MethodPost, path: "/tasks/", body: `{"description": "x"}`},
		{name: "empty title", method: http.MethodPost, path: "/tasks/", body: `{"title": ""}`},
		{name: "long title", method: http.MethodPost, path: "/tasks/", body: `{"title": "` + strings.Repeat("t", 201) + `"}`},
		{name: "broken json", method: http.MethodPost, path: "/tasks/", body: `{"title": `},
		{name: "title null", method: http.MethodPatch, path: "/tasks/1", body: `{"title": null}`},
		{name: "completed null", method: http.MethodPatch, path: "/tasks/1", body: `{"completed": null}`},
		{name: "completed wrong type", method: http.MethodPatch, path: "/tasks/1", body: `{"completed": "yes"}`},
		{name: "id not a number", method: http.MethodGet, path: "/tasks/abc"},
		{name: "id zero", method: http.MethodDelete, path: "/tasks/0"},
		{name: "negative id", method: http.MethodPatch, path: "/tasks/-1", body: `{"completed": true}`},
	}
	for _, tc := range testCases {
		rec := api.do(tc.method, tc.path, tc.body)
		require.Equalf(t, http.StatusBadRequest, rec.Code, "%s: %s", tc.name, rec.Body.String())
	}
	require.Equal(t, []int64{1}, api.listIDs())
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")

	for _, rec := range []*httptest.ResponseRecorder{
		api.do(http.MethodGet, "/tasks/7", ""),
		api.do(http.MethodPatch, "/tasks/7", `{"completed": true}`),
		api.do(http.MethodDelete, "/tasks/7", ""),
	} {
		require.Equal(t, http.StatusNotFound, rec.Code)
		errResp := decode[ErrorResponse](t, rec)
		require.Equal(t, "task 7 not found", errResp.Detail)
		require.Equal(t, core.ErrorCodeNotFound, errResp.Code)
	}
}

func TestPersistenceFailureIs500AndRollsBack(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/tasks/", `{"title": "a"}`).Code)

	api.backend.FailSaves(errors.New("kv unreachable"))

	for _, rec := range []*httptest.ResponseRecorder{
		api.do(http.MethodPost, "/tasks/", `{"title": "b"}`),
		api.do(http.MethodPatch, "/tasks/1", `{"title": "renamed"}`),
		api.do(http.MethodDelete, "/tasks/1", ""),
		api.do(http.MethodPost, "/tasks/reorder", `{"ids": [1]}`),
	} {
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		errResp := decode[ErrorResponse](t, rec)
		require.NotContains(t, errResp.Detail, "kv unreachable")
		require.Equal(t, core.ErrorCodeStorage, errResp.Code)
	}

	rec := api.do(http.MethodGet, "/tasks/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a", decode[TaskResponse](t, rec).Title)
	require.Equal(t, []int64{1}, api.listIDs())

	api.backend.FailSaves(nil)
	rec = api.do(http.MethodPost, "/tasks/", `{"title": "b"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(2), decode[TaskResponse](t, rec).ID)
}

func TestStatsAndHealth(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "")
	for _, title := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/tasks/", `{"title": "`+title+`"}`).Code)
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodPatch, "/tasks/2", `{"completed": true}`).Code)

	rec := api.do(http.MethodGet, "/tasks/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total": 2, "completed": 1, "pending": 1}`, rec.Body.String())

	rec = api.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestPatchDescriptionNullClears(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/tasks/", `{"title": "a", "description": "d"}`).Code)

	rec := api.do(http.MethodPatch, "/tasks/1", `{"title": "b"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[TaskResponse](t, rec)
	require.Equal(t, "b", task.Title)
	require.Equal(t, "d", *task.Description)

	rec = api.do(http.MethodPatch, "/tasks/1", `{"description": null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decode[TaskResponse](t, rec).Description)
}

func TestRequestIDAndCORS(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, "/api")

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/tasks/1", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)

	rec = api.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type mockTaskService struct {
	service.TaskService
	ListF func(ctx context.Context) ([]*core.Task, error)
}

func (m *mockTaskService) List(ctx context.Context) ([]*core.Task, error) {
	return m.ListF(ctx)
}

func TestUnknownErrorIsHidden(t *testing.T) {
	t.Parallel()
	svc := &mockTaskService{
		ListF: func(ctx context.Context) ([]*core.Task, error) {
			return nil, errors.New("secret driver failure")
		},
	}
	h := NewHandler(svc, nil, 0)
	r := gin.New()
	r.GET("/tasks/", h.listTasks)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal server error", decode[ErrorResponse](t, rec).Detail)
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	require.Equal(t, "", normalizePrefix(""))
	require.Equal(t, "", normalizePrefix("/"))
	require.Equal(t, "/api", normalizePrefix("api/"))
	require.Equal(t, "/api", normalizePrefix(" /api "))
}
