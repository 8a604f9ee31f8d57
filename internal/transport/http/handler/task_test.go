package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofinancial/chrono/internal/chrono"
	"github.com/neofinancial/chrono/internal/memstore"
	"github.com/neofinancial/chrono/internal/transport/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() (*gin.Engine, *chrono.Chrono) {
	backend := memstore.New()
	c := chrono.New(backend, nil, slog.Default())
	h := handler.NewTaskHandler(c, slog.Default())

	r := gin.New()
	r.POST("/tasks", h.Create)
	r.GET("/tasks/:id", h.GetByID)
	r.DELETE("/tasks/:id", h.Delete)
	return r, c
}

func TestCreateTask(t *testing.T) {
	r, _ := newTestRouter()

	body, err := json.Marshal(map[string]any{
		"kind":         "email",
		"scheduled_at": time.Now().Format(time.RFC3339),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp chrono.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, chrono.StatusPending, resp.Status)
}

func TestCreateTaskRejectsMissingKind(t *testing.T) {
	r, _ := newTestRouter()

	body, err := json.Marshal(map[string]any{"scheduled_at": time.Now().Format(time.RFC3339)})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetByIDReturnsTask(t *testing.T) {
	r, c := newTestRouter()

	task, err := c.ScheduleTask(context.Background(), chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/"+task.ID, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetByIDReturns404WhenMissing(t *testing.T) {
	r, _ := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePendingTaskSucceeds(t *testing.T) {
	r, c := newTestRouter()

	task, err := c.ScheduleTask(context.Background(), chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tasks/"+task.ID, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "a still-pending task should delete without force")
}

func TestDeleteClaimedTaskRequiresForce(t *testing.T) {
	backend := memstore.New()
	c := chrono.New(backend, nil, slog.Default())
	h := handler.NewTaskHandler(c, slog.Default())
	r := gin.New()
	r.DELETE("/tasks/:id", h.Delete)

	task, err := c.ScheduleTask(context.Background(), chrono.ScheduleInput{Kind: "email", When: time.Now()})
	require.NoError(t, err)
	claimed, err := backend.Claim(context.Background(), chrono.ClaimInput{Kind: "email", ClaimStaleTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tasks/"+task.ID, nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/tasks/"+task.ID+"?force=true", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
