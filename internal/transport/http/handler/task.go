package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neofinancial/chrono/internal/chrono"
)

type TaskHandler struct {
	chrono *chrono.Chrono
	logger *slog.Logger
}

func NewTaskHandler(c *chrono.Chrono, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{chrono: c, logger: logger.With("component", "task_handler")}
}

type scheduleTaskRequest struct {
	Kind           string    `json:"kind"            binding:"required"`
	Data           []byte    `json:"data"`
	ScheduledAt    time.Time `json:"scheduled_at"    binding:"required"`
	Priority       int       `json:"priority"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Create schedules a new task.
func (h *TaskHandler) Create(ctx *gin.Context) {
	var req scheduleTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody, "detail": err.Error()})
		return
	}

	task, err := h.chrono.ScheduleTask(ctx.Request.Context(), chrono.ScheduleInput{
		Kind:           req.Kind,
		Data:           req.Data,
		When:           req.ScheduledAt,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("schedule task", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, task)
}

// GetByID fetches a task's current state.
func (h *TaskHandler) GetByID(ctx *gin.Context) {
	taskID := ctx.Param("id")

	task, err := h.chrono.GetTask(ctx.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, chrono.ErrTaskNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("get task", "task_id", taskID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, task)
}

// Delete removes a task, optionally forcing removal of a non-pending one.
func (h *TaskHandler) Delete(ctx *gin.Context) {
	taskID := ctx.Param("id")
	force := ctx.Query("force") == "true"

	task, err := h.chrono.DeleteTask(ctx.Request.Context(), chrono.DeleteKey{ID: taskID}, force)
	if err != nil {
		if errors.Is(err, chrono.ErrTaskNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		if errors.Is(err, chrono.ErrDeleteNotPending) {
			ctx.JSON(http.StatusConflict, gin.H{"error": "task is not pending; retry with ?force=true"})
			return
		}
		h.logger.Error("delete task", "task_id", taskID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, task)
}
