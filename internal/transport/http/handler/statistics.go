package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neofinancial/chrono/internal/chrono"
)

type StatisticsHandler struct {
	backend chrono.StatisticsBackend
	logger  *slog.Logger
}

// NewStatisticsHandler returns nil if backend does not implement
// chrono.StatisticsBackend — callers should route /statistics to
// NotSupported in that case instead.
func NewStatisticsHandler(backend chrono.Backend, logger *slog.Logger) *StatisticsHandler {
	statBackend, ok := backend.(chrono.StatisticsBackend)
	if !ok {
		return nil
	}
	return &StatisticsHandler{backend: statBackend, logger: logger.With("component", "statistics_handler")}
}

// Get returns an on-demand statistics snapshot for the requested kinds. It
// does not require the background StatisticsCollector to be running.
func (h *StatisticsHandler) Get(ctx *gin.Context) {
	kindsParam := ctx.Query("kinds")
	var kinds []string
	if kindsParam != "" {
		kinds = strings.Split(kindsParam, ",")
	}

	stats, err := h.backend.CollectStatistics(ctx.Request.Context(), kinds)
	if err != nil {
		h.logger.Error("collect statistics", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, stats)
}

// NotSupported responds when the configured backend has no statistics
// capability.
func NotSupported(ctx *gin.Context) {
	ctx.JSON(http.StatusNotImplemented, gin.H{"error": "backend does not support collecting statistics"})
}
