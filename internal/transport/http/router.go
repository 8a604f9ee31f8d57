package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/neofinancial/chrono/internal/transport/http/handler"
	"github.com/neofinancial/chrono/internal/transport/http/middleware"
)

// NewRouter wires the admin API. statisticsHandler may be nil when the
// configured backend does not implement chrono.StatisticsBackend, in which
// case GET /statistics responds 501.
func NewRouter(logger *slog.Logger, taskHandler *handler.TaskHandler, statisticsHandler *handler.StatisticsHandler, healthHandler *handler.HealthHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), sloggin.New(logger), middleware.Metrics())

	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	admin := r.Group("", middleware.Auth(jwtKey))

	admin.POST("/tasks", taskHandler.Create)
	admin.GET("/tasks/:id", taskHandler.GetByID)
	admin.DELETE("/tasks/:id", taskHandler.Delete)

	if statisticsHandler != nil {
		admin.GET("/statistics", statisticsHandler.Get)
	} else {
		admin.GET("/statistics", handler.NotSupported)
	}

	return r
}
