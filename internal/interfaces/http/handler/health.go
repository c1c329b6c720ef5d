package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marshalcore/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping() error
}

// HealthHandler serves GET /health
type HealthHandler struct {
	BaseHandler
	db      Pinger
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(db Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		BaseHandler: BaseHandler{logger: logger},
		db:          db,
		started:     time.Now(),
		now:         time.Now,
	}
}

// healthStatus is the body of a health response
type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
	Time     string `json:"time"`
}

// Check reports database reachability
func (h *HealthHandler) Check(c *gin.Context) {
	now := h.now()
	body := healthStatus{
		Status:   "healthy",
		Database: "ok",
		Uptime:   now.Sub(h.started).Round(time.Second).String(),
		Time:     now.Format(time.RFC3339),
	}
	if err := h.db.Ping(); err != nil {
		logger.GetGinLogger(c, h.logger).Warn("Health check failed", zap.Error(err))
		body.Status = "unhealthy"
		body.Database = "error"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
