package router

import (
	"github.com/gin-gonic/gin"
	"github.com/marshalcore/backend/internal/infrastructure/logger"
	"github.com/marshalcore/backend/internal/interfaces/http/handler"
	"github.com/marshalcore/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig holds what the HTTP engine needs besides its handlers
type EngineConfig struct {
	Logger      *zap.Logger
	MaxBodySize int64
	Tracing     middleware.TracingConfig
	// Meter enables request metrics when set
	Meter      metric.Meter
	Production bool
}

// Handlers are the endpoint handlers mounted by NewEngine
type Handlers struct {
	Split  *handler.SplitHandler
	Health *handler.HealthHandler
}

// PaymentRoutes groups the split endpoints under /payments/:reference
func PaymentRoutes(h *handler.SplitHandler) *DomainGroup {
	return NewDomainGroup("payments", "/payments/:reference").
		POST("/splits", h.Process).
		POST("/splits/retry", h.Retry).
		GET("/transfers", h.Transfers)
}

// NewEngine builds the gin engine with the middleware stack and all routes
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()

	// Order matters: the request ID must exist before the logger enriches
	// with it, and spans must exist before they are enriched.
	engine.Use(middleware.RequestID())
	engine.Use(middleware.TracingWithConfig(cfg.Tracing))
	engine.Use(middleware.SpanEnricher())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(cfg.Meter, log))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	if h.Health != nil {
		engine.GET("/health", h.Health.Check)
	}

	r := NewRouter(engine, WithAPIVersion("v1"))
	if h.Split != nil {
		r.Register(PaymentRoutes(h.Split))
	}
	r.Setup()
	return engine
}
