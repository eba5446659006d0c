// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "orseries/internal/core/context"
	"orseries/internal/domain"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/internal/infrastructure/http/v1/handlers"
	"orseries/internal/infrastructure/http/v1/middleware"
	"orseries/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Mode is the gin mode; defaults to release.
	Mode string

	AppName string
	Version string

	Logger       *logger.Logger
	JWTValidator middleware.JWTValidator

	// Pool backs the readiness probe.
	Pool handlers.Pinger

	Registry  *series.Service
	Allocator *ornumber.Service

	// Audit is optional; nil hides the history endpoints.
	Audit handlers.AuditHistory

	// Idempotency is optional; nil disables X-Idempotency-Key handling.
	Idempotency middleware.IdempotencyStore
}

// NewRouter creates and configures the gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "" {
		cfg.Mode = gin.ReleaseMode
	}
	gin.SetMode(cfg.Mode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Order matters: Recovery must wrap everything, ErrorHandler renders
	// what the handlers below it push into c.Errors.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger.WithComponent("http")))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.AppName, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	registerSeriesRoutes(api, handlers.NewSeriesHandler(base, cfg.Registry, cfg.Allocator))
	registerORNumberRoutes(api, handlers.NewORNumberHandler(base, cfg.Allocator))
	if cfg.Audit != nil {
		registerHistoryRoutes(api, handlers.NewAuditHandler(base, cfg.Audit))
	}

	return router
}

func registerSeriesRoutes(rg *gin.RouterGroup, h *handlers.SeriesHandler) {
	admin := middleware.RequireRole(appctx.RoleAdmin)

	g := rg.Group("/series")
	g.GET("", h.List)
	g.GET("/active", h.Active)
	g.GET("/active/statistics", h.ActiveStatistics)
	g.GET("/near-limit", h.NearLimit)
	g.GET("/:id", h.Get)
	g.GET("/:id/statistics", h.Statistics)

	g.POST("", admin, h.Create)
	g.PATCH("/:id", admin, h.Update)
	g.DELETE("/:id", admin, h.Delete)
	g.POST("/:id/activate", admin, h.Activate)
	g.POST("/:id/deactivate", admin, h.Deactivate)
}

func registerORNumberRoutes(rg *gin.RouterGroup, h *handlers.ORNumberHandler) {
	admin := middleware.RequireRole(appctx.RoleAdmin)

	g := rg.Group("/or-numbers")
	g.Use(middleware.RequireRole(appctx.RoleCashier, appctx.RoleAdmin))
	g.POST("/generate", h.Generate)
	g.GET("/validate", h.Validate)
	g.POST("/manual", h.RegisterManual)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/use", h.Use)
	g.POST("/:id/void", h.Void)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/expire", admin, h.Expire)
}

func registerHistoryRoutes(rg *gin.RouterGroup, h *handlers.AuditHandler) {
	admin := middleware.RequireRole(appctx.RoleAdmin)

	rg.GET("/series/:id/history", admin, h.History(domain.AggregateSeries))
	rg.GET("/or-numbers/:id/history", admin, h.History(domain.AggregateORNumber))
}
