package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/middleware"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/config"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/tracing"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// RouterDeps are the collaborators of the HTTP surface. Metrics, Tracer,
// Archive and HealthCheckers are optional.
type RouterDeps struct {
	Handler        *recovery.Handler
	Archive        ArchiveReader
	Metrics        *metrics.Metrics
	Tracer         *tracing.TracingService
	Logger         *logging.Logger
	HealthCheckers map[string]HealthChecker
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(logger, deps.Metrics))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(SecurityHeadersMiddleware())
	if deps.Tracer != nil {
		router.Use(deps.Tracer.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	healthHandler := NewHealthHandler(Version, deps.HealthCheckers)
	router.GET("/health", healthHandler.Handle)

	if deps.Metrics != nil && cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	errorsHandler := NewErrorsHandler(deps.Handler, deps.Archive)

	v1 := router.Group("/api/v1")
	{
		v1.GET("", func(c *gin.Context) {
			SuccessResponse(c, gin.H{
				"name":    "Recovery Orchestrator API",
				"version": Version,
				"status":  "ok",
			})
		})

		errs := v1.Group("/errors")
		{
			errs.POST("", errorsHandler.Report)
			errs.GET("/stats", errorsHandler.Stats)

			admin := errs.Group("")
			if cfg.Auth.JWTSecret != "" {
				admin.Use(AdminAuthMiddleware(cfg.Auth.JWTSecret))
			}
			admin.DELETE("", errorsHandler.Clear)

			if deps.Archive != nil {
				errs.GET("/archive", errorsHandler.ListArchive)
				errs.GET("/archive/categories", errorsHandler.ArchiveCategories)
			}
		}

		v1.GET("/circuit-breakers", errorsHandler.CircuitBreakers)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
