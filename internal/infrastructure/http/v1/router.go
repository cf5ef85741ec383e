// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"taxlink/internal/infrastructure/http/v1/handlers"
	"taxlink/internal/infrastructure/http/v1/middleware"
	"taxlink/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// DB is pinged by the readiness probe
	DB handlers.Pinger

	// Version is reported by /health/info
	Version string

	// TokenValidator validates operator tokens
	TokenValidator middleware.TokenValidator

	// Auth logs operators in
	Auth handlers.Authenticator

	// Submissions runs the pipelines
	Submissions handlers.SubmissionRunner

	// Documents reads documents for authorization and display
	Documents handlers.DocumentReader

	// Archive lists archived payloads (optional)
	Archive handlers.ArchiveReader

	// Idempotency enables replay of POST requests when set
	Idempotency middleware.IdempotencyStore

	// RateLimiter limits API calls per operator (optional)
	RateLimiter *limiter.Limiter

	// LoginLimiter limits login attempts per client IP (optional)
	LoginLimiter *limiter.Limiter

	// CORSOrigins allowed for the operator console
	CORSOrigins []string

	// Development enables gin debug mode
	Development bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	if cfg.DB != nil {
		healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Version)
		health := router.Group("/health")
		{
			health.GET("/live", healthHandler.Live)
			health.GET("/ready", healthHandler.Ready)
			health.GET("/info", healthHandler.Info)
		}
	}

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	{
		registerAuthRoutes(v1, base, cfg)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.TokenValidator))
		if cfg.RateLimiter != nil {
			protected.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.Idempotency != nil {
			protected.Use(middleware.Idempotency(cfg.Idempotency))
		}

		registerSubmissionRoutes(protected, base, cfg)
		registerDocumentRoutes(protected, base, cfg)
	}

	return router
}

// registerAuthRoutes registers authentication endpoints.
func registerAuthRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Auth == nil {
		return
	}
	authHandler := handlers.NewAuthHandler(base, cfg.Auth)

	chain := []gin.HandlerFunc{}
	if cfg.LoginLimiter != nil {
		chain = append(chain, middleware.RateLimit(cfg.LoginLimiter))
	}
	rg.Group("/auth").POST("/login", append(chain, authHandler.Login)...)
}

// registerSubmissionRoutes registers the interactive pipeline endpoints.
func registerSubmissionRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Submissions == nil {
		return
	}
	handler := handlers.NewSubmissionHandler(base, cfg.Submissions, cfg.Documents)
	handler.RegisterRoutes(rg.Group("/submissions"), middleware.RequireAdmin())
}

// registerDocumentRoutes registers read endpoints for documents.
func registerDocumentRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Documents == nil {
		return
	}
	handler := handlers.NewDocumentHandler(base, cfg.Documents, cfg.Archive)
	docs := rg.Group("/documents")
	{
		docs.GET("/:id", handler.Get)
		docs.GET("/:id/archive", handler.History)
	}
}
