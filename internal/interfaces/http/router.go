// Package http serves the local control API. The listener binds loopback
// only; its consumers are the on-device overlay UI and the operator CLI.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexivo/sentinel/internal/config"
	"github.com/nexivo/sentinel/internal/interfaces/http/handlers"
	"github.com/nexivo/sentinel/pkg/logger"
)

// Router owns the local API HTTP server.
type Router struct {
	engine        *gin.Engine
	config        *config.LocalAPIConfig
	logger        logger.Logger
	statusHandler *handlers.StatusHandler
	healthHandler *handlers.HealthHandler
	server        *http.Server
	routesReady   bool
}

// NewRouter creates the local API router.
func NewRouter(
	cfg *config.LocalAPIConfig,
	log logger.Logger,
	statusHandler *handlers.StatusHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	return &Router{
		engine:        engine,
		config:        cfg,
		logger:        log.WithComponent("local-api"),
		statusHandler: statusHandler,
		healthHandler: healthHandler,
	}
}

// SetupRoutes registers the local API routes.
func (r *Router) SetupRoutes() {
	if r.routesReady {
		return
	}
	r.routesReady = true

	r.engine.Use(gin.Recovery())
	r.engine.Use(r.requestLogger())

	r.engine.GET("/healthz", r.healthHandler.HealthCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/v1")
	{
		v1.GET("/status", r.statusHandler.GetStatus)
		v1.GET("/locks", r.statusHandler.ListLocks)
		v1.POST("/locks/:id/action", r.statusHandler.HandleLockAction)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})
}

// Start runs the server until ListenAndServe returns. Shutdown is driven
// by the caller through Stop.
func (r *Router) Start() error {
	r.SetupRoutes()

	r.server = &http.Server{
		Addr:           r.config.ListenAddr,
		Handler:        r.engine,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "Starting local control API",
		logger.String("address", r.config.ListenAddr),
	)

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine for handler tests.
func (r *Router) Engine() *gin.Engine {
	r.SetupRoutes()
	return r.engine
}

func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug(c.Request.Context(), "Local API request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}
