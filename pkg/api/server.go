// Package api exposes the trigger, review and read endpoints over gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thymehq/thyme/pkg/database"
	"github.com/thymehq/thyme/pkg/scan"
	"github.com/thymehq/thyme/pkg/services"
	"github.com/thymehq/thyme/pkg/store"
	"github.com/thymehq/thyme/pkg/weekly"
)

// ScanRunner dispatches one scan; implemented by scan.Orchestrator.
type ScanRunner interface {
	Run(ctx context.Context) *scan.Result
}

// WeeklyRunner dispatches one weekly sweep.
type WeeklyRunner interface {
	Run(ctx context.Context) *weekly.Result
}

// Server wires the HTTP surface.
type Server struct {
	stores     *store.Stores
	db         *database.Client
	scanner    ScanRunner
	weekly     WeeklyRunner
	review     *services.ReviewService
	cronSecret string
	registry   *prometheus.Registry
	logger     *slog.Logger

	// running guards against overlapping triggered runs.
	running chan struct{}
}

// NewServer builds the server over its collaborators.
func NewServer(stores *store.Stores, db *database.Client, scanner ScanRunner,
	weeklyRunner WeeklyRunner, review *services.ReviewService,
	cronSecret string, registry *prometheus.Registry, logger *slog.Logger) *Server {
	return &Server{
		stores:     stores,
		db:         db,
		scanner:    scanner,
		weekly:     weeklyRunner,
		review:     review,
		cronSecret: cronSecret,
		registry:   registry,
		logger:     logger,
		running:    make(chan struct{}, 1),
	}
}

// Router assembles the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		triggers := api.Group("", s.requireBearer())
		triggers.POST("/scan", s.handleTriggerScan)
		triggers.POST("/weekly", s.handleTriggerWeekly)
		triggers.POST("/review", s.handleReview)

		api.GET("/overview", s.handleOverview)
		api.GET("/pages", s.handleListPages)
		api.GET("/findings", s.handleListFindings)
		api.GET("/queue", s.handleListQueue)
		api.GET("/trends", s.handleListTrends)
		api.GET("/conversion-audit", s.handleConversionAudit)
	}
	return r
}

// requestLogger logs completed requests through slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// requireBearer checks the shared trigger secret.
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix ||
			header[len(prefix):] != s.cronSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
