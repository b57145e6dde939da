// Package api provides the HTTP API for the behavioral authentication
// engine.
package api

import (
	stdsql "database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chanikkyasaai/bridge/pkg/engine"
)

// Server is the HTTP API server.
type Server struct {
	engine *engine.Engine
	db     *stdsql.DB // nil when running without a database
	router *gin.Engine
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithDatabase wires the connection pool into the health endpoint.
func WithDatabase(db *stdsql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithMetricsRegistry exposes the Prometheus registry on GET /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
}

// NewServer creates the API server and registers its routes.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		engine: eng,
		router: router,
	}

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/api/v1")
	v1.POST("/analyze", s.analyzeHandler)
	v1.POST("/sessions/:session_id/end", s.endSessionHandler)
	v1.GET("/users/:user_id/stats", s.userStatsHandler)
	v1.GET("/stats", s.engineStatsHandler)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router exposes the underlying router for serving and for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves HTTP on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func (s *Server) errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if isValidationError(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
