package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chanikkyasaai/bridge/pkg/engine"
	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/storage"
	"github.com/chanikkyasaai/bridge/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"

	healthCheckTimeout = 5 * time.Second
)

func isValidationError(err error) bool {
	return errors.Is(err, engine.ErrInvalidInput)
}

// analyzeHandler handles POST /api/v1/analyze.
func (s *Server) analyzeHandler(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.ProcessSession(c.Request.Context(), engine.ProcessRequest{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Logs:          req.Logs,
		PhaseOverride: models.Phase(req.Phase),
	})
	if err != nil {
		s.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// endSessionHandler handles POST /api/v1/sessions/:session_id/end.
func (s *Server) endSessionHandler(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := c.Param("session_id")
	if err := s.engine.EndSession(c.Request.Context(), req.UserID, sessionID); err != nil {
		s.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, EndSessionResponse{
		SessionID: sessionID,
		Message:   "session end processed",
	})
}

// userStatsHandler handles GET /api/v1/users/:user_id/stats.
func (s *Server) userStatsHandler(c *gin.Context) {
	stats, err := s.engine.UserStats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// engineStatsHandler handles GET /api/v1/stats.
func (s *Server) engineStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

// healthHandler handles GET /health. Database connectivity is checked when
// a pool is wired; engines running repository-less report healthy on the
// in-memory state alone. A saturated or queueing pool degrades the report
// without failing it — the engine keeps serving from memory.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		pool, err := storage.CheckHealth(reqCtx, s.db)
		switch {
		case err != nil:
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: storage.StatusUnhealthy, Message: err.Error()}
		case pool.Status == storage.StatusDegraded:
			if status == healthStatusHealthy {
				status = storage.StatusDegraded
			}
			checks["database"] = HealthCheck{
				Status:  storage.StatusDegraded,
				Message: fmt.Sprintf("pool saturation %.0f%%, %d waits", pool.Saturation*100, pool.WaitCount),
			}
		default:
			checks["database"] = HealthCheck{Status: storage.StatusHealthy}
		}
	}

	engineStats := s.engine.Stats()
	checks["engine"] = HealthCheck{Status: healthStatusHealthy}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.Short(),
		Checks:  checks,
		Engine:  engineStats,
	})
}
