package api

import "github.com/chanikkyasaai/bridge/pkg/models"

// EndSessionResponse is returned by POST /api/v1/sessions/:session_id/end.
type EndSessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
	Engine  models.EngineStats     `json:"engine"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
