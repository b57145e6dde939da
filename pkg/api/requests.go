package api

import "github.com/chanikkyasaai/bridge/pkg/models"

// AnalyzeRequest is the HTTP request body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	UserID    string            `json:"user_id" binding:"required"`
	SessionID string            `json:"session_id" binding:"required"`
	Logs      []models.EventLog `json:"logs"`
	Phase     string            `json:"phase,omitempty"`
}

// EndSessionRequest is the HTTP request body for
// POST /api/v1/sessions/:session_id/end.
type EndSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
