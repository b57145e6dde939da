package models

import "time"

// Metadata keys shared between the engine and the repository layer.
const (
	MetaOriginalUserID      = "original_user_id"
	MetaVectorCount         = "vector_count"
	MetaLearningRate        = "learning_rate"
	MetaDecisionContext     = "decision_context"
	MetaCreatedFromCount    = "created_from_vector_count"
	MetaCreationTimestamp   = "creation_timestamp"
	MetaEventCount          = "event_count"
	MetaEventTypes          = "event_types"
	MetaVectorQuality       = "vector_quality"
	MetaProcessingTimestamp = "processing_timestamp"
	MetaSessionDuration     = "session_duration"
)

// VectorRecord is a persisted behavioral vector with its provenance.
// Session records carry the caller's session id; cumulative and baseline
// records use a synthetic session marker ("cumulative_<n>", "baseline_<ts>").
type VectorRecord struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"` // internal id, see identity.InternalID
	SessionID     string         `json:"session_id"`
	VectorData    []float64      `json:"vector_data"`
	VectorType    VectorKind     `json:"vector_type"`
	Confidence    float64        `json:"confidence_score"`
	FeatureSource string         `json:"feature_source"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// UserProfile is the per-user in-memory state the decision engine reads.
// CumulativeVector is the zero vector until the first non-blocked session;
// BaselineVector is nil until the profile reaches full authentication.
type UserProfile struct {
	UserID           string    `json:"user_id"`     // external id as supplied by the caller
	InternalID       string    `json:"internal_id"` // deterministic canonical form of UserID
	CumulativeVector []float64 `json:"cumulative_vector"`
	BaselineVector   []float64 `json:"baseline_vector,omitempty"`
	VectorCount      int       `json:"vector_count"`
	LastUpdated      time.Time `json:"last_updated"`
	Phase            Phase     `json:"learning_phase"`
}

// HasBaseline reports whether a baseline snapshot exists for the profile.
func (p *UserProfile) HasBaseline() bool {
	return len(p.BaselineVector) > 0
}
