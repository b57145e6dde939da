// Package engine implements the behavioral authentication core: the session
// pipeline, the phase-specific decision policies, cumulative profile
// learning and the learning-phase state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chanikkyasaai/bridge/pkg/config"
	"github.com/chanikkyasaai/bridge/pkg/extract"
	"github.com/chanikkyasaai/bridge/pkg/identity"
	"github.com/chanikkyasaai/bridge/pkg/index"
	"github.com/chanikkyasaai/bridge/pkg/metrics"
	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/profile"
	"github.com/chanikkyasaai/bridge/pkg/storage"
	"github.com/chanikkyasaai/bridge/pkg/vector"
)

// Engine is the behavioral authentication engine. It owns the similarity
// indices and profile cache; the repository and feature extractor are
// injected. Construct with New and share one instance per process.
type Engine struct {
	cfg       *config.Config
	extractor extract.FeatureExtractor
	repo      storage.VectorRepository
	index     *index.Index
	profiles  *profile.Cache
	locks     *profile.LockRegistry
	metrics   *metrics.Metrics
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMetrics wires Prometheus collectors into the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs the engine and verifies the extractor matches the
// configured vector dimension.
func New(cfg *config.Config, extractor extract.FeatureExtractor, repo storage.VectorRepository, opts ...Option) (*Engine, error) {
	if extractor.Dimension() != cfg.Engine.VectorDimension {
		return nil, fmt.Errorf("%w: extractor produces %d, engine configured for %d",
			ErrDimensionMismatch, extractor.Dimension(), cfg.Engine.VectorDimension)
	}

	profiles, err := profile.New(cfg.Engine.VectorDimension, cfg.Engine.ProfileCacheSize, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		extractor: extractor,
		repo:      repo,
		index:     index.New(cfg.Engine.VectorDimension),
		profiles:  profiles,
		locks:     profile.NewLockRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	slog.Info("Behavioral engine initialized",
		"vector_dimension", cfg.Engine.VectorDimension,
		"gradual_threshold", cfg.Thresholds.GradualRisk,
		"full_auth_threshold", cfg.Thresholds.FullAuth)
	return e, nil
}

// WarmStart reloads persisted vectors into the similarity indices so
// k-NN results survive restarts. Skips records whose dimension no longer
// matches the configured one.
func (e *Engine) WarmStart(ctx context.Context) error {
	for _, kind := range models.Kinds() {
		listCtx, cancel := context.WithTimeout(ctx, e.cfg.Repository.Timeout)
		records, err := e.repo.ListByKind(listCtx, kind)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load %s vectors: %w", kind, err)
		}

		loaded := 0
		for _, rec := range records {
			if vector.IsZero(rec.VectorData) {
				continue
			}
			if err := e.index.Add(kind, rec.VectorData); err != nil {
				slog.Warn("Skipping persisted vector with stale dimension",
					"record_id", rec.ID, "kind", kind, "error", err)
				continue
			}
			loaded++
		}
		if loaded > 0 {
			slog.Info("Loaded persisted vectors into index", "kind", kind, "count", loaded)
		}
		e.metrics.SetIndexSize(string(kind), e.index.Size(kind))
	}
	return nil
}

// ProcessRequest is one behavioral session batch to analyze.
type ProcessRequest struct {
	UserID        string
	SessionID     string
	Logs          []models.EventLog
	PhaseOverride models.Phase // empty means the profile's current phase
}

// ProcessSession runs the full pipeline for one event batch: extract,
// normalize, store, decide, learn, and evaluate phase promotion. Repository
// failures degrade durability, never the decision; only invalid input or a
// broken invariant fails the request.
func (e *Engine) ProcessSession(ctx context.Context, req ProcessRequest) (*models.AnalysisResult, error) {
	if req.UserID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if req.PhaseOverride != "" {
		if _, err := models.ParsePhase(string(req.PhaseOverride)); err != nil {
			return nil, NewValidationError("phase", err.Error())
		}
	}

	raw := e.extractor.Extract(req.Logs)
	if len(raw) != e.cfg.Engine.VectorDimension {
		return nil, fmt.Errorf("%w: extractor produced %d components, expected %d",
			ErrDimensionMismatch, len(raw), e.cfg.Engine.VectorDimension)
	}
	session := vector.Normalize(raw)
	stats := vector.Stats(session)

	// Degenerate input cannot be scored. Report a learn outcome and still
	// store the record for later diagnostics.
	if degraded := e.degenerateResult(req, session); degraded != nil {
		degraded.VectorID, _ = e.storeSession(ctx, req, session)
		degraded.SessionVector = session
		degraded.VectorStats = &stats
		e.metrics.ObserveDecision(string(degraded.Decision))
		return degraded, nil
	}

	vectorID, _ := e.storeSession(ctx, req, session)

	// Steps below mutate the user profile; serialize per user.
	e.locks.Lock(req.UserID)
	defer e.locks.Unlock(req.UserID)

	p := e.profiles.Get(ctx, req.UserID)
	phase := p.Phase
	if req.PhaseOverride != "" {
		phase = req.PhaseOverride
	}
	if phase == models.PhaseFullAuth && !p.HasBaseline() {
		// Full-auth scoring prefers a baseline; build one from the current
		// cumulative when possible.
		e.ensureBaseline(ctx, p)
	}

	result := e.decide(session, p, phase)

	if err := e.updateCumulative(ctx, p, session, result.Decision); err != nil {
		return nil, err
	}
	e.evaluateTransitions(ctx, p)
	e.profiles.Put(p)

	result.VectorID = vectorID
	result.SessionVector = session
	result.VectorStats = &stats

	e.metrics.ObserveDecision(string(result.Decision))
	e.syncIndexGauges()

	slog.Debug("Behavioral analysis complete",
		"user_id", req.UserID, "session_id", req.SessionID,
		"decision", result.Decision, "similarity", result.Similarity,
		"confidence", result.Confidence, "phase", p.Phase)
	return result, nil
}

// degenerateResult short-circuits batches the extractor could not score:
// empty batches and all-zero vectors. Returns nil for scorable input.
func (e *Engine) degenerateResult(req ProcessRequest, session []float64) *models.AnalysisResult {
	if len(req.Logs) == 0 {
		return &models.AnalysisResult{
			Similarity:  0.0,
			Confidence:  0.5,
			Decision:    models.DecisionLearn,
			RiskLevel:   models.RiskMedium,
			RiskFactors: []string{"No behavioral data provided"},
		}
	}
	if vector.IsZero(session) {
		return &models.AnalysisResult{
			Similarity:  0.0,
			Confidence:  0.3,
			Decision:    models.DecisionLearn,
			RiskLevel:   models.RiskMedium,
			RiskFactors: []string{"Invalid behavioral vector generated"},
		}
	}
	return nil
}

// storeSession appends the session vector to the session index and persists
// the record. Zero vectors are persisted for diagnostics but never indexed.
func (e *Engine) storeSession(ctx context.Context, req ProcessRequest, session []float64) (string, bool) {
	if !vector.IsZero(session) {
		if err := e.index.Add(models.KindSession, session); err != nil {
			slog.Warn("Failed to index session vector", "session_id", req.SessionID, "error", err)
		}
	}

	quality := 0.0
	for _, x := range session {
		if x < 0 {
			quality -= x
		} else {
			quality += x
		}
	}
	metadata := map[string]any{
		models.MetaOriginalUserID:      req.UserID,
		models.MetaEventCount:          len(req.Logs),
		models.MetaEventTypes:          extract.EventTypes(req.Logs),
		models.MetaVectorQuality:       quality,
		models.MetaProcessingTimestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if d, ok := extract.SessionDuration(req.Logs); ok {
		metadata[models.MetaSessionDuration] = d
	}

	rec := &models.VectorRecord{
		UserID:        identity.InternalID(req.UserID),
		SessionID:     req.SessionID,
		VectorData:    session,
		VectorType:    models.KindSession,
		Confidence:    0.8,
		FeatureSource: "mobile_behavioral_data",
		Metadata:      metadata,
	}
	return e.putVector(ctx, req.UserID, rec)
}

// EndSession folds the most recent session vector for sessionID into the
// user's cumulative profile with an allow decision and re-evaluates phase
// promotion. A session with no stored vector is a no-op.
func (e *Engine) EndSession(ctx context.Context, externalUserID, sessionID string) error {
	if externalUserID == "" {
		return NewValidationError("user_id", "required")
	}
	if sessionID == "" {
		return NewValidationError("session_id", "required")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Repository.Timeout)
	rec, err := e.repo.BySession(fetchCtx, sessionID, models.KindSession)
	cancel()
	if errors.Is(err, storage.ErrNotFound) {
		slog.Warn("No session vector found for session end", "session_id", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch session vector: %w", err)
	}

	session := vector.Normalize(rec.VectorData)
	if vector.IsZero(session) {
		slog.Warn("Stored session vector is empty, skipping cumulative update", "session_id", sessionID)
		return nil
	}

	e.locks.Lock(externalUserID)
	defer e.locks.Unlock(externalUserID)

	p := e.profiles.Get(ctx, externalUserID)
	if err := e.updateCumulative(ctx, p, session, models.DecisionAllow); err != nil {
		return err
	}
	e.evaluateTransitions(ctx, p)
	e.profiles.Put(p)
	e.syncIndexGauges()

	slog.Info("Session end update completed", "user_id", externalUserID, "session_id", sessionID)
	return nil
}

// UserStats reports a user's learning progress.
func (e *Engine) UserStats(ctx context.Context, externalUserID string) (*models.UserStats, error) {
	if externalUserID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	e.locks.Lock(externalUserID)
	defer e.locks.Unlock(externalUserID)

	p := e.profiles.Get(ctx, externalUserID)

	needed := 0
	switch p.Phase {
	case models.PhaseLearning:
		needed = e.cfg.Phases.GradualAfter - p.VectorCount
	case models.PhaseGradual:
		needed = e.cfg.Phases.FullAuthAfter - p.VectorCount
	}
	if needed < 0 {
		needed = 0
	}

	return &models.UserStats{
		UserID:         externalUserID,
		VectorCount:    p.VectorCount,
		HasBaseline:    p.HasBaseline(),
		LastUpdated:    p.LastUpdated,
		Phase:          p.Phase,
		SessionsNeeded: needed,
		CumulativeNorm: vector.Norm(p.CumulativeVector),
	}, nil
}

// Stats reports process-wide engine state.
func (e *Engine) Stats() models.EngineStats {
	return models.EngineStats{
		SessionVectors:    e.index.Size(models.KindSession),
		CumulativeVectors: e.index.Size(models.KindCumulative),
		BaselineVectors:   e.index.Size(models.KindBaseline),
		CachedProfiles:    e.profiles.Len(),
		Dimension:         e.cfg.Engine.VectorDimension,
		Thresholds:        e.cfg.ThresholdMap(),
	}
}

func (e *Engine) syncIndexGauges() {
	for _, kind := range models.Kinds() {
		e.metrics.SetIndexSize(string(kind), e.index.Size(kind))
	}
}
