package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chanikkyasaai/bridge/pkg/models"
)

// evaluateTransitions advances the user's learning phase after a cumulative
// update. Transitions only move forward and re-evaluating an already
// promoted profile is a no-op.
func (e *Engine) evaluateTransitions(ctx context.Context, p *models.UserProfile) {
	switch p.Phase {
	case models.PhaseLearning:
		if p.VectorCount < e.cfg.Phases.GradualAfter {
			return
		}
		if err := e.persistPhase(ctx, p.InternalID, models.PhaseGradual); err != nil {
			// The in-memory phase still advances; durability catches up on
			// the next successful write.
			slog.Warn("Failed to persist phase transition", "user_id", p.UserID, "error", err)
		}
		p.Phase = models.PhaseGradual
		e.metrics.ObservePhaseTransition(string(models.PhaseGradual))
		slog.Info("User transitioned to gradual_risk phase",
			"user_id", p.UserID, "vector_count", p.VectorCount)

	case models.PhaseGradual:
		if p.VectorCount < e.cfg.Phases.FullAuthAfter {
			return
		}
		// The baseline snapshot must be durable before the promotion; a
		// failed write leaves the phase unchanged and the transition is
		// retried on the next update.
		if !e.ensureBaseline(ctx, p) {
			slog.Warn("Full-auth promotion deferred, baseline not persisted", "user_id", p.UserID)
			return
		}
		if err := e.persistPhase(ctx, p.InternalID, models.PhaseFullAuth); err != nil {
			slog.Warn("Full-auth promotion deferred, phase write failed", "user_id", p.UserID, "error", err)
			return
		}
		p.Phase = models.PhaseFullAuth
		e.metrics.ObservePhaseTransition(string(models.PhaseFullAuth))
		slog.Info("User transitioned to full_auth phase with baseline vector",
			"user_id", p.UserID, "vector_count", p.VectorCount)
	}
}

// ensureBaseline snapshots the current cumulative vector as the user's
// stable baseline. Created at most once; returns whether a durable baseline
// exists afterwards.
func (e *Engine) ensureBaseline(ctx context.Context, p *models.UserProfile) bool {
	if p.HasBaseline() {
		return true
	}
	if p.VectorCount == 0 {
		return false
	}

	baseline := make([]float64, len(p.CumulativeVector))
	copy(baseline, p.CumulativeVector)
	now := time.Now().UTC()

	rec := &models.VectorRecord{
		UserID:        p.InternalID,
		SessionID:     fmt.Sprintf("baseline_%s", now.Format(time.RFC3339)),
		VectorData:    baseline,
		VectorType:    models.KindBaseline,
		Confidence:    0.95,
		FeatureSource: "baseline_creation",
		Metadata: map[string]any{
			models.MetaOriginalUserID:    p.UserID,
			models.MetaCreatedFromCount:  p.VectorCount,
			models.MetaCreationTimestamp: now.Format(time.RFC3339),
		},
	}
	if _, persisted := e.putVector(ctx, p.UserID, rec); !persisted {
		return false
	}

	p.BaselineVector = baseline
	if err := e.index.Add(models.KindBaseline, baseline); err != nil {
		slog.Warn("Failed to index baseline vector", "user_id", p.UserID, "error", err)
	}
	slog.Info("Created baseline vector", "user_id", p.UserID, "vector_count", p.VectorCount)
	return true
}

func (e *Engine) persistPhase(ctx context.Context, internalID string, phase models.Phase) error {
	phaseCtx, cancel := context.WithTimeout(ctx, e.cfg.Repository.Timeout)
	defer cancel()
	return e.repo.SetUserPhase(phaseCtx, internalID, phase)
}
