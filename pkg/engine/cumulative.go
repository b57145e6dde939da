package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/vector"
)

// updateCumulative folds a non-blocked session vector into the user's
// cumulative profile with an exponential moving average, then re-indexes
// and persists the result. Blocked sessions never touch the profile.
//
// Ordering inside the caller's per-user critical section: the in-memory
// profile is updated first, then the index append, then the repository
// write. Persistence is best-effort; a failed write leaves the in-memory
// state authoritative and is re-persisted on the next successful update.
func (e *Engine) updateCumulative(ctx context.Context, p *models.UserProfile, session []float64, decision models.Decision) error {
	if decision == models.DecisionBlock {
		return nil
	}

	alpha := e.cfg.Decision.LearningRate
	updated := make([]float64, len(session))
	if p.VectorCount == 0 {
		copy(updated, session)
	} else {
		for i := range session {
			updated[i] = (1-alpha)*p.CumulativeVector[i] + alpha*session[i]
		}
	}
	updated = vector.Normalize(updated)

	p.CumulativeVector = updated
	p.VectorCount++
	p.LastUpdated = time.Now().UTC()

	if err := e.index.Add(models.KindCumulative, updated); err != nil {
		return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}

	rec := &models.VectorRecord{
		UserID:        p.InternalID,
		SessionID:     fmt.Sprintf("cumulative_%d", p.VectorCount),
		VectorData:    updated,
		VectorType:    models.KindCumulative,
		Confidence:    0.9,
		FeatureSource: "cumulative_learning",
		Metadata: map[string]any{
			models.MetaOriginalUserID:  p.UserID,
			models.MetaVectorCount:     p.VectorCount,
			models.MetaLearningRate:    alpha,
			models.MetaDecisionContext: string(decision),
		},
	}
	e.putVector(ctx, p.UserID, rec)
	return nil
}
