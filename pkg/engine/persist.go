package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/storage"
)

// putVector persists rec with the engine's recovery policy: a missing user
// row triggers EnsureUser and one retry, any other failure gets one jittered
// retry. Returns the record id and whether the write reached the repository.
func (e *Engine) putVector(ctx context.Context, externalID string, rec *models.VectorRecord) (string, bool) {
	id, err := e.tryPut(ctx, rec)
	if err == nil {
		return id, true
	}

	if errors.Is(err, storage.ErrForeignKeyMissing) {
		slog.Info("User row missing, creating minimal profile",
			"internal_id", rec.UserID, "user_id", externalID)
		if ensureErr := e.ensureUser(ctx, rec.UserID, externalID); ensureErr != nil {
			slog.Warn("Failed to create user profile row", "user_id", externalID, "error", ensureErr)
		} else if id, err = e.tryPut(ctx, rec); err == nil {
			return id, true
		}
	} else if ctx.Err() == nil {
		// Transient failure: one retry with jitter.
		delay := e.cfg.Repository.RetryDelay
		if delay > 0 {
			delay += rand.N(delay)
		}
		select {
		case <-time.After(delay):
			if id, err = e.tryPut(ctx, rec); err == nil {
				return id, true
			}
		case <-ctx.Done():
		}
	}

	slog.Warn("Repository write failed, keeping in-memory state authoritative",
		"user_id", externalID, "vector_type", rec.VectorType, "error", err)
	e.metrics.ObserveFallback()
	return localVectorID(externalID, rec.SessionID), false
}

// tryPut issues a single bounded-timeout PutVector.
func (e *Engine) tryPut(ctx context.Context, rec *models.VectorRecord) (string, error) {
	putCtx, cancel := context.WithTimeout(ctx, e.cfg.Repository.Timeout)
	defer cancel()
	return e.repo.PutVector(putCtx, rec)
}

func (e *Engine) ensureUser(ctx context.Context, internalID, externalID string) error {
	ensureCtx, cancel := context.WithTimeout(ctx, e.cfg.Repository.Timeout)
	defer cancel()
	return e.repo.EnsureUser(ensureCtx, internalID, externalID, map[string]any{
		"auto_created": true,
		"purpose":      "behavioral_vector_storage",
		"original_id":  externalID,
	})
}

// localVectorID builds the synthetic id handed out when durability is
// unavailable. The prefix lets callers recognize best-effort records.
func localVectorID(externalID, sessionID string) string {
	return fmt.Sprintf("local_%s_%s_%d", externalID, sessionID, time.Now().Unix())
}
