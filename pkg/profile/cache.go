// Package profile maintains the in-memory user profiles the decision engine
// reads: an LRU load-through cache over the vector repository plus the
// per-user locks that serialize concurrent sessions for the same user.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chanikkyasaai/bridge/pkg/identity"
	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/storage"
)

// Cache is a load-through, write-through profile cache keyed by external
// user id. Loading a missing profile queries the repository for the user's
// latest cumulative and baseline vectors and stored phase; a repository
// failure degrades to a fresh learning-phase profile rather than failing
// the request — the in-memory state is authoritative within the process.
type Cache struct {
	dim      int
	repo     storage.VectorRepository
	profiles *lru.Cache[string, *models.UserProfile]
}

// New creates a profile cache bounded to size entries.
func New(dim, size int, repo storage.VectorRepository) (*Cache, error) {
	profiles, err := lru.New[string, *models.UserProfile](size)
	if err != nil {
		return nil, err
	}
	return &Cache{dim: dim, repo: repo, profiles: profiles}, nil
}

// Get returns the cached profile for externalID, loading it from the
// repository on first access. Never fails: degraded loads return a
// zero-initialized learning profile.
func (c *Cache) Get(ctx context.Context, externalID string) *models.UserProfile {
	if p, ok := c.profiles.Get(externalID); ok {
		return p
	}
	p := c.load(ctx, externalID)
	c.profiles.Add(externalID, p)
	return p
}

// Put replaces the cached profile for its external id.
func (c *Cache) Put(p *models.UserProfile) {
	c.profiles.Add(p.UserID, p)
}

// Peek returns the cached profile without loading or promoting it.
func (c *Cache) Peek(externalID string) (*models.UserProfile, bool) {
	return c.profiles.Peek(externalID)
}

// Len returns the number of resident profiles.
func (c *Cache) Len() int {
	return c.profiles.Len()
}

func (c *Cache) load(ctx context.Context, externalID string) *models.UserProfile {
	internalID := identity.InternalID(externalID)
	log := slog.With("user_id", externalID, "internal_id", internalID)

	p := &models.UserProfile{
		UserID:           externalID,
		InternalID:       internalID,
		CumulativeVector: make([]float64, c.dim),
		LastUpdated:      time.Now().UTC(),
		Phase:            models.PhaseLearning,
	}

	cumulative, err := c.repo.Latest(ctx, internalID, models.KindCumulative)
	switch {
	case err == nil:
		p.CumulativeVector = cumulative.VectorData
		p.VectorCount = vectorCountFrom(cumulative.Metadata)
		p.LastUpdated = cumulative.CreatedAt
		log.Info("Loaded cumulative vector", "vector_count", p.VectorCount)
	case errors.Is(err, storage.ErrNotFound):
		log.Info("Creating new profile (no existing data)")
	default:
		log.Warn("Failed to load cumulative vector, starting fresh profile", "error", err)
		return p
	}

	baseline, err := c.repo.Latest(ctx, internalID, models.KindBaseline)
	switch {
	case err == nil:
		p.BaselineVector = baseline.VectorData
		log.Debug("Loaded baseline vector")
	case errors.Is(err, storage.ErrNotFound):
		// No baseline yet; expected before full-auth promotion.
	default:
		log.Warn("Failed to load baseline vector", "error", err)
	}

	phase, err := c.repo.GetUserPhase(ctx, internalID)
	switch {
	case err == nil:
		p.Phase = phase
	case errors.Is(err, storage.ErrNotFound):
		// New user; stays in learning.
	default:
		log.Warn("Failed to load user phase, defaulting to learning", "error", err)
	}

	return p
}

// vectorCountFrom recovers the session count stored in cumulative-record
// metadata. JSON round-trips numbers as float64.
func vectorCountFrom(metadata map[string]any) int {
	v, ok := metadata[models.MetaVectorCount]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 1
}
