package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chanikkyasaai/bridge/pkg/models"
)

// MemoryRepository is an in-process VectorRepository. It backs tests and
// deployments that run without a database; the engine's in-memory indices
// remain authoritative either way.
//
// When Strict is true, PutVector rejects writes for users that were never
// ensured, mirroring the foreign-key behavior of the Postgres schema.
type MemoryRepository struct {
	mu      sync.RWMutex
	Strict  bool
	vectors []*models.VectorRecord
	users   map[string]memoryUser
}

type memoryUser struct {
	externalID string
	phase      models.Phase
	hasPhase   bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]memoryUser)}
}

// PutVector stores a copy of the record and returns its id.
func (r *MemoryRepository) PutVector(_ context.Context, rec *models.VectorRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Strict {
		if _, ok := r.users[rec.UserID]; !ok {
			return "", fmt.Errorf("put vector for user %s: %w", rec.UserID, ErrForeignKeyMissing)
		}
	}

	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.VectorData = append([]float64(nil), rec.VectorData...)
	r.vectors = append(r.vectors, &cp)
	return cp.ID, nil
}

// Latest returns the most recently stored record of a kind for a user.
func (r *MemoryRepository) Latest(_ context.Context, userInternalID string, kind models.VectorKind) (*models.VectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.vectors) - 1; i >= 0; i-- {
		if r.vectors[i].UserID == userInternalID && r.vectors[i].VectorType == kind {
			cp := *r.vectors[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// BySession returns the most recently stored record of a kind for a session.
func (r *MemoryRepository) BySession(_ context.Context, sessionID string, kind models.VectorKind) (*models.VectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.vectors) - 1; i >= 0; i-- {
		if r.vectors[i].SessionID == sessionID && r.vectors[i].VectorType == kind {
			cp := *r.vectors[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListByKind returns all records of a kind in insertion order.
func (r *MemoryRepository) ListByKind(_ context.Context, kind models.VectorKind) ([]*models.VectorRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.VectorRecord
	for _, rec := range r.vectors {
		if rec.VectorType == kind {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetUserPhase returns the stored phase for a user.
func (r *MemoryRepository) GetUserPhase(_ context.Context, userInternalID string) (models.Phase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userInternalID]
	if !ok || !u.hasPhase {
		return "", fmt.Errorf("phase for user %s: %w", userInternalID, ErrNotFound)
	}
	return u.phase, nil
}

// SetUserPhase stores the phase, creating the user entry if needed.
func (r *MemoryRepository) SetUserPhase(_ context.Context, userInternalID string, phase models.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[userInternalID]
	u.phase = phase
	u.hasPhase = true
	r.users[userInternalID] = u
	return nil
}

// EnsureUser creates the user entry if absent.
func (r *MemoryRepository) EnsureUser(_ context.Context, userInternalID, externalID string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userInternalID]; !ok {
		r.users[userInternalID] = memoryUser{externalID: externalID}
	}
	return nil
}

// VectorCount reports the number of stored records of a kind. Test helper.
func (r *MemoryRepository) VectorCount(kind models.VectorKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.vectors {
		if rec.VectorType == kind {
			n++
		}
	}
	return n
}
