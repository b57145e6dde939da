// Package storage provides durable persistence for behavioral vectors and
// user profile metadata. The engine depends on the VectorRepository
// interface; PostgresRepository is the production implementation and
// MemoryRepository backs tests and repository-less deployments.
package storage

import (
	"context"
	"errors"

	"github.com/chanikkyasaai/bridge/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record or profile does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrForeignKeyMissing is returned by PutVector when the owning user row
	// is absent. Callers are expected to EnsureUser and retry once.
	ErrForeignKeyMissing = errors.New("user row missing for vector write")
)

// VectorRepository is the engine's persistence boundary. Every operation may
// fail transiently; the engine treats persistence as a write-behind cache of
// its in-memory state and never fails a request on a repository error alone.
type VectorRepository interface {
	// PutVector persists a vector record and returns its record id. A missing
	// record id is assigned by the repository.
	PutVector(ctx context.Context, rec *models.VectorRecord) (string, error)

	// Latest returns the most recent record of the given kind for a user, or
	// ErrNotFound.
	Latest(ctx context.Context, userInternalID string, kind models.VectorKind) (*models.VectorRecord, error)

	// BySession returns the most recent record of the given kind for a
	// session id, or ErrNotFound.
	BySession(ctx context.Context, sessionID string, kind models.VectorKind) (*models.VectorRecord, error)

	// ListByKind returns all records of a kind in insertion order. Used to
	// warm the similarity indices at startup.
	ListByKind(ctx context.Context, kind models.VectorKind) ([]*models.VectorRecord, error)

	// GetUserPhase returns the stored learning phase for a user, or
	// ErrNotFound when the user has no profile row yet.
	GetUserPhase(ctx context.Context, userInternalID string) (models.Phase, error)

	// SetUserPhase updates the stored learning phase, creating the profile
	// row if needed.
	SetUserPhase(ctx context.Context, userInternalID string, phase models.Phase) error

	// EnsureUser creates the user profile row if it does not exist.
	EnsureUser(ctx context.Context, userInternalID, externalID string, metadata map[string]any) error
}
