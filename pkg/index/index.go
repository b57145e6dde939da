// Package index implements the in-memory nearest-neighbor structures the
// engine searches: one flat inner-product index per vector kind (session,
// cumulative, baseline).
//
// Flat exhaustive search is exact and fast enough at the scale this engine
// targets (up to ~10^6 vectors per kind). All indexed vectors are
// L2-normalized, so inner product equals cosine similarity.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/vector"
)

// ErrDimensionMismatch is returned when a vector of the wrong dimension is
// added to an index. This is a logic error, not a transient condition.
type ErrDimensionMismatch struct {
	Want, Got int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index expects %d, got %d", e.Want, e.Got)
}

// flatIndex is an append-only flat inner-product index over normalized
// vectors. Reads proceed concurrently; appends take the writer lock.
type flatIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float64
}

// Index holds the engine's three similarity indices keyed by vector kind.
type Index struct {
	dim    int
	byKind map[models.VectorKind]*flatIndex
}

// New creates the session, cumulative and baseline indices for the given
// vector dimension.
func New(dim int) *Index {
	byKind := make(map[models.VectorKind]*flatIndex, 3)
	for _, k := range models.Kinds() {
		byKind[k] = &flatIndex{dim: dim}
	}
	return &Index{dim: dim, byKind: byKind}
}

// Dimension returns the vector dimension all three indices enforce.
func (ix *Index) Dimension() int { return ix.dim }

// Add appends v to the index for kind. The vector is defensively copied so
// later caller mutations cannot tear an indexed entry.
func (ix *Index) Add(kind models.VectorKind, v []float64) error {
	fi, ok := ix.byKind[kind]
	if !ok {
		return fmt.Errorf("unknown vector kind %q", kind)
	}
	if len(v) != fi.dim {
		return &ErrDimensionMismatch{Want: fi.dim, Got: len(v)}
	}
	cp := make([]float64, len(v))
	copy(cp, v)

	fi.mu.Lock()
	fi.vectors = append(fi.vectors, cp)
	fi.mu.Unlock()
	return nil
}

// Search returns up to k entries of the given kind with the highest inner
// product against query, ordered by descending similarity. Ties keep
// insertion order (older entries first). Searching an empty index returns
// an empty slice, never an error.
func (ix *Index) Search(kind models.VectorKind, query []float64, k int) []models.SimilarMatch {
	fi, ok := ix.byKind[kind]
	if !ok || k <= 0 {
		return nil
	}

	fi.mu.RLock()
	matches := make([]models.SimilarMatch, 0, len(fi.vectors))
	for i, v := range fi.vectors {
		matches = append(matches, models.SimilarMatch{
			Similarity: vector.Dot(query, v),
			Index:      i,
			Kind:       kind,
		})
	}
	fi.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Size returns the number of vectors indexed for kind.
func (ix *Index) Size(kind models.VectorKind) int {
	fi, ok := ix.byKind[kind]
	if !ok {
		return 0
	}
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.vectors)
}
