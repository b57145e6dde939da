package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanikkyasaai/bridge/pkg/identity"
	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/storage"
)

func TestCache_LoadsFreshProfile(t *testing.T) {
	cache, err := New(4, 10, storage.NewMemory())
	require.NoError(t, err)

	p := cache.Get(context.Background(), "user_a")
	assert.Equal(t, "user_a", p.UserID)
	assert.Equal(t, identity.InternalID("user_a"), p.InternalID)
	assert.Equal(t, []float64{0, 0, 0, 0}, p.CumulativeVector)
	assert.Equal(t, 0, p.VectorCount)
	assert.Nil(t, p.BaselineVector)
	assert.Equal(t, models.PhaseLearning, p.Phase)
}

func TestCache_LoadsPersistedState(t *testing.T) {
	repo := storage.NewMemory()
	ctx := context.Background()
	internalID := identity.InternalID("user_b")

	_, err := repo.PutVector(ctx, &models.VectorRecord{
		UserID:     internalID,
		SessionID:  "cumulative_7",
		VectorData: []float64{1, 0, 0, 0},
		VectorType: models.KindCumulative,
		Metadata:   map[string]any{models.MetaVectorCount: float64(7)},
		CreatedAt:  time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = repo.PutVector(ctx, &models.VectorRecord{
		UserID:     internalID,
		SessionID:  "baseline_x",
		VectorData: []float64{0, 1, 0, 0},
		VectorType: models.KindBaseline,
	})
	require.NoError(t, err)
	require.NoError(t, repo.SetUserPhase(ctx, internalID, models.PhaseFullAuth))

	cache, err := New(4, 10, repo)
	require.NoError(t, err)

	p := cache.Get(ctx, "user_b")
	assert.Equal(t, []float64{1, 0, 0, 0}, p.CumulativeVector)
	assert.Equal(t, 7, p.VectorCount)
	assert.Equal(t, []float64{0, 1, 0, 0}, p.BaselineVector)
	assert.Equal(t, models.PhaseFullAuth, p.Phase)
}

func TestCache_SecondGetIsResident(t *testing.T) {
	repo := storage.NewMemory()
	cache, err := New(4, 10, repo)
	require.NoError(t, err)
	ctx := context.Background()

	p1 := cache.Get(ctx, "user_c")
	p1.VectorCount = 3
	p2 := cache.Get(ctx, "user_c")
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, cache.Len())
}

// failingRepo fails every read with a transient error.
type failingRepo struct {
	*storage.MemoryRepository
}

func (f *failingRepo) Latest(context.Context, string, models.VectorKind) (*models.VectorRecord, error) {
	return nil, errors.New("connection refused")
}

func (f *failingRepo) GetUserPhase(context.Context, string) (models.Phase, error) {
	return "", errors.New("connection refused")
}

func TestCache_TransientLoadFailureDegradesToFreshProfile(t *testing.T) {
	cache, err := New(4, 10, &failingRepo{storage.NewMemory()})
	require.NoError(t, err)

	p := cache.Get(context.Background(), "user_d")
	require.NotNil(t, p)
	assert.Equal(t, models.PhaseLearning, p.Phase)
	assert.Equal(t, 0, p.VectorCount)
	assert.Len(t, p.CumulativeVector, 4)
}

func TestCache_EvictsBeyondCapacity(t *testing.T) {
	cache, err := New(4, 2, storage.NewMemory())
	require.NoError(t, err)
	ctx := context.Background()

	cache.Get(ctx, "u1")
	cache.Get(ctx, "u2")
	cache.Get(ctx, "u3")
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Peek("u1")
	assert.False(t, ok)
}

func TestLockRegistry_SerializesPerUser(t *testing.T) {
	reg := NewLockRegistry()

	var mu sync.Mutex
	running := map[string]int{}
	maxSeen := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				reg.Lock(user)
				defer reg.Unlock(user)

				mu.Lock()
				running[user]++
				if running[user] > maxSeen[user] {
					maxSeen[user] = running[user]
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running[user]--
				mu.Unlock()
			}(user)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen["alice"])
	assert.Equal(t, 1, maxSeen["bob"])
}
