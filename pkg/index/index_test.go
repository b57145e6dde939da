package index

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanikkyasaai/bridge/pkg/models"
)

func TestIndex_AddAndSearch(t *testing.T) {
	ix := New(4)

	require.NoError(t, ix.Add(models.KindCumulative, []float64{1, 0, 0, 0}))
	require.NoError(t, ix.Add(models.KindCumulative, []float64{0, 1, 0, 0}))
	require.NoError(t, ix.Add(models.KindCumulative, []float64{0.707, 0.707, 0, 0}))

	matches := ix.Search(models.KindCumulative, []float64{1, 0, 0, 0}, 2)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Index)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, 2, matches[1].Index)
	assert.Equal(t, models.KindCumulative, matches[0].Kind)
}

func TestIndex_SearchEmptyReturnsEmpty(t *testing.T) {
	ix := New(4)
	matches := ix.Search(models.KindBaseline, []float64{1, 0, 0, 0}, 5)
	assert.Empty(t, matches)
}

func TestIndex_SearchFewerThanK(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.Add(models.KindSession, []float64{1, 0}))
	matches := ix.Search(models.KindSession, []float64{1, 0}, 10)
	assert.Len(t, matches, 1)
}

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.Add(models.KindSession, []float64{1, 0}))
	require.NoError(t, ix.Add(models.KindSession, []float64{1, 0}))
	require.NoError(t, ix.Add(models.KindSession, []float64{1, 0}))

	matches := ix.Search(models.KindSession, []float64{1, 0}, 3)
	require.Len(t, matches, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{matches[0].Index, matches[1].Index, matches[2].Index})
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ix := New(4)
	err := ix.Add(models.KindSession, []float64{1, 0})
	require.Error(t, err)
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)
}

func TestIndex_KindsAreIndependent(t *testing.T) {
	ix := New(2)
	require.NoError(t, ix.Add(models.KindSession, []float64{1, 0}))
	require.NoError(t, ix.Add(models.KindCumulative, []float64{0, 1}))

	assert.Equal(t, 1, ix.Size(models.KindSession))
	assert.Equal(t, 1, ix.Size(models.KindCumulative))
	assert.Equal(t, 0, ix.Size(models.KindBaseline))
	assert.Empty(t, ix.Search(models.KindBaseline, []float64{1, 0}, 1))
}

func TestIndex_AddCopiesVector(t *testing.T) {
	ix := New(2)
	v := []float64{1, 0}
	require.NoError(t, ix.Add(models.KindSession, v))
	v[0] = 0 // caller mutation must not reach the index

	matches := ix.Search(models.KindSession, []float64{1, 0}, 1)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestIndex_ConcurrentReadersAndWriters(t *testing.T) {
	ix := New(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ix.Add(models.KindSession, []float64{1, 0, 0, 0})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ix.Search(models.KindSession, []float64{1, 0, 0, 0}, 3)
				_ = ix.Size(models.KindSession)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, ix.Size(models.KindSession))
}
