package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanikkyasaai/bridge/pkg/config"
	"github.com/chanikkyasaai/bridge/pkg/identity"
	"github.com/chanikkyasaai/bridge/pkg/models"
	"github.com/chanikkyasaai/bridge/pkg/storage"
	"github.com/chanikkyasaai/bridge/pkg/vector"
)

// testExtractor decodes the feature vector from the first event's data,
// letting tests drive the pipeline with exact vectors.
type testExtractor struct{ dim int }

func (e *testExtractor) Dimension() int { return e.dim }

func (e *testExtractor) Extract(logs []models.EventLog) []float64 {
	out := make([]float64, e.dim)
	if len(logs) == 0 {
		return out
	}
	if v, ok := logs[0].Data["vector"].([]float64); ok {
		copy(out, v)
	}
	return out
}

func batch(v []float64) []models.EventLog {
	return []models.EventLog{{EventType: "touch", Data: map[string]any{"vector": v}}}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Engine.VectorDimension = 4
	cfg.Repository.Timeout = time.Second
	cfg.Repository.RetryDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, repo storage.VectorRepository) *Engine {
	t.Helper()
	e, err := New(testConfig(), &testExtractor{dim: 4}, repo)
	require.NoError(t, err)
	return e
}

func processN(t *testing.T, e *Engine, user string, n int, v []float64) *models.AnalysisResult {
	t.Helper()
	var last *models.AnalysisResult
	for i := 0; i < n; i++ {
		res, err := e.ProcessSession(context.Background(), ProcessRequest{
			UserID:    user,
			SessionID: fmt.Sprintf("%s-sess-%d", user, i),
			Logs:      batch(v),
		})
		require.NoError(t, err)
		last = res
	}
	return last
}

func TestProcessSession_FirstSession(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)

	res, err := e.ProcessSession(context.Background(), ProcessRequest{
		UserID:    "user_a",
		SessionID: "s1",
		Logs:      batch([]float64{1, 0, 0, 0}),
	})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionLearn, res.Decision)
	assert.Equal(t, 0.0, res.Similarity)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.Equal(t, []string{"First session - no baseline for comparison"}, res.RiskFactors)
	assert.NotEmpty(t, res.VectorID)
	require.NotNil(t, res.VectorStats)

	stats, err := e.UserStats(context.Background(), "user_a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)
	assert.InDelta(t, 1.0, stats.CumulativeNorm, 1e-6)
	assert.Equal(t, models.PhaseLearning, stats.Phase)
}

func TestProcessSession_LearningBuildsConfidence(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())

	processN(t, e, "user_b", 1, []float64{1, 0, 0, 0})
	res := processN(t, e, "user_b", 1, []float64{1, 0, 0, 0})

	assert.Equal(t, models.DecisionLearn, res.Decision)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9) // 1 prior session / 5
	assert.Contains(t, res.RiskFactors, "Compared with 1 previous sessions")
	assert.NotEmpty(t, res.SimilarVectors)
}

func TestProcessSession_TransitionToGradual(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)

	processN(t, e, "user_c", 5, []float64{1, 0, 0, 0})

	stats, err := e.UserStats(context.Background(), "user_c")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.VectorCount)
	assert.Equal(t, models.PhaseGradual, stats.Phase)
	assert.InDelta(t, 1.0, stats.CumulativeNorm, 1e-6)

	phase, err := repo.GetUserPhase(context.Background(), identity.InternalID("user_c"))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGradual, phase)
}

func TestProcessSession_GradualAllow(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_d", 5, []float64{1, 0, 0, 0})

	res := processN(t, e, "user_d", 1, []float64{0.98, 0.2, 0, 0})
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.Greater(t, res.Similarity, 0.6)
	assert.Equal(t, []string{"Vector matches user profile"}, res.RiskFactors)
}

func TestProcessSession_GradualChallengeBand(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_e", 5, []float64{1, 0, 0, 0})

	// cos ≈ 0.5: below 0.6 but above 0.42.
	res := processN(t, e, "user_e", 1, []float64{1, 1.71, 0, 0})
	assert.Equal(t, models.DecisionChallenge, res.Decision)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
}

func TestProcessSession_GradualBlockLeavesProfileUnchanged(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_f", 5, []float64{1, 0, 0, 0})

	before, err := e.UserStats(context.Background(), "user_f")
	require.NoError(t, err)

	res := processN(t, e, "user_f", 1, []float64{0, 1, 0, 0})
	assert.Equal(t, models.DecisionBlock, res.Decision)
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
	assert.Less(t, res.Similarity, 0.42)

	after, err := e.UserStats(context.Background(), "user_f")
	require.NoError(t, err)
	assert.Equal(t, before.VectorCount, after.VectorCount)
	assert.Equal(t, before.CumulativeNorm, after.CumulativeNorm)
}

func TestProcessSession_PromotionToFullAuth(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)
	ctx := context.Background()

	processN(t, e, "user_g", 10, []float64{1, 0, 0, 0})

	stats, err := e.UserStats(ctx, "user_g")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFullAuth, stats.Phase)
	assert.True(t, stats.HasBaseline)
	assert.Equal(t, 1, repo.VectorCount(models.KindBaseline))

	// The 11th matching session is allowed with full-auth confidence.
	res := processN(t, e, "user_g", 1, []float64{1, 0, 0, 0})
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
}

func TestProcessSession_FullAuthBlocksImpostor(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_h", 10, []float64{1, 0, 0, 0})

	res := processN(t, e, "user_h", 1, []float64{0, 0, 1, 0})
	assert.Equal(t, models.DecisionBlock, res.Decision)
	assert.Equal(t, models.RiskHigh, res.RiskLevel)
}

// blockedPutRepo fails every vector write with a transient error.
type blockedPutRepo struct {
	*storage.MemoryRepository
}

func (r *blockedPutRepo) PutVector(context.Context, *models.VectorRecord) (string, error) {
	return "", errors.New("connection refused")
}

func TestProcessSession_PersistenceFailureKeepsInMemoryTruth(t *testing.T) {
	repo := &blockedPutRepo{storage.NewMemory()}
	e := newTestEngine(t, repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := e.ProcessSession(ctx, ProcessRequest{
			UserID:    "user_i",
			SessionID: fmt.Sprintf("s%d", i),
			Logs:      batch([]float64{1, 0, 0, 0}),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DecisionLearn, res.Decision)
		assert.True(t, strings.HasPrefix(res.VectorID, "local_"), "got vector id %q", res.VectorID)
	}

	stats, err := e.UserStats(ctx, "user_i")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)
}

func TestProcessSession_ForeignKeyRecovery(t *testing.T) {
	repo := storage.NewMemory()
	repo.Strict = true
	e := newTestEngine(t, repo)

	res, err := e.ProcessSession(context.Background(), ProcessRequest{
		UserID:    "user_j",
		SessionID: "s1",
		Logs:      batch([]float64{1, 0, 0, 0}),
	})
	require.NoError(t, err)
	// EnsureUser + retry must make the write durable, not local.
	assert.False(t, strings.HasPrefix(res.VectorID, "local_"))
	assert.Equal(t, 1, repo.VectorCount(models.KindSession))
}

func TestProcessSession_EmptyBatch(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)

	res, err := e.ProcessSession(context.Background(), ProcessRequest{
		UserID:    "user_k",
		SessionID: "s1",
		Logs:      nil,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionLearn, res.Decision)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Equal(t, []string{"No behavioral data provided"}, res.RiskFactors)

	// No profile mutation beyond the stored record.
	stats, err := e.UserStats(context.Background(), "user_k")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
}

func TestProcessSession_ZeroVector(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)

	res, err := e.ProcessSession(context.Background(), ProcessRequest{
		UserID:    "user_l",
		SessionID: "s1",
		Logs:      batch([]float64{0, 0, 0, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionLearn, res.Decision)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.Equal(t, []string{"Invalid behavioral vector generated"}, res.RiskFactors)

	// The record is still stored for diagnostics but never indexed.
	assert.Equal(t, 1, repo.VectorCount(models.KindSession))
	assert.Equal(t, 0, e.Stats().SessionVectors)
}

func TestProcessSession_PhaseOverride(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_m", 4, []float64{1, 0, 0, 0})

	// Profile is still learning, but the caller forces gradual policy.
	res, err := e.ProcessSession(context.Background(), ProcessRequest{
		UserID:        "user_m",
		SessionID:     "override",
		Logs:          batch([]float64{1, 0, 0, 0}),
		PhaseOverride: models.PhaseGradual,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)

	// The override does not change the stored phase trajectory.
	stats, err := e.UserStats(context.Background(), "user_m")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGradual, stats.Phase) // reached count 5 organically
}

func TestProcessSession_Validation(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	ctx := context.Background()

	_, err := e.ProcessSession(ctx, ProcessRequest{SessionID: "s1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.ProcessSession(ctx, ProcessRequest{UserID: "u"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.ProcessSession(ctx, ProcessRequest{UserID: "u", SessionID: "s", PhaseOverride: "warp"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestEndSession_FoldsStoredVector(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)
	ctx := context.Background()

	processN(t, e, "user_n", 1, []float64{1, 0, 0, 0})

	require.NoError(t, e.EndSession(ctx, "user_n", "user_n-sess-0"))

	stats, err := e.UserStats(ctx, "user_n")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)
}

func TestEndSession_UnknownSessionIsNoOp(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	ctx := context.Background()

	require.NoError(t, e.EndSession(ctx, "user_o", "never-seen"))

	stats, err := e.UserStats(ctx, "user_o")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VectorCount)
}

func TestPersistedVectorsAreNormalizedOrZero(t *testing.T) {
	repo := storage.NewMemory()
	e := newTestEngine(t, repo)

	processN(t, e, "user_p", 10, []float64{3, 4, 0, 0})
	processN(t, e, "user_p", 1, []float64{0, 0, 0, 0})

	for _, kind := range models.Kinds() {
		recs, err := repo.ListByKind(context.Background(), kind)
		require.NoError(t, err)
		for _, rec := range recs {
			norm := vector.Norm(rec.VectorData)
			if norm != 0 {
				assert.InDelta(t, 1.0, norm, 1e-6,
					"record %s of kind %s has norm %v", rec.ID, kind, norm)
			}
		}
	}
}

func TestPhaseSequenceIsMonotonic(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	ctx := context.Background()

	lastRank := models.PhaseLearning.Rank()
	for i := 0; i < 15; i++ {
		processN(t, e, "user_q", 1, []float64{1, 0, 0, 0})
		stats, err := e.UserStats(ctx, "user_q")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.Phase.Rank(), lastRank)
		lastRank = stats.Phase.Rank()
	}
	assert.Equal(t, models.PhaseFullAuth.Rank(), lastRank)
}

func TestConcurrentSessionsSameUserCountExactly(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ProcessSession(ctx, ProcessRequest{
				UserID:    "user_r",
				SessionID: fmt.Sprintf("s%d", i),
				Logs:      batch([]float64{1, 0, 0, 0}),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := e.UserStats(ctx, "user_r")
	require.NoError(t, err)
	assert.Equal(t, n, stats.VectorCount)
}

func TestEngineStats(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory())
	processN(t, e, "user_s", 2, []float64{1, 0, 0, 0})

	stats := e.Stats()
	assert.Equal(t, 2, stats.SessionVectors)
	assert.Equal(t, 2, stats.CumulativeVectors)
	assert.Equal(t, 0, stats.BaselineVectors)
	assert.Equal(t, 1, stats.CachedProfiles)
	assert.Equal(t, 4, stats.Dimension)
	assert.Equal(t, 0.6, stats.Thresholds["gradual_risk"])
}

func TestWarmStart(t *testing.T) {
	repo := storage.NewMemory()

	e1 := newTestEngine(t, repo)
	processN(t, e1, "user_t", 10, []float64{1, 0, 0, 0})

	e2 := newTestEngine(t, repo)
	require.NoError(t, e2.WarmStart(context.Background()))

	stats := e2.Stats()
	assert.Equal(t, 10, stats.SessionVectors)
	assert.Equal(t, 10, stats.CumulativeVectors)
	assert.Equal(t, 1, stats.BaselineVectors)
}

func TestNew_DimensionMismatch(t *testing.T) {
	cfg := testConfig()
	_, err := New(cfg, &testExtractor{dim: 7}, storage.NewMemory())
	require.ErrorIs(t, err, ErrDimensionMismatch)
}
