package ml_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/ml"
	"github.com/telcoguard/fraud-decision/internal/models"
)

func writeArtifact(t *testing.T, dir string, weights []float64, bias float64) string {
	t.Helper()
	path := filepath.Join(dir, "model.json")
	data, err := json.Marshal(map[string]interface{}{
		"model_type": "logistic",
		"weights":    weights,
		"bias":       bias,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newRegistry(t *testing.T, championPath string) *ml.Registry {
	t.Helper()
	reg, err := ml.NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	if championPath != "" {
		require.NoError(t, reg.Set(ml.VariantChampion, &ml.ModelEntry{
			Name:      "fraud-lr",
			Version:   "v3",
			Path:      championPath,
			Framework: "linear",
			TrainedAt: time.Now(),
		}))
	}
	return reg
}

func TestRoute_Deterministic(t *testing.T) {
	s := ml.NewScorer(newRegistry(t, ""), configs.MLConfig{ChallengerPercent: 15, HoldoutPercent: 5})

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("card-%d", i)
		first := s.Route(key)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, s.Route(key), "routing must be stable per key")
		}
	}
}

func TestRoute_SplitCoversAllVariants(t *testing.T) {
	s := ml.NewScorer(newRegistry(t, ""), configs.MLConfig{ChallengerPercent: 15, HoldoutPercent: 5})

	seen := map[string]int{}
	for i := 0; i < 2000; i++ {
		seen[s.Route(fmt.Sprintf("key-%d", i))]++
	}
	assert.Greater(t, seen[ml.VariantChampion], seen[ml.VariantChallenger])
	assert.Greater(t, seen[ml.VariantChallenger], seen[ml.VariantHoldout])
	assert.Greater(t, seen[ml.VariantHoldout], 0)
}

func TestScore_FullHoldoutReturnsNullScore(t *testing.T) {
	path := writeArtifact(t, t.TempDir(), make([]float64, len(ml.FeatureColumns)), 0)
	s := ml.NewScorer(newRegistry(t, path), configs.MLConfig{HoldoutPercent: 100})

	for i := 0; i < 10; i++ {
		res := s.Score(context.Background(), &models.FeatureSet{}, fmt.Sprintf("key-%d", i))
		assert.Equal(t, ml.VariantHoldout, res.ModelVariant)
		assert.Nil(t, res.Score)
	}
}

func TestScore_ChampionProducesClampedScore(t *testing.T) {
	weights := make([]float64, len(ml.FeatureColumns))
	weights[0] = 10 // card_attempts_10m dominates
	path := writeArtifact(t, t.TempDir(), weights, -5)
	s := ml.NewScorer(newRegistry(t, path), configs.MLConfig{})

	quiet := s.Score(context.Background(), &models.FeatureSet{}, "key")
	require.NotNil(t, quiet.Score)
	assert.Less(t, *quiet.Score, 0.05)
	assert.Equal(t, ml.VariantChampion, quiet.ModelVariant)
	assert.Equal(t, "v3", quiet.ModelVersion)

	hot := s.Score(context.Background(), &models.FeatureSet{CardAttempts10m: 8}, "key")
	require.NotNil(t, hot.Score)
	assert.Greater(t, *hot.Score, 0.99)
	assert.LessOrEqual(t, *hot.Score, 1.0)
}

func TestScore_MissingArtifactDegradesToNull(t *testing.T) {
	s := ml.NewScorer(newRegistry(t, "/nonexistent/model.json"), configs.MLConfig{})

	res := s.Score(context.Background(), &models.FeatureSet{}, "key")
	assert.Nil(t, res.Score)
	assert.Equal(t, ml.VariantChampion, res.ModelVariant)
	assert.Equal(t, "v3", res.ModelVersion)
}

func TestScore_EmptySlotDegradesToNull(t *testing.T) {
	s := ml.NewScorer(newRegistry(t, ""), configs.MLConfig{})

	res := s.Score(context.Background(), &models.FeatureSet{}, "key")
	assert.Nil(t, res.Score)
	assert.Empty(t, res.ModelVersion)
}

func TestScorer_ClampsPercentages(t *testing.T) {
	s := ml.NewScorer(newRegistry(t, ""), configs.MLConfig{ChallengerPercent: 90, HoldoutPercent: 40})

	// Holdout keeps its share; challenger absorbs the overflow.
	seen := map[string]int{}
	for i := 0; i < 2000; i++ {
		seen[s.Route(fmt.Sprintf("key-%d", i))]++
	}
	assert.Zero(t, seen[ml.VariantChampion])
}

func TestScore_OutcomesAreCounted(t *testing.T) {
	holdoutBefore := testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantHoldout, "holdout"))
	scoredBefore := testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantChampion, "scored"))
	degradedBefore := testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantChampion, "degraded"))

	path := writeArtifact(t, t.TempDir(), make([]float64, len(ml.FeatureColumns)), 0)

	ml.NewScorer(newRegistry(t, path), configs.MLConfig{HoldoutPercent: 100}).
		Score(context.Background(), &models.FeatureSet{}, "key")
	ml.NewScorer(newRegistry(t, path), configs.MLConfig{}).
		Score(context.Background(), &models.FeatureSet{}, "key")
	ml.NewScorer(newRegistry(t, "/nonexistent/model.json"), configs.MLConfig{}).
		Score(context.Background(), &models.FeatureSet{}, "key")

	assert.Equal(t, holdoutBefore+1,
		testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantHoldout, "holdout")))
	assert.Equal(t, scoredBefore+1,
		testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantChampion, "scored")))
	assert.Equal(t, degradedBefore+1,
		testutil.ToFloat64(metrics.MLScores.WithLabelValues(ml.VariantChampion, "degraded")))
}

func TestVector_RoundTripThroughSnapshot(t *testing.T) {
	fs := &models.FeatureSet{
		CardAttempts10m:     7,
		CardDeclines10m:     5,
		UserTransactions24h: 3,
		UserAmount24hCents:  123456,
		DeviceIsEmulator:    true,
		CardUserMatch:       true,
		AmountUSD:           49.99,
		AmountZScore:        2.5,
		HourOfDay:           23,
		IsWeekend:           true,
		AVSMatch:            true,
	}

	live := ml.VectorFromFeatures(fs)
	require.Len(t, live, len(ml.FeatureColumns))

	snapshot, err := json.Marshal(fs)
	require.NoError(t, err)
	offline, err := ml.VectorFromSnapshot(snapshot)
	require.NoError(t, err)

	assert.Equal(t, live, offline, "live and offline extraction must agree")
}

func TestRegistry_PromoteMovesChallenger(t *testing.T) {
	reg, err := ml.NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)

	require.Error(t, reg.Promote(), "nothing to promote yet")

	require.NoError(t, reg.Set(ml.VariantChallenger, &ml.ModelEntry{Name: "fraud-lr", Version: "v4", Path: "m.json"}))
	require.NoError(t, reg.Promote())

	champion := reg.Get(ml.VariantChampion)
	require.NotNil(t, champion)
	assert.Equal(t, "v4", champion.Version)
	assert.Nil(t, reg.Get(ml.VariantChallenger))
}
