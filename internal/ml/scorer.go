package ml

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/models"
)

// ScoreResult is one scoring outcome. Score is nil on the holdout variant
// and whenever the model cannot produce a value; decisions then fall back
// to rules alone.
type ScoreResult struct {
	Score        *float64
	ModelVersion string
	ModelVariant string
	LatencyMs    float64
}

// linearModel is a logistic artifact: sigmoid(bias + w·x).
type linearModel struct {
	ModelType string    `json:"model_type"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
}

func (m *linearModel) predict(vector []float64) (float64, error) {
	if len(m.Weights) != len(vector) {
		return 0, fmt.Errorf("model expects %d features, got %d", len(m.Weights), len(vector))
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * vector[i]
	}
	score := 1 / (1 + math.Exp(-z))
	return math.Max(0, math.Min(1, score)), nil
}

// Scorer routes requests across champion/challenger/holdout and scores
// with the routed model.
type Scorer struct {
	registry          *Registry
	holdoutPercent    uint32
	challengerPercent uint32

	mu    sync.RWMutex
	cache map[string]*linearModel
}

// NewScorer builds a scorer. Percentages are clamped to [0,100] and, when
// their sum exceeds 100, the challenger share is reduced first.
func NewScorer(registry *Registry, cfg configs.MLConfig) *Scorer {
	holdout := clampPercent(cfg.HoldoutPercent)
	challenger := clampPercent(cfg.ChallengerPercent)
	if holdout+challenger > 100 {
		challenger = 100 - holdout
	}
	return &Scorer{
		registry:          registry,
		holdoutPercent:    holdout,
		challengerPercent: challenger,
		cache:             make(map[string]*linearModel),
	}
}

func clampPercent(p int) uint32 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return uint32(p)
}

// Route deterministically maps a routing key to a variant using the first
// 32 bits of its SHA-256 digest.
func (s *Scorer) Route(routingKey string) string {
	sum := sha256.Sum256([]byte(routingKey))
	bucket := binary.BigEndian.Uint32(sum[:4]) % 100
	switch {
	case bucket < s.holdoutPercent:
		return VariantHoldout
	case bucket < s.holdoutPercent+s.challengerPercent:
		return VariantChallenger
	default:
		return VariantChampion
	}
}

// Score routes the request and applies the routed model to the feature
// snapshot. Any load or predict failure degrades to a null score with the
// variant still reported.
func (s *Scorer) Score(_ context.Context, fs *models.FeatureSet, routingKey string) ScoreResult {
	start := time.Now()
	variant := s.Route(routingKey)
	result := ScoreResult{ModelVariant: variant}

	defer func() {
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	if variant == VariantHoldout {
		metrics.MLScores.WithLabelValues(variant, "holdout").Inc()
		return result
	}

	entry := s.registry.Get(variant)
	if entry == nil {
		metrics.MLScores.WithLabelValues(variant, "degraded").Inc()
		return result
	}
	result.ModelVersion = entry.Version

	model, err := s.load(entry)
	if err != nil {
		log.Warn().Err(err).Str("model", entry.Name).Str("variant", variant).Msg("model load failed, scoring without ML")
		metrics.MLScores.WithLabelValues(variant, "degraded").Inc()
		return result
	}

	score, err := model.predict(VectorFromFeatures(fs))
	if err != nil {
		log.Warn().Err(err).Str("model", entry.Name).Msg("model predict failed, scoring without ML")
		metrics.MLScores.WithLabelValues(variant, "degraded").Inc()
		return result
	}
	result.Score = &score
	metrics.MLScores.WithLabelValues(variant, "scored").Inc()
	return result
}

func (s *Scorer) load(entry *ModelEntry) (*linearModel, error) {
	cacheKey := entry.Name + ":" + entry.Path

	s.mu.RLock()
	model, ok := s.cache[cacheKey]
	s.mu.RUnlock()
	if ok {
		return model, nil
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	model = &linearModel{}
	if err := json.Unmarshal(data, model); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if model.ModelType != "" && model.ModelType != "logistic" && model.ModelType != "linear" {
		return nil, fmt.Errorf("unsupported model type %q", model.ModelType)
	}

	s.mu.Lock()
	s.cache[cacheKey] = model
	s.mu.Unlock()
	return model, nil
}
