// Package scoring fans out the detectors, blends in the ML score, and
// produces the RiskScores consumed by the policy engine.
package scoring

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/detectors"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/ml"
	"github.com/telcoguard/fraud-decision/internal/models"
)

// criminalWeights scale each detector's contribution to the rule-based
// criminal score. Friendly fraud feeds the friendly score directly.
var criminalWeights = map[string]float64{
	detectors.NameCardTesting:    1.0,
	detectors.NameVelocityAttack: 0.9,
	detectors.NameGeoAnomaly:     0.7,
	detectors.NameBotAutomation:  1.0,
}

// Output is the full scoring result handed to the policy engine.
type Output struct {
	Scores  models.RiskScores
	Reasons []models.DecisionReason
}

// MLScorer is the variant-routing model scorer.
type MLScorer interface {
	Score(ctx context.Context, fs *models.FeatureSet, routingKey string) ml.ScoreResult
}

// RiskScorer runs the detector set and blends the results.
type RiskScorer struct {
	engine    *detectors.Engine
	mlScorer  MLScorer
	mlEnabled bool
	mlWeight  float64
}

// NewRiskScorer builds a scorer. mlScorer may be nil when ML is disabled.
func NewRiskScorer(engine *detectors.Engine, mlScorer MLScorer, cfg configs.MLConfig) *RiskScorer {
	return &RiskScorer{
		engine:    engine,
		mlScorer:  mlScorer,
		mlEnabled: cfg.Enabled && mlScorer != nil,
		mlWeight:  cfg.MLWeight,
	}
}

// Score runs all detectors concurrently, blends in the routed ML score,
// applies the near-binary overrides, and attaches confidence.
func (s *RiskScorer) Score(ctx context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Output {
	all := s.engine.All()
	results := make([]detectors.Result, len(all))

	var wg sync.WaitGroup
	for i, d := range all {
		wg.Add(1)
		go func(i int, d detectors.Named) {
			defer wg.Done()
			results[i] = d.Detect(ctx, event, fs)
		}(i, d)
	}

	var mlResult ml.ScoreResult
	if s.mlEnabled {
		mlResult = s.mlScorer.Score(ctx, fs, event.Card.Token)
	}
	wg.Wait()

	scores := models.RiskScores{}
	var reasons []models.DecisionReason
	ruleCriminal := 0.0

	for i, d := range all {
		r := results[i]
		reasons = append(reasons, r.Reasons...)
		if r.Triggered {
			metrics.DetectorTriggers.WithLabelValues(d.Name).Inc()
		}
		switch d.Name {
		case detectors.NameCardTesting:
			scores.CardTestingScore = r.Score
		case detectors.NameVelocityAttack:
			scores.VelocityScore = r.Score
		case detectors.NameGeoAnomaly:
			scores.GeoScore = r.Score
		case detectors.NameBotAutomation:
			scores.BotScore = r.Score
		case detectors.NameFriendlyFraud:
			scores.FriendlyScore = r.Score
		}
		if w, ok := criminalWeights[d.Name]; ok {
			ruleCriminal = math.Max(ruleCriminal, w*r.Score)
		}
	}
	ruleCriminal = math.Min(1, ruleCriminal)

	criminal := ruleCriminal
	if s.mlEnabled {
		scores.ModelVariant = mlResult.ModelVariant
		scores.ModelVersion = mlResult.ModelVersion
		if mlResult.Score != nil {
			scores.MLScore = mlResult.Score
			criminal = s.mlWeight*(*mlResult.Score) + (1-s.mlWeight)*ruleCriminal
		}
	}

	// Near-binary indicators bypass ML softening.
	if fs.DeviceIsEmulator || fs.IPIsTor {
		criminal = math.Max(criminal, 0.95)
	}

	friendly := scores.FriendlyScore
	confidence := Confidence(event, fs)

	risk := math.Max(criminal, friendly)
	if confidence < 0.5 {
		risk = 0.3 + (risk-0.3)*confidence*2
	}

	scores.Criminal = round4(criminal)
	scores.FriendlyFraud = round4(friendly)
	scores.Confidence = round4(confidence)
	scores.Risk = round4(risk)

	sortReasons(reasons)
	return Output{Scores: scores, Reasons: reasons}
}

// Confidence is the mean of four factors: card history, user history,
// device history, and data completeness.
func Confidence(event *models.PaymentEvent, fs *models.FeatureSet) float64 {
	cardFactor := 0.3
	if fs.CardTxnCount > 0 {
		cardFactor = math.Min(1, float64(fs.CardTxnCount)/10)
	}

	userFactor := 0.3
	if fs.UserTxnCount > 0 && !event.Subscriber.IsGuest {
		userFactor = math.Min(1, float64(fs.UserTxnCount)/20)
	}

	deviceFactor := 0.4
	if fs.DeviceTxnCount > 0 {
		deviceFactor = math.Min(1, float64(fs.DeviceTxnCount)/5)
	}

	completeness := 0.0
	if fs.HasDevice {
		completeness += 0.3
	}
	if fs.HasGeo {
		completeness += 0.3
	}
	if fs.HasVerification {
		completeness += 0.4
	}

	return (cardFactor + userFactor + deviceFactor + completeness) / 4
}

// sortReasons orders reasons worst-first so truncated displays keep the
// most important ones.
func sortReasons(reasons []models.DecisionReason) {
	sort.SliceStable(reasons, func(i, j int) bool {
		return reasons[i].Severity.Rank() > reasons[j].Severity.Rank()
	})
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
