package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/detectors"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/ml"
	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/scoring"
)

type stubML struct {
	result ml.ScoreResult
}

func (s stubML) Score(context.Context, *models.FeatureSet, string) ml.ScoreResult {
	return s.result
}

func detectionCfg() configs.DetectionConfig {
	return configs.DetectionConfig{
		CardTestingAttempts10m: 5,
		DeclineRatio10m:        0.8,
		CardAttempts1h:         10,
		DeviceCards24h:         5,
		IPCards1h:              10,
		HighRiskCountries:      []string{"NK", "IR"},
	}
}

func newScorer(mlScorer scoring.MLScorer, mlEnabled bool) *scoring.RiskScorer {
	return scoring.NewRiskScorer(
		detectors.NewEngine(detectionCfg()),
		mlScorer,
		configs.MLConfig{Enabled: mlEnabled, MLWeight: 0.7},
	)
}

func richEvent() *models.PaymentEvent {
	e := &models.PaymentEvent{
		TransactionID:  "txn-1",
		IdempotencyKey: "idem-1",
		AmountCents:    4999,
		Currency:       "USD",
		Timestamp:      time.Now().UTC(),
		Card:           models.CardInfo{Token: "tok_abc", Country: "US"},
		Geo:            models.GeoInfo{IPAddress: "10.0.0.1", Country: "US"},
		Device: models.DeviceInfo{
			DeviceID: "dev-1", OS: "iOS", Browser: "Safari",
			ScreenRes: "390x844", Timezone: "America/New_York", Language: "en-US",
		},
		Verification: models.VerificationInfo{AVSResult: "Y", CVVResult: "M"},
	}
	e.Normalize()
	return e
}

// establishedFeatures has enough history to keep confidence above 0.5 so
// the low-confidence remap stays out of the way.
func establishedFeatures() *models.FeatureSet {
	return &models.FeatureSet{
		CardTxnCount:    20,
		UserTxnCount:    40,
		DeviceTxnCount:  10,
		HasDevice:       true,
		HasGeo:          true,
		HasVerification: true,
		AVSMatch:        true,
		CVVMatch:        true,
	}
}

func TestScore_CleanEventScoresLow(t *testing.T) {
	s := newScorer(nil, false)
	out := s.Score(context.Background(), richEvent(), establishedFeatures())

	assert.Less(t, out.Scores.Risk, 0.3)
	assert.Empty(t, out.Reasons)
	assert.Nil(t, out.Scores.MLScore)
}

func TestScore_RuleCriminalUsesWeightedMax(t *testing.T) {
	s := newScorer(nil, false)
	fs := establishedFeatures()
	fs.CardAttempts10m = 6 // card testing 0.8, weight 1.0

	out := s.Score(context.Background(), richEvent(), fs)
	assert.Equal(t, 0.8, out.Scores.CardTestingScore)
	assert.Equal(t, 0.8, out.Scores.Criminal)
	assert.Equal(t, 0.8, out.Scores.Risk)
}

func TestScore_GeoWeightSoftensCriminal(t *testing.T) {
	s := newScorer(nil, false)
	fs := establishedFeatures()
	event := richEvent()
	event.Geo.Country = "BR" // mismatch → geo score 0.6

	out := s.Score(context.Background(), event, fs)
	assert.Equal(t, 0.6, out.Scores.GeoScore)
	assert.InDelta(t, 0.42, out.Scores.Criminal, 0.0001, "geo carries weight 0.7")
}

func TestScore_MLBlending(t *testing.T) {
	mlScore := 0.9
	s := newScorer(stubML{ml.ScoreResult{
		Score:        &mlScore,
		ModelVersion: "v3",
		ModelVariant: ml.VariantChampion,
	}}, true)

	fs := establishedFeatures()
	fs.CardAttempts10m = 6 // rule criminal 0.8

	out := s.Score(context.Background(), richEvent(), fs)
	require.NotNil(t, out.Scores.MLScore)
	assert.InDelta(t, 0.7*0.9+0.3*0.8, out.Scores.Criminal, 0.0001)
	assert.Equal(t, "v3", out.Scores.ModelVersion)
	assert.Equal(t, ml.VariantChampion, out.Scores.ModelVariant)
}

func TestScore_HoldoutFallsBackToRules(t *testing.T) {
	s := newScorer(stubML{ml.ScoreResult{ModelVariant: ml.VariantHoldout}}, true)
	fs := establishedFeatures()
	fs.CardAttempts10m = 6

	out := s.Score(context.Background(), richEvent(), fs)
	assert.Nil(t, out.Scores.MLScore)
	assert.Equal(t, ml.VariantHoldout, out.Scores.ModelVariant)
	assert.Equal(t, 0.8, out.Scores.Criminal, "rules alone when ML abstains")
}

func TestScore_EmulatorOverrideBypassesMLSoftening(t *testing.T) {
	lowML := 0.1
	s := newScorer(stubML{ml.ScoreResult{
		Score:        &lowML,
		ModelVariant: ml.VariantChampion,
	}}, true)

	fs := establishedFeatures()
	fs.DeviceIsEmulator = true

	out := s.Score(context.Background(), richEvent(), fs)
	assert.GreaterOrEqual(t, out.Scores.Criminal, 0.95)
	assert.GreaterOrEqual(t, out.Scores.Risk, 0.95)
}

func TestScore_FriendlyFraudSetsRisk(t *testing.T) {
	s := newScorer(nil, false)
	fs := establishedFeatures()
	fs.UserChargebackCount90 = 3
	fs.UserTransactions24h = 2
	fs.UserRiskTier = models.TierHigh

	out := s.Score(context.Background(), richEvent(), fs)
	assert.Greater(t, out.Scores.FriendlyFraud, out.Scores.Criminal)
	assert.Equal(t, out.Scores.Risk, out.Scores.FriendlyFraud,
		"overall risk is the max of criminal and friendly")
}

func TestScore_LowConfidenceRemapsRisk(t *testing.T) {
	s := newScorer(nil, false)

	// Bare event: no device, no geo, no verification, no history.
	event := &models.PaymentEvent{
		TransactionID:  "txn-1",
		IdempotencyKey: "idem-1",
		AmountCents:    4999,
		Currency:       "USD",
		Timestamp:      time.Now().UTC(),
		Card:           models.CardInfo{Token: "tok_new"},
	}
	event.Normalize()

	fs := &models.FeatureSet{CardAttempts10m: 6}
	out := s.Score(context.Background(), event, fs)

	conf := out.Scores.Confidence
	require.Less(t, conf, 0.5)
	expected := 0.3 + (0.8-0.3)*conf*2
	assert.InDelta(t, expected, out.Scores.Risk, 0.0001)
	assert.Equal(t, 0.8, out.Scores.Criminal, "criminal itself is not remapped")
}

func TestConfidence_FourFactorMean(t *testing.T) {
	event := richEvent()
	fs := &models.FeatureSet{
		CardTxnCount:    5,  // 0.5
		UserTxnCount:    10, // 0.5
		DeviceTxnCount:  5,  // 1.0
		HasDevice:       true,
		HasGeo:          true,
		HasVerification: true, // completeness 1.0
	}
	assert.InDelta(t, (0.5+0.5+1.0+1.0)/4, scoring.Confidence(event, fs), 0.0001)
}

func TestConfidence_GuestGetsNewUserFactor(t *testing.T) {
	event := richEvent()
	event.Subscriber.IsGuest = true
	fs := establishedFeatures()

	base := scoring.Confidence(richEvent(), fs)
	guest := scoring.Confidence(event, fs)
	assert.Less(t, guest, base)
}

func TestScore_TriggeredDetectorsAreCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.DetectorTriggers.WithLabelValues(detectors.NameBotAutomation))

	s := newScorer(nil, false)
	fs := establishedFeatures()
	fs.DeviceIsEmulator = true
	s.Score(context.Background(), richEvent(), fs)

	after := testutil.ToFloat64(metrics.DetectorTriggers.WithLabelValues(detectors.NameBotAutomation))
	assert.Equal(t, before+1, after)
}

func TestScore_ReasonsSortedWorstFirst(t *testing.T) {
	s := newScorer(nil, false)
	fs := establishedFeatures()
	fs.DeviceIsEmulator = true // CRITICAL bot reason
	fs.IPIsVPN = true          // LOW reasons

	out := s.Score(context.Background(), richEvent(), fs)
	require.NotEmpty(t, out.Reasons)
	assert.Equal(t, models.SeverityCritical, out.Reasons[0].Severity)
	for i := 1; i < len(out.Reasons); i++ {
		assert.LessOrEqual(t, out.Reasons[i].Severity.Rank(), out.Reasons[i-1].Severity.Rank())
	}
}
