// Package detectors implements the parallel fraud detectors. Each detector
// is a method on Engine with a shared signature: it collects weighted
// signals from the event and feature snapshot and aggregates them into a
// single score plus typed reasons.
package detectors

import (
	"context"
	"math"
	"strings"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/models"
)

// Detector names, used as reason sources and for criminal weighting.
const (
	NameCardTesting    = "card_testing"
	NameVelocityAttack = "velocity_attack"
	NameGeoAnomaly     = "geo_anomaly"
	NameBotAutomation  = "bot_automation"
	NameFriendlyFraud  = "friendly_fraud"
)

// Result is the output of one detector run.
type Result struct {
	Score     float64
	Triggered bool
	Reasons   []models.DecisionReason
}

// DetectFunc is the shared detector signature.
type DetectFunc func(ctx context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Result

// Named pairs a detector with its name for dispatch and reporting.
type Named struct {
	Name   string
	Detect DetectFunc
}

// Engine holds the configured thresholds shared by all detectors.
type Engine struct {
	cfg      configs.DetectionConfig
	highRisk map[string]bool
}

// NewEngine builds a detector engine from configuration.
func NewEngine(cfg configs.DetectionConfig) *Engine {
	highRisk := make(map[string]bool, len(cfg.HighRiskCountries))
	for _, c := range cfg.HighRiskCountries {
		highRisk[strings.ToUpper(c)] = true
	}
	return &Engine{cfg: cfg, highRisk: highRisk}
}

// All returns the fixed detector set in evaluation order.
func (e *Engine) All() []Named {
	return []Named{
		{NameCardTesting, e.CardTesting},
		{NameVelocityAttack, e.VelocityAttack},
		{NameGeoAnomaly, e.GeoAnomaly},
		{NameBotAutomation, e.BotAutomation},
		{NameFriendlyFraud, e.FriendlyFraud},
	}
}

// collector accumulates signals for one detector run.
type collector struct {
	source  string
	max     float64
	n       int
	reasons []models.DecisionReason
}

func newCollector(source string) *collector {
	return &collector{source: source}
}

// add records one signal. value is the signal strength in [0,1]; observed
// and threshold feed the auditable reason.
func (c *collector) add(value float64, code, description string, severity models.ReasonSeverity, observed, threshold float64) {
	c.n++
	if value > c.max {
		c.max = value
	}
	c.reasons = append(c.reasons, models.DecisionReason{
		Code:        code,
		Description: description,
		Severity:    severity,
		TriggeredBy: c.source,
		Value:       observed,
		Threshold:   threshold,
	})
}

// result aggregates the collected signals: the strongest signal boosted by
// k per additional signal, capped at 1.
func (c *collector) result(boost, triggerAt float64) Result {
	if c.n == 0 {
		return Result{}
	}
	score := math.Min(1, c.max+boost*float64(c.n-1))
	return Result{
		Score:     round4(score),
		Triggered: score >= triggerAt,
		Reasons:   c.reasons,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
