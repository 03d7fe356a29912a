// Package pipeline orchestrates the decision flow: validation,
// idempotency, features, scoring, policy, and the post-decision side
// effects, all under the end-to-end latency budget.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/policy"
	"github.com/telcoguard/fraud-decision/internal/scoring"
)

// frictionMessages is the fixed customer-facing message table.
var frictionMessages = map[models.FrictionType]string{
	models.Friction3DS:     "Additional card authentication is required to complete this payment.",
	models.FrictionOTP:     "A one-time passcode has been sent to the subscriber's phone.",
	models.FrictionStepUp:  "Additional identity verification is required before this payment can proceed.",
	models.FrictionCaptcha: "Please complete the verification challenge to continue.",
}

// FeatureStore computes feature snapshots and applies profile updates.
type FeatureStore interface {
	ComputeFeatures(ctx context.Context, event *models.PaymentEvent) *models.FeatureSet
	UpdateEntityProfiles(ctx context.Context, event *models.PaymentEvent, isDecline bool)
}

// Scorer produces risk scores from an event and its features.
type Scorer interface {
	Score(ctx context.Context, event *models.PaymentEvent, fs *models.FeatureSet) scoring.Output
}

// PolicyEvaluator resolves scores into a decision.
type PolicyEvaluator interface {
	Evaluate(event *models.PaymentEvent, fs *models.FeatureSet, scores models.RiskScores) (policy.Evaluation, error)
}

// EvidenceSink captures evidence and serves the idempotency cache.
type EvidenceSink interface {
	CaptureEvidence(ctx context.Context, event *models.PaymentEvent, fs *models.FeatureSet, scores models.RiskScores, resp *models.DecisionResponse, policyVersionID uuid.UUID) *uuid.UUID
	GetIdempotencyResponse(ctx context.Context, key string) (*models.DecisionResponse, bool)
	StoreIdempotencyResponse(ctx context.Context, key string, resp *models.DecisionResponse)
}

// Publisher emits decision events for downstream consumers. May be nil.
type Publisher interface {
	PublishDecision(event *models.PaymentEvent, resp *models.DecisionResponse)
}

// Pipeline is the per-request decision orchestrator.
type Pipeline struct {
	features  FeatureStore
	scorer    Scorer
	policy    PolicyEvaluator
	evidence  EvidenceSink
	publisher Publisher

	e2eBudget     time.Duration
	featureBudget time.Duration
	scoringBudget time.Duration
	policyBudget  time.Duration

	safeMode         bool
	safeModeDecision models.Decision
}

// New wires the pipeline. publisher may be nil when the event bus is
// disabled.
func New(
	features FeatureStore,
	scorer Scorer,
	policyEval PolicyEvaluator,
	evidence EvidenceSink,
	publisher Publisher,
	latency configs.LatencyConfig,
	safeMode configs.SafeModeConfig,
) *Pipeline {
	safeDecision := models.Decision(safeMode.Decision)
	if safeDecision == "" {
		safeDecision = models.DecisionAllow
	}
	return &Pipeline{
		features:         features,
		scorer:           scorer,
		policy:           policyEval,
		evidence:         evidence,
		publisher:        publisher,
		e2eBudget:        time.Duration(latency.TargetE2EMs) * time.Millisecond,
		featureBudget:    time.Duration(latency.TargetFeatureMs) * time.Millisecond,
		scoringBudget:    time.Duration(latency.TargetScoringMs) * time.Millisecond,
		policyBudget:     time.Duration(latency.TargetPolicyMs) * time.Millisecond,
		safeMode:         safeMode.Enabled,
		safeModeDecision: safeDecision,
	}
}

// Decide runs one event through the full pipeline. Validation errors and
// policy failures are returned; everything else degrades.
func (p *Pipeline) Decide(ctx context.Context, event *models.PaymentEvent) (*models.DecisionResponse, error) {
	start := time.Now()

	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if p.safeMode {
		resp := &models.DecisionResponse{
			TransactionID:  event.TransactionID,
			IdempotencyKey: event.IdempotencyKey,
			Decision:       p.safeModeDecision,
			Reasons: []models.DecisionReason{{
				Code:        "SAFE_MODE",
				Description: "safe mode is enabled, fixed decision returned",
				Severity:    models.SeverityLow,
				TriggeredBy: "pipeline",
			}},
			ProcessingMs: elapsedMs(start),
		}
		metrics.DecisionsTotal.WithLabelValues(string(resp.Decision)).Inc()
		return resp, nil
	}

	// Hard deadline; still-outstanding feature lookups degrade to zeros
	// when it fires.
	ctx, cancel := context.WithTimeout(ctx, p.e2eBudget)
	defer cancel()

	if cached, ok := p.evidence.GetIdempotencyResponse(ctx, event.IdempotencyKey); ok {
		cached.IsCached = true
		cached.ProcessingMs = elapsedMs(start)
		metrics.CacheHits.Inc()
		return cached, nil
	}

	featureStart := time.Now()
	fs := p.features.ComputeFeatures(ctx, event)
	featureMs := elapsedMs(featureStart)
	metrics.StageLatency.WithLabelValues("features").Observe(featureMs / 1000)
	if featureMs > float64(p.featureBudget.Milliseconds()) {
		log.Debug().Float64("feature_ms", featureMs).Str("transaction_id", event.TransactionID).Msg("feature budget exceeded")
	}

	scoringStart := time.Now()
	scored := p.scorer.Score(ctx, event, fs)
	scoringMs := elapsedMs(scoringStart)
	metrics.StageLatency.WithLabelValues("scoring").Observe(scoringMs / 1000)

	policyStart := time.Now()
	eval, err := p.policy.Evaluate(event, fs, scored.Scores)
	policyMs := elapsedMs(policyStart)
	metrics.StageLatency.WithLabelValues("policy").Observe(policyMs / 1000)
	if err != nil {
		// A missing policy leaves the decision undefined. Fatal.
		return nil, err
	}

	resp := p.buildResponse(event, scored, eval, featureMs, scoringMs, policyMs)
	resp.ProcessingMs = elapsedMs(start)

	if resp.ProcessingMs > float64(p.e2eBudget.Milliseconds()) {
		metrics.SlowRequests.Inc()
		log.Warn().
			Float64("processing_ms", resp.ProcessingMs).
			Str("transaction_id", event.TransactionID).
			Msg("decision exceeded latency target")
	}
	metrics.DecisionsTotal.WithLabelValues(string(resp.Decision)).Inc()
	metrics.DecisionLatency.Observe(resp.ProcessingMs / 1000)

	p.runSideEffects(ctx, event, fs, scored.Scores, resp, eval.VersionID)
	return resp, nil
}

func (p *Pipeline) buildResponse(event *models.PaymentEvent, scored scoring.Output, eval policy.Evaluation, featureMs, scoringMs, policyMs float64) *models.DecisionResponse {
	reasons := append(eval.Reasons, scored.Reasons...)

	resp := &models.DecisionResponse{
		TransactionID:  event.TransactionID,
		IdempotencyKey: event.IdempotencyKey,
		Decision:       eval.Decision,
		Reasons:        reasons,
		Scores:         scored.Scores,
		FeatureMs:      featureMs,
		ScoringMs:      scoringMs,
		PolicyMs:       policyMs,
		PolicyVersion:  eval.Version,
	}

	switch eval.Decision {
	case models.DecisionFriction:
		resp.FrictionType = eval.FrictionType
		if resp.FrictionType == "" {
			resp.FrictionType = models.Friction3DS
		}
		resp.FrictionMessage = frictionMessages[resp.FrictionType]
	case models.DecisionReview:
		resp.ReviewPriority = eval.ReviewPriority
		if resp.ReviewPriority == "" {
			resp.ReviewPriority = models.ReviewMedium
		}
		resp.ReviewNotes = reviewNotes(reasons)
	}
	return resp
}

// reviewNotes joins the descriptions of the highest-severity reasons for
// the analyst queue.
func reviewNotes(reasons []models.DecisionReason) string {
	if len(reasons) == 0 {
		return ""
	}
	top := 0
	for _, r := range reasons {
		if r.Severity.Rank() > top {
			top = r.Severity.Rank()
		}
	}
	var notes []string
	for _, r := range reasons {
		if r.Severity.Rank() == top {
			notes = append(notes, r.Description)
		}
	}
	return strings.Join(notes, "; ")
}

// runSideEffects applies profile updates, evidence capture, the
// idempotency write, and event publication. They run detached from the
// request context: the response must never wait on them, and a request
// cancellation after the decision must not abort them.
func (p *Pipeline) runSideEffects(ctx context.Context, event *models.PaymentEvent, fs *models.FeatureSet, scores models.RiskScores, resp *models.DecisionResponse, policyVersionID uuid.UUID) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("side effect panicked")
			}
		}()

		isDecline := resp.Decision == models.DecisionBlock
		p.features.UpdateEntityProfiles(detached, event, isDecline)
		p.evidence.CaptureEvidence(detached, event, fs, scores, resp, policyVersionID)
		p.evidence.StoreIdempotencyResponse(detached, event.IdempotencyKey, resp)
		if p.publisher != nil {
			p.publisher.PublishDecision(event, resp)
		}
		if detached.Err() != nil {
			metrics.SideEffectCancellations.Inc()
		}
	}()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
