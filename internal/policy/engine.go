package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/telcoguard/fraud-decision/internal/models"
)

// ErrNoActivePolicy is fatal: without a policy the decision is undefined.
var ErrNoActivePolicy = errors.New("no active policy loaded")

// Snapshot is one immutable policy generation held in memory.
type Snapshot struct {
	Content   *Content
	Version   string
	VersionID uuid.UUID
	Hash      string
}

// Evaluation is the policy outcome for one request.
type Evaluation struct {
	Decision       models.Decision
	Reasons        []models.DecisionReason
	FrictionType   models.FrictionType
	ReviewPriority models.ReviewPriority
	Version        string
	VersionID      uuid.UUID
}

// Engine evaluates requests against the active snapshot. Reload swaps the
// snapshot pointer atomically; readers never see a half-updated policy.
type Engine struct {
	active atomic.Pointer[Snapshot]
}

// NewEngine creates an engine with no policy loaded yet.
func NewEngine() *Engine { return &Engine{} }

// SetActive swaps in a new policy snapshot.
func (e *Engine) SetActive(s *Snapshot) { e.active.Store(s) }

// Active returns the current snapshot, or nil before first load.
func (e *Engine) Active() *Snapshot { return e.active.Load() }

// Evaluate walks lists, rules, and thresholds in order; the first terminal
// action wins.
func (e *Engine) Evaluate(event *models.PaymentEvent, fs *models.FeatureSet, scores models.RiskScores) (Evaluation, error) {
	snap := e.active.Load()
	if snap == nil {
		return Evaluation{}, ErrNoActivePolicy
	}
	c := snap.Content
	eval := Evaluation{Version: snap.Version, VersionID: snap.VersionID}

	// 1. Allowlists.
	for _, hit := range []struct {
		list, value, what string
	}{
		{AllowlistCards, event.Card.Token, "card"},
		{AllowlistUsers, event.Subscriber.UserID, "user"},
		{AllowlistServices, event.Service.ID, "service"},
	} {
		if hit.value != "" && contains(c.Lists[hit.list], hit.value) {
			eval.Decision = models.DecisionAllow
			eval.Reasons = append(eval.Reasons, models.DecisionReason{
				Code:        "ALLOWLIST_MATCH",
				Description: hit.what + " is allowlisted",
				Severity:    models.SeverityLow,
				TriggeredBy: "policy",
			})
			return eval, nil
		}
	}

	// 2. Blocklists.
	for _, hit := range []struct {
		list, value, what string
	}{
		{BlocklistCards, event.Card.Token, "card"},
		{BlocklistDevices, event.Device.DeviceID, "device"},
		{BlocklistIPs, event.Geo.IPAddress, "IP address"},
		{BlocklistUsers, event.Subscriber.UserID, "user"},
	} {
		if hit.value != "" && contains(c.Lists[hit.list], hit.value) {
			eval.Decision = models.DecisionBlock
			eval.Reasons = append(eval.Reasons, models.DecisionReason{
				Code:        "BLOCKLIST_MATCH",
				Description: hit.what + " is blocklisted",
				Severity:    models.SeverityCritical,
				TriggeredBy: "policy",
			})
			return eval, nil
		}
	}

	fields := buildFieldMap(event, fs, scores)

	// 3. Explicit rules, ascending priority, first non-CONTINUE match wins.
	rules := make([]Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, r := range rules {
		if !ruleMatches(r, fields) {
			continue
		}
		reason := models.DecisionReason{
			Code:        "RULE_" + strings.ToUpper(strings.ReplaceAll(r.ID, "-", "_")),
			Description: ruleDescription(r),
			Severity:    models.SeverityMedium,
			TriggeredBy: "policy",
		}
		switch r.Action {
		case ActionContinue:
			eval.Reasons = append(eval.Reasons, reason)
			continue
		case ActionAllow:
			eval.Decision = models.DecisionAllow
		case ActionFriction:
			eval.Decision = models.DecisionFriction
			eval.FrictionType = r.FrictionType
			if eval.FrictionType == "" {
				eval.FrictionType = models.Friction3DS
			}
		case ActionReview:
			eval.Decision = models.DecisionReview
			reason.Severity = models.SeverityHigh
			eval.ReviewPriority = r.ReviewPriority
			if eval.ReviewPriority == "" {
				eval.ReviewPriority = models.ReviewMedium
			}
		case ActionBlock:
			eval.Decision = models.DecisionBlock
			reason.Severity = models.SeverityCritical
		}
		eval.Reasons = append(eval.Reasons, reason)
		return eval, nil
	}

	// 4. Score thresholds over the three score types.
	decision := models.DecisionAllow
	for _, st := range []struct {
		name       string
		score      float64
		thresholds ScoreThresholds
	}{
		{"risk", scores.Risk, c.Thresholds.Risk},
		{"criminal", scores.Criminal, c.Thresholds.Criminal},
		{"friendly", scores.FriendlyFraud, c.Thresholds.Friendly},
	} {
		if st.score >= st.thresholds.Block {
			eval.Decision = models.DecisionBlock
			eval.Reasons = append(eval.Reasons, thresholdReason(st.name, st.score, st.thresholds.Block, models.SeverityCritical))
			return eval, nil
		}
		if st.score >= st.thresholds.Review {
			if models.DecisionReview.Severity() > decision.Severity() {
				decision = models.DecisionReview
				eval.ReviewPriority = models.ReviewMedium
				if st.score >= 0.8 {
					eval.ReviewPriority = models.ReviewHigh
				}
			}
			eval.Reasons = append(eval.Reasons, thresholdReason(st.name, st.score, st.thresholds.Review, models.SeverityHigh))
		} else if st.score >= st.thresholds.Friction {
			if models.DecisionFriction.Severity() > decision.Severity() {
				decision = models.DecisionFriction
				eval.FrictionType = models.Friction3DS
			}
			eval.Reasons = append(eval.Reasons, thresholdReason(st.name, st.score, st.thresholds.Friction, models.SeverityMedium))
		}
	}
	if decision != models.DecisionAllow {
		eval.Decision = decision
		return eval, nil
	}

	// 5. Default action.
	eval.Decision = c.DefaultAction
	return eval, nil
}

func thresholdReason(name string, score, threshold float64, sev models.ReasonSeverity) models.DecisionReason {
	return models.DecisionReason{
		Code:        "SCORE_THRESHOLD_" + strings.ToUpper(name),
		Description: fmt.Sprintf("%s score %.4f at or above threshold %.2f", name, score, threshold),
		Severity:    sev,
		TriggeredBy: "policy",
		Value:       score,
		Threshold:   threshold,
	}
}

func ruleDescription(r Rule) string {
	if r.Reason != "" {
		return r.Reason
	}
	return "matched rule " + r.Name
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// buildFieldMap flattens event, features, and scores into the snake_case
// namespace rule conditions address. Feature and score fields come from
// their JSON encodings so condition keys match the wire names exactly.
func buildFieldMap(event *models.PaymentEvent, fs *models.FeatureSet, scores models.RiskScores) map[string]interface{} {
	fields := map[string]interface{}{
		"event_type":           string(event.EventType),
		"amount_cents":         float64(event.AmountCents),
		"currency":             event.Currency,
		"card_token":           event.Card.Token,
		"card_bin":             event.Card.BIN,
		"card_brand":           event.Card.Brand,
		"card_country":         event.Card.Country,
		"service_id":           event.Service.ID,
		"service_type":         string(event.Service.Type),
		"event_subtype":        string(event.Service.Subtype),
		"service_region":       event.Service.Region,
		"user_id":              event.Subscriber.UserID,
		"subscriber_id":        event.Subscriber.SubscriberID,
		"account_age_days":     float64(event.Subscriber.AccountAgeDays),
		"is_guest":             event.Subscriber.IsGuest,
		"device_id":            event.Device.DeviceID,
		"ip_address":           event.Geo.IPAddress,
		"geo_country":          event.Geo.Country,
		"channel":              event.Context.Channel,
		"is_recurring":         event.Context.IsRecurring,
		"is_high_value":        event.IsHighValue(),
		"has_3ds":              event.Has3DS(),
		"is_high_risk_subtype": event.IsHighRiskSubtype(),
	}
	mergeJSON(fields, fs)
	mergeJSON(fields, scores)
	// The friendly score is also addressable under its threshold name.
	fields["friendly"] = scores.FriendlyFraud
	return fields
}

func mergeJSON(fields map[string]interface{}, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	for k, val := range m {
		if _, exists := fields[k]; !exists {
			fields[k] = val
		}
	}
}

// ruleMatches requires every condition to hold.
func ruleMatches(r Rule, fields map[string]interface{}) bool {
	for key, expected := range r.Conditions {
		field, op := splitOperator(key)
		actual, ok := fields[field]
		if !ok {
			return false
		}
		if !compare(actual, expected, op) {
			return false
		}
	}
	return len(r.Conditions) > 0
}

func splitOperator(key string) (field, op string) {
	for _, suffix := range []string{"_gte", "_gt", "_lte", "_lt", "_ne"} {
		if strings.HasSuffix(key, suffix) {
			return strings.TrimSuffix(key, suffix), suffix[1:]
		}
	}
	return key, "eq"
}

func compare(actual, expected interface{}, op string) bool {
	an, aok := toFloat(actual)
	en, eok := toFloat(expected)
	if aok && eok {
		switch op {
		case "gte":
			return an >= en
		case "gt":
			return an > en
		case "lte":
			return an <= en
		case "lt":
			return an < en
		case "ne":
			return an != en
		default:
			return an == en
		}
	}

	as := fmt.Sprintf("%v", actual)
	es := fmt.Sprintf("%v", expected)
	switch op {
	case "ne":
		return as != es
	case "eq":
		return as == es
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
