// Package policy evaluates allow/block lists, explicit rules, and score
// thresholds into final decisions, with immutable versioned policy content.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telcoguard/fraud-decision/internal/models"
)

// Rule actions. CONTINUE matches but defers to the next rule.
type Action string

const (
	ActionAllow    Action = "ALLOW"
	ActionFriction Action = "FRICTION"
	ActionReview   Action = "REVIEW"
	ActionBlock    Action = "BLOCK"
	ActionContinue Action = "CONTINUE"
)

// List names recognized by the engine.
const (
	AllowlistCards    = "allow_card_tokens"
	AllowlistUsers    = "allow_user_ids"
	AllowlistServices = "allow_service_ids"
	BlocklistCards    = "block_card_tokens"
	BlocklistDevices  = "block_device_ids"
	BlocklistIPs      = "block_ip_addresses"
	BlocklistUsers    = "block_user_ids"
)

var knownLists = map[string]bool{
	AllowlistCards:    true,
	AllowlistUsers:    true,
	AllowlistServices: true,
	BlocklistCards:    true,
	BlocklistDevices:  true,
	BlocklistIPs:      true,
	BlocklistUsers:    true,
}

// ScoreThresholds holds the cut points for one score type.
type ScoreThresholds struct {
	Friction float64 `json:"friction"`
	Review   float64 `json:"review"`
	Block    float64 `json:"block"`
}

// Thresholds covers the three score types the engine evaluates.
type Thresholds struct {
	Risk     ScoreThresholds `json:"risk"`
	Criminal ScoreThresholds `json:"criminal"`
	Friendly ScoreThresholds `json:"friendly"`
}

// Rule is one explicit decision rule. Condition keys name fields of the
// event, feature snapshot, or scores; a _gte/_gt/_lte/_lt/_ne suffix
// selects the comparison, default is equality.
type Rule struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Priority       int                    `json:"priority"`
	Enabled        bool                   `json:"enabled"`
	Conditions     map[string]interface{} `json:"conditions"`
	Action         Action                 `json:"action"`
	FrictionType   models.FrictionType    `json:"friction_type,omitempty"`
	ReviewPriority models.ReviewPriority  `json:"review_priority,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

// Content is one complete policy document.
type Content struct {
	Thresholds    Thresholds          `json:"thresholds"`
	Rules         []Rule              `json:"rules"`
	Lists         map[string][]string `json:"lists"`
	DefaultAction models.Decision     `json:"default_action"`
}

var (
	ErrThresholdOrder = errors.New("thresholds must satisfy friction < review < block")
	ErrThresholdRange = errors.New("thresholds must lie in [0,1]")
	ErrUnknownList    = errors.New("unknown list name")
	ErrDuplicateRule  = errors.New("rule id already exists")
	ErrRuleNotFound   = errors.New("rule not found")
	ErrNotInList      = errors.New("value not in list")
	ErrBadAction      = errors.New("invalid rule action")
)

// Validate enforces the policy content invariants.
func (c *Content) Validate() error {
	for name, t := range map[string]ScoreThresholds{
		"risk":     c.Thresholds.Risk,
		"criminal": c.Thresholds.Criminal,
		"friendly": c.Thresholds.Friendly,
	} {
		if t.Friction < 0 || t.Block > 1 {
			return fmt.Errorf("%w: %s", ErrThresholdRange, name)
		}
		if !(t.Friction < t.Review && t.Review < t.Block) {
			return fmt.Errorf("%w: %s", ErrThresholdOrder, name)
		}
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: empty rule id", ErrRuleNotFound)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = true
		switch r.Action {
		case ActionAllow, ActionFriction, ActionReview, ActionBlock, ActionContinue:
		default:
			return fmt.Errorf("%w: %q in rule %s", ErrBadAction, r.Action, r.ID)
		}
	}

	for name := range c.Lists {
		if !knownLists[name] {
			return fmt.Errorf("%w: %q", ErrUnknownList, name)
		}
	}

	switch c.DefaultAction {
	case models.DecisionAllow, models.DecisionFriction, models.DecisionReview, models.DecisionBlock:
	default:
		return fmt.Errorf("%w: default action %q", ErrBadAction, c.DefaultAction)
	}
	return nil
}

// Hash returns the SHA-256 of the canonical JSON encoding.
func (c *Content) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone deep-copies the content so mutations never touch the active copy.
func (c *Content) Clone() (*Content, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := &Content{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	if out.Lists == nil {
		out.Lists = map[string][]string{}
	}
	return out, nil
}

// DefaultContent is the policy seeded on first boot.
func DefaultContent() *Content {
	return &Content{
		Thresholds: Thresholds{
			Risk:     ScoreThresholds{Friction: 0.4, Review: 0.6, Block: 0.85},
			Criminal: ScoreThresholds{Friction: 0.4, Review: 0.6, Block: 0.85},
			Friendly: ScoreThresholds{Friction: 0.5, Review: 0.7, Block: 0.9},
		},
		Rules: []Rule{
			{
				ID:       "high-value-sim-swap",
				Name:     "Step up high-value SIM swaps",
				Priority: 100,
				Enabled:  true,
				Conditions: map[string]interface{}{
					"event_subtype":    "sim_swap",
					"amount_cents_gte": 10000,
				},
				Action:       ActionFriction,
				FrictionType: models.FrictionOTP,
				Reason:       "SIM swap above $100 requires OTP",
			},
			{
				ID:       "high-value-no-3ds",
				Name:     "Challenge unauthenticated high-value payments",
				Priority: 200,
				Enabled:  true,
				Conditions: map[string]interface{}{
					"is_high_value": true,
					"has_3ds":       false,
				},
				Action:       ActionFriction,
				FrictionType: models.Friction3DS,
				Reason:       "high-value payment without 3DS",
			},
		},
		Lists:         map[string][]string{},
		DefaultAction: models.DecisionAllow,
	}
}
