package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Change types recorded with each version row.
const (
	ChangeInitial    = "initial"
	ChangeThresholds = "threshold_update"
	ChangeRuleAdd    = "rule_add"
	ChangeRuleUpdate = "rule_update"
	ChangeRuleDelete = "rule_delete"
	ChangeListUpdate = "list_update"
	ChangeRollback   = "rollback"
)

// Version is one immutable policy version row.
type Version struct {
	ID              uuid.UUID `json:"id"`
	Version         string    `json:"version"`
	Content         *Content  `json:"content"`
	Hash            string    `json:"hash"`
	ChangeType      string    `json:"change_type"`
	ChangeSummary   string    `json:"change_summary"`
	ChangedBy       string    `json:"changed_by"`
	CreatedAt       time.Time `json:"created_at"`
	IsActive        bool      `json:"is_active"`
	PreviousVersion string    `json:"previous_version,omitempty"`
}

// VersionStore persists policy versions. Activate must atomically clear
// the previous active row and insert the new one.
type VersionStore interface {
	GetActive(ctx context.Context) (*Version, error)
	GetByVersion(ctx context.Context, version string) (*Version, error)
	List(ctx context.Context, limit int) ([]*Version, error)
	Activate(ctx context.Context, v *Version) error
}

// ErrVersionNotFound is returned for lookups of unknown versions.
var ErrVersionNotFound = fmt.Errorf("policy version not found")

// Manager applies versioned mutations to policy content and keeps the
// engine's active snapshot in sync.
type Manager struct {
	store  VersionStore
	engine *Engine
}

// NewManager wires a version store to an engine.
func NewManager(store VersionStore, engine *Engine) *Manager {
	return &Manager{store: store, engine: engine}
}

// Bootstrap loads the active version into the engine, seeding the default
// policy on first boot.
func (m *Manager) Bootstrap(ctx context.Context) error {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load active policy: %w", err)
	}
	if active == nil {
		content := DefaultContent()
		if err := content.Validate(); err != nil {
			return fmt.Errorf("default policy invalid: %w", err)
		}
		active = &Version{
			ID:            uuid.New(),
			Version:       "1.0.0",
			Content:       content,
			Hash:          content.Hash(),
			ChangeType:    ChangeInitial,
			ChangeSummary: "initial default policy",
			ChangedBy:     "system",
			CreatedAt:     time.Now().UTC(),
			IsActive:      true,
		}
		if err := m.store.Activate(ctx, active); err != nil {
			return fmt.Errorf("seed default policy: %w", err)
		}
		log.Info().Str("version", active.Version).Msg("seeded default policy")
	}
	m.swap(active)
	return nil
}

// Reload re-reads the active version from the store and swaps it in.
func (m *Manager) Reload(ctx context.Context) (*Version, error) {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload policy: %w", err)
	}
	if active == nil {
		return nil, ErrNoActivePolicy
	}
	m.swap(active)
	return active, nil
}

// Active returns the in-memory active version metadata.
func (m *Manager) Active() *Snapshot { return m.engine.Active() }

// GetByVersion fetches a stored version.
func (m *Manager) GetByVersion(ctx context.Context, version string) (*Version, error) {
	return m.store.GetByVersion(ctx, version)
}

// List returns recent versions, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*Version, error) {
	return m.store.List(ctx, limit)
}

// UpdateThresholds replaces the threshold table. PATCH bump.
func (m *Manager) UpdateThresholds(ctx context.Context, t Thresholds, changedBy string) (*Version, error) {
	return m.mutate(ctx, ChangeThresholds, "updated score thresholds", changedBy,
		func(c *Content) error {
			c.Thresholds = t
			return nil
		})
}

// AddRule appends a rule. MINOR bump.
func (m *Manager) AddRule(ctx context.Context, rule Rule, changedBy string) (*Version, error) {
	return m.mutate(ctx, ChangeRuleAdd, "added rule "+rule.ID, changedBy,
		func(c *Content) error {
			for _, r := range c.Rules {
				if r.ID == rule.ID {
					return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
				}
			}
			c.Rules = append(c.Rules, rule)
			return nil
		})
}

// UpdateRule replaces a rule by id. MINOR bump.
func (m *Manager) UpdateRule(ctx context.Context, rule Rule, changedBy string) (*Version, error) {
	return m.mutate(ctx, ChangeRuleUpdate, "updated rule "+rule.ID, changedBy,
		func(c *Content) error {
			for i, r := range c.Rules {
				if r.ID == rule.ID {
					c.Rules[i] = rule
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
		})
}

// DeleteRule removes a rule by id. MINOR bump.
func (m *Manager) DeleteRule(ctx context.Context, ruleID, changedBy string) (*Version, error) {
	return m.mutate(ctx, ChangeRuleDelete, "deleted rule "+ruleID, changedBy,
		func(c *Content) error {
			for i, r := range c.Rules {
				if r.ID == ruleID {
					c.Rules = append(c.Rules[:i], c.Rules[i+1:]...)
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		})
}

// UpdateList adds or removes one value from a named list. PATCH bump.
func (m *Manager) UpdateList(ctx context.Context, list, value string, add bool, changedBy string) (*Version, error) {
	verb := "removed from"
	if add {
		verb = "added to"
	}
	return m.mutate(ctx, ChangeListUpdate, fmt.Sprintf("value %s %s", verb, list), changedBy,
		func(c *Content) error {
			if !knownLists[list] {
				return fmt.Errorf("%w: %q", ErrUnknownList, list)
			}
			current := c.Lists[list]
			if add {
				if !contains(current, value) {
					c.Lists[list] = append(current, value)
				}
				return nil
			}
			for i, v := range current {
				if v == value {
					remaining := append(current[:i:i], current[i+1:]...)
					if len(remaining) == 0 {
						// Dropping the key entirely keeps add-then-remove
						// byte-identical to the original content.
						delete(c.Lists, list)
					} else {
						c.Lists[list] = remaining
					}
					return nil
				}
			}
			return fmt.Errorf("%w: %q in %s", ErrNotInList, value, list)
		})
}

// Rollback creates a new version carrying the target version's content.
// History is never deleted. MINOR bump.
func (m *Manager) Rollback(ctx context.Context, targetVersion, changedBy string) (*Version, error) {
	target, err := m.store.GetByVersion(ctx, targetVersion)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, targetVersion)
	}
	return m.mutate(ctx, ChangeRollback, "rolled back to "+targetVersion, changedBy,
		func(c *Content) error {
			restored, err := target.Content.Clone()
			if err != nil {
				return err
			}
			*c = *restored
			return nil
		})
}

// mutate applies fn to a copy of the active content, validates, bumps the
// version, and activates the result. Any failure leaves state untouched.
func (m *Manager) mutate(ctx context.Context, changeType, summary, changedBy string, fn func(*Content) error) (*Version, error) {
	active, err := m.store.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active policy: %w", err)
	}
	if active == nil {
		return nil, ErrNoActivePolicy
	}

	content, err := active.Content.Clone()
	if err != nil {
		return nil, err
	}
	if err := fn(content); err != nil {
		return nil, err
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	next, err := bumpVersion(active.Version, changeType)
	if err != nil {
		return nil, err
	}

	v := &Version{
		ID:              uuid.New(),
		Version:         next,
		Content:         content,
		Hash:            content.Hash(),
		ChangeType:      changeType,
		ChangeSummary:   summary,
		ChangedBy:       changedBy,
		CreatedAt:       time.Now().UTC(),
		IsActive:        true,
		PreviousVersion: active.Version,
	}
	if err := m.store.Activate(ctx, v); err != nil {
		return nil, fmt.Errorf("activate policy version: %w", err)
	}
	m.swap(v)
	log.Info().
		Str("version", v.Version).
		Str("change_type", changeType).
		Str("changed_by", changedBy).
		Msg("policy version activated")
	return v, nil
}

func (m *Manager) swap(v *Version) {
	m.engine.SetActive(&Snapshot{
		Content:   v.Content,
		Version:   v.Version,
		VersionID: v.ID,
		Hash:      v.Hash,
	})
}

// bumpVersion advances the semantic version: MINOR for rule changes and
// rollbacks, PATCH for threshold and list tweaks.
func bumpVersion(current, changeType string) (string, error) {
	parts := strings.Split(current, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed policy version %q", current)
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", fmt.Errorf("malformed policy version %q", current)
	}

	switch changeType {
	case ChangeRuleAdd, ChangeRuleUpdate, ChangeRuleDelete, ChangeRollback:
		minor++
		patch = 0
	default:
		patch++
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch), nil
}
