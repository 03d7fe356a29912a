package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Variant names reported with every score.
const (
	VariantChampion   = "champion"
	VariantChallenger = "challenger"
	VariantHoldout    = "holdout"
)

// ModelEntry describes one registered model artifact.
type ModelEntry struct {
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	Path           string    `json:"path"`
	Framework      string    `json:"framework"`
	ModelType      string    `json:"model_type"`
	TrainedAt      time.Time `json:"trained_at"`
	AUC            float64   `json:"auc"`
	FeatureColumns []string  `json:"feature_columns"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// Registry maps deployment slots to model entries, persisted as a JSON
// file next to the artifacts.
type Registry struct {
	mu    sync.RWMutex
	path  string
	slots map[string]*ModelEntry
}

// NewRegistry loads the registry file. A missing file yields an empty
// registry so the service can start before any model is promoted.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, slots: make(map[string]*ModelEntry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read model registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.slots); err != nil {
		return nil, fmt.Errorf("parse model registry: %w", err)
	}
	return r, nil
}

// Get returns the entry for a slot, or nil if the slot is empty.
func (r *Registry) Get(slot string) *ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[slot]
}

// Set assigns an entry to a slot and persists the registry.
func (r *Registry) Set(slot string, entry *ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot] = entry
	return r.persist()
}

// Promote moves the challenger into the champion slot.
func (r *Registry) Promote() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenger := r.slots[VariantChallenger]
	if challenger == nil {
		return fmt.Errorf("no challenger to promote")
	}
	r.slots[VariantChampion] = challenger
	delete(r.slots, VariantChallenger)
	return r.persist()
}

func (r *Registry) persist() error {
	data, err := json.MarshalIndent(r.slots, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model registry: %w", err)
	}
	return os.Rename(tmp, r.path)
}
