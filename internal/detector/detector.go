// Package detector implements the anomaly scoring pipeline: pluggable
// scoring capabilities, score normalization, ensemble combination, and
// per-transaction explanations.
package detector

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Capability kinds selectable by configuration.
const (
	KindForest   = "forest"   // tree-ensemble style
	KindBoundary = "boundary" // kernel-boundary style
)

// Capability is an opaque anomaly scorer. Fit must succeed for any matrix
// with at least one row and one column and be deterministic for a fixed seed.
// Score returns one prediction (-1 anomalous, +1 normal) and one raw score
// per row; raw scores follow the convention that lower means more anomalous.
type Capability interface {
	Fit(X [][]float64) error
	Score(X [][]float64) (preds []int, raw []float64, err error)

	// Kind identifies the concrete capability for artifact round-trips.
	Kind() string

	// State and Restore serialize the fitted state.
	State() (json.RawMessage, error)
	Restore(state json.RawMessage) error
}

// CapabilityConfig holds the parameters shared by all capabilities.
type CapabilityConfig struct {
	// Contamination is the expected anomaly proportion, in (0, 0.5].
	Contamination float64

	// Seed fixes the randomness used during fitting.
	Seed int64
}

// NewCapability creates a scoring capability by kind.
func NewCapability(kind string, cfg CapabilityConfig) (Capability, error) {
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", cfg.Contamination)
	}

	switch kind {
	case KindForest:
		return newForest(cfg), nil
	case KindBoundary:
		return newBoundary(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported capability kind: %s", kind)
	}
}

// quantile returns the q-th quantile of vals (0 <= q <= 1) using linear
// interpolation between order statistics.
func quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
