package detector

import (
	"encoding/json"
	"fmt"
	"math"
)

// boundary is the kernel-boundary capability: an RBF similarity to the
// training centroid with the decision offset placed at the contamination
// quantile of the training similarities. Rows far from the mass of the
// training data fall below the offset and are flagged.
//
// Deterministic without randomness, so the seed is unused.
type boundary struct {
	cfg CapabilityConfig

	state boundaryState
}

type boundaryState struct {
	Centroid []float64 `json:"centroid"`
	Gamma    float64   `json:"gamma"`
	Offset   float64   `json:"offset"`
	Fitted   bool      `json:"fitted"`
}

func newBoundary(cfg CapabilityConfig) *boundary {
	return &boundary{cfg: cfg}
}

func (b *boundary) Kind() string { return KindBoundary }

func (b *boundary) Fit(X [][]float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return fmt.Errorf("fit requires at least one row and one column")
	}

	dims := len(X[0])
	centroid := make([]float64, dims)
	for _, row := range X {
		for j, v := range row {
			centroid[j] += v
		}
	}
	for j := range centroid {
		centroid[j] /= float64(len(X))
	}

	b.state = boundaryState{
		Centroid: centroid,
		Gamma:    1.0 / float64(dims),
		Fitted:   true,
	}

	sims := make([]float64, len(X))
	for i, row := range X {
		sims[i] = b.similarity(row)
	}
	b.state.Offset = quantile(sims, b.cfg.Contamination)

	return nil
}

func (b *boundary) Score(X [][]float64) ([]int, []float64, error) {
	if !b.state.Fitted {
		return nil, nil, fmt.Errorf("boundary capability is not fitted")
	}

	preds := make([]int, len(X))
	raw := make([]float64, len(X))
	for i, row := range X {
		r := b.similarity(row) - b.state.Offset
		raw[i] = r
		if r < 0 {
			preds[i] = -1
		} else {
			preds[i] = 1
		}
	}
	return preds, raw, nil
}

// similarity is exp(-gamma * ||x - centroid||^2), in (0, 1].
func (b *boundary) similarity(row []float64) float64 {
	dist := 0.0
	for j, v := range row {
		d := v - b.state.Centroid[j]
		dist += d * d
	}
	return math.Exp(-b.state.Gamma * dist)
}

func (b *boundary) State() (json.RawMessage, error) {
	return json.Marshal(b.state)
}

func (b *boundary) Restore(state json.RawMessage) error {
	var s boundaryState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	if !s.Fitted || len(s.Centroid) == 0 {
		return fmt.Errorf("boundary state is not fitted")
	}
	b.state = s
	return nil
}
