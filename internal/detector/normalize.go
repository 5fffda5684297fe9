package detector

import (
	"math"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// Normalized holds the per-row outputs of score normalization.
type Normalized struct {
	RiskScores []float64
	RiskLevels []domain.RiskLevel
	Confidence []float64
}

// Normalize maps raw anomaly scores and binary predictions into bounded risk
// scores, discrete levels, and confidence values. Pure function of the batch:
// the score range is batch-relative, so each row's result depends only on the
// batch minimum and maximum, never on row order.
func Normalize(raw []float64, preds []int) Normalized {
	n := len(raw)
	out := Normalized{
		RiskScores: make([]float64, n),
		RiskLevels: make([]domain.RiskLevel, n),
		Confidence: make([]float64, n),
	}
	if n == 0 {
		return out
	}

	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	for i, v := range raw {
		normalized := 0.0
		if hi > lo {
			// Invert so a lower raw score maps to a higher risk.
			normalized = 100 * (hi - v) / (hi - lo)
		}

		// Boost rows the capability flagged, dampen the rest, so the binary
		// prediction and the continuous score agree near the margin.
		if preds[i] == -1 {
			out.RiskScores[i] = clip(normalized*1.2, 0, 100)
		} else {
			out.RiskScores[i] = clip(normalized*0.8, 0, 100)
		}
		out.RiskLevels[i] = domain.LevelForScore(out.RiskScores[i])
	}

	out.Confidence = confidence(raw)
	return out
}

// confidence is a distance-from-decision-boundary proxy in [0, 100], not a
// calibrated probability. Uniform 50 when every |raw| is equal.
func confidence(raw []float64) []float64 {
	n := len(raw)
	conf := make([]float64, n)
	if n == 0 {
		return conf
	}

	minAbs, maxAbs := math.Abs(raw[0]), math.Abs(raw[0])
	for _, v := range raw[1:] {
		a := math.Abs(v)
		if a < minAbs {
			minAbs = a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}

	if maxAbs == minAbs {
		for i := range conf {
			conf[i] = 50
		}
		return conf
	}

	for i, v := range raw {
		conf[i] = 100 * (math.Abs(v) - minAbs) / (maxAbs - minAbs)
	}
	return conf
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
