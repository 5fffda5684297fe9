package detector

import (
	"math"
	"math/rand"
)

// Reducer is an optional dimensionality reduction step: principal components
// extracted by power iteration with deflation. Only fitted when a training
// run asks for it and the table is wider than the requested component count.
type Reducer struct {
	Means      []float64   `json:"means"`
	Components [][]float64 `json:"components"` // one unit vector per component
}

const (
	powerIterations = 100
	powerTolerance  = 1e-9
)

// FitReducer learns up to k principal components of X. Returns nil when X is
// not wider than k, matching the pipeline's "optional reducer" contract.
func FitReducer(X [][]float64, k int, seed int64) *Reducer {
	if len(X) == 0 || k <= 0 || len(X[0]) <= k {
		return nil
	}
	dims := len(X[0])

	means := make([]float64, dims)
	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(X))
	}

	centered := make([][]float64, len(X))
	for i, row := range X {
		c := make([]float64, dims)
		for j, v := range row {
			c[j] = v - means[j]
		}
		centered[i] = c
	}

	cov := covariance(centered)
	rng := rand.New(rand.NewSource(seed))

	components := make([][]float64, 0, k)
	for c := 0; c < k; c++ {
		vec, ok := powerIterate(cov, rng)
		if !ok {
			break
		}
		components = append(components, vec)
		deflate(cov, vec)
	}
	if len(components) == 0 {
		return nil
	}

	return &Reducer{Means: means, Components: components}
}

// Transform projects X onto the fitted components.
func (r *Reducer) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		proj := make([]float64, len(r.Components))
		for c, comp := range r.Components {
			dot := 0.0
			for j, v := range row {
				dot += (v - r.Means[j]) * comp[j]
			}
			proj[c] = dot
		}
		out[i] = proj
	}
	return out
}

func covariance(centered [][]float64) [][]float64 {
	n := len(centered)
	dims := len(centered[0])
	cov := make([][]float64, dims)
	for j := range cov {
		cov[j] = make([]float64, dims)
	}
	for _, row := range centered {
		for a := 0; a < dims; a++ {
			for b := a; b < dims; b++ {
				cov[a][b] += row[a] * row[b]
			}
		}
	}
	denom := float64(n - 1)
	if denom <= 0 {
		denom = 1
	}
	for a := 0; a < dims; a++ {
		for b := a; b < dims; b++ {
			cov[a][b] /= denom
			cov[b][a] = cov[a][b]
		}
	}
	return cov
}

// powerIterate finds the dominant eigenvector of a symmetric matrix.
func powerIterate(m [][]float64, rng *rand.Rand) ([]float64, bool) {
	dims := len(m)
	vec := make([]float64, dims)
	for j := range vec {
		vec[j] = rng.Float64() - 0.5
	}
	if !normalize(vec) {
		return nil, false
	}

	next := make([]float64, dims)
	for iter := 0; iter < powerIterations; iter++ {
		for a := 0; a < dims; a++ {
			sum := 0.0
			for b := 0; b < dims; b++ {
				sum += m[a][b] * vec[b]
			}
			next[a] = sum
		}
		if !normalize(next) {
			return nil, false
		}

		diff := 0.0
		for j := range vec {
			diff += math.Abs(next[j] - vec[j])
		}
		copy(vec, next)
		if diff < powerTolerance {
			break
		}
	}
	return append([]float64(nil), vec...), true
}

// deflate removes the contribution of an eigenvector from the matrix.
func deflate(m [][]float64, vec []float64) {
	dims := len(m)
	// eigenvalue estimate: v' M v
	lambda := 0.0
	for a := 0; a < dims; a++ {
		row := 0.0
		for b := 0; b < dims; b++ {
			row += m[a][b] * vec[b]
		}
		lambda += vec[a] * row
	}
	for a := 0; a < dims; a++ {
		for b := 0; b < dims; b++ {
			m[a][b] -= lambda * vec[a] * vec[b]
		}
	}
}

func normalize(vec []float64) bool {
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm < 1e-12 {
		return false
	}
	for j := range vec {
		vec[j] /= norm
	}
	return true
}
