package detector

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

const (
	forestTrees     = 100
	forestSubsample = 256
)

// forest is the tree-ensemble capability. It builds randomized binary
// partition trees over subsamples of the training set; rows that isolate in
// few splits receive high anomalousness. The decision offset is placed at the
// (1-contamination) quantile of the training anomalousness, so the expected
// anomaly proportion is flagged.
type forest struct {
	cfg CapabilityConfig

	state forestState
}

type forestState struct {
	Trees     []isoTree `json:"trees"`
	Subsample int       `json:"subsample"`
	Offset    float64   `json:"offset"`
	Fitted    bool      `json:"fitted"`
}

type isoTree struct {
	Nodes []forestNode `json:"nodes"`
}

// forestNode is one node of a partition tree. Feature < 0 marks a leaf, in
// which case Size is the number of training rows that settled there.
type forestNode struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

func newForest(cfg CapabilityConfig) *forest {
	return &forest{cfg: cfg}
}

func (f *forest) Kind() string { return KindForest }

func (f *forest) Fit(X [][]float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return fmt.Errorf("fit requires at least one row and one column")
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))

	psi := forestSubsample
	if psi > len(X) {
		psi = len(X)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi)))) + 1

	trees := make([]isoTree, forestTrees)
	for t := range trees {
		idx := sampleIndices(rng, len(X), psi)
		builder := &treeBuilder{X: X, rng: rng, maxDepth: maxDepth}
		builder.build(idx, 0)
		trees[t] = isoTree{Nodes: builder.nodes}
	}

	f.state = forestState{Trees: trees, Subsample: psi, Fitted: true}

	// Place the decision offset so that the configured contamination
	// fraction of the training set lands below it.
	training := make([]float64, len(X))
	for i, row := range X {
		training[i] = f.anomalousness(row)
	}
	f.state.Offset = quantile(training, 1-f.cfg.Contamination)

	return nil
}

func (f *forest) Score(X [][]float64) ([]int, []float64, error) {
	if !f.state.Fitted {
		return nil, nil, fmt.Errorf("forest capability is not fitted")
	}

	preds := make([]int, len(X))
	raw := make([]float64, len(X))
	for i, row := range X {
		// Sign flip: anomalousness grows upward, the pipeline convention is
		// lower raw score = more anomalous.
		r := f.state.Offset - f.anomalousness(row)
		raw[i] = r
		if r < 0 {
			preds[i] = -1
		} else {
			preds[i] = 1
		}
	}
	return preds, raw, nil
}

// anomalousness is the standard 2^(-E[h]/c(psi)) measure in (0, 1).
func (f *forest) anomalousness(row []float64) float64 {
	total := 0.0
	for _, tree := range f.state.Trees {
		total += tree.pathLength(row)
	}
	mean := total / float64(len(f.state.Trees))
	c := avgPathLength(f.state.Subsample)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

func (f *forest) State() (json.RawMessage, error) {
	return json.Marshal(f.state)
}

func (f *forest) Restore(state json.RawMessage) error {
	var s forestState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	if !s.Fitted || len(s.Trees) == 0 {
		return fmt.Errorf("forest state is not fitted")
	}
	f.state = s
	return nil
}

func (t *isoTree) pathLength(row []float64) float64 {
	depth := 0.0
	i := 0
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return depth + avgPathLength(node.Size)
		}
		if row[node.Feature] < node.Split {
			i = node.Left
		} else {
			i = node.Right
		}
		depth++
	}
}

// avgPathLength is the expected path length of an unsuccessful BST search
// over n items, the standard normalizer for isolation scores.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

type treeBuilder struct {
	X        [][]float64
	rng      *rand.Rand
	maxDepth int
	nodes    []forestNode
}

// build grows one tree over the rows named by idx and returns the node index.
func (b *treeBuilder) build(idx []int, depth int) int {
	if depth >= b.maxDepth || len(idx) <= 1 {
		return b.leaf(len(idx))
	}

	feat, split, ok := b.pickSplit(idx)
	if !ok {
		// Every remaining feature is constant over these rows.
		return b.leaf(len(idx))
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feat] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return b.leaf(len(idx))
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, forestNode{Feature: feat, Split: split})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

func (b *treeBuilder) leaf(size int) int {
	b.nodes = append(b.nodes, forestNode{Feature: -1, Size: size})
	return len(b.nodes) - 1
}

// pickSplit chooses a random feature with spread and a uniform split inside
// its range over the given rows.
func (b *treeBuilder) pickSplit(idx []int) (int, float64, bool) {
	nFeat := len(b.X[0])
	order := b.rng.Perm(nFeat)
	for _, feat := range order {
		lo, hi := b.X[idx[0]][feat], b.X[idx[0]][feat]
		for _, i := range idx[1:] {
			v := b.X[i][feat]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feat, lo + b.rng.Float64()*(hi-lo), true
		}
	}
	return 0, 0, false
}

// sampleIndices draws psi row indices without replacement.
func sampleIndices(rng *rand.Rand, n, psi int) []int {
	if psi >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	return rng.Perm(n)[:psi]
}
