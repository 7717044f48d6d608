package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"github.com/animus-labs/ailab/internal/training"
	randomforest "github.com/malaschitz/randomForest"
	"golang.org/x/sync/errgroup"
)

// unboundedDepth stands in for "no depth limit"; a zero MaxDepth would be
// replaced by the forest's default of 10.
const unboundedDepth = math.MaxInt32

// RandomForest is a bagged forest of gini trees stored in randomforest's tree
// types, so voting and serialization use that package.
//
// Trees are grown concurrently. Tree i draws from its own PCG stream seeded
// by (RandomState, i), which makes a fit with a fixed RandomState
// reproducible. A nil RandomState seeds from the runtime's random source.
type RandomForest struct {
	NEstimators int
	RandomState *int
	MaxDepth    *int

	Classes int
	Forest  *randomforest.Forest `msgpack:"-"`
}

func (m *RandomForest) Fit(x [][]float64, y []int, classes int) error {
	if err := checkShape(x, y, classes); err != nil {
		return err
	}
	trees := m.NEstimators
	if trees <= 0 {
		trees = 100
	}
	depth := unboundedDepth
	if m.MaxDepth != nil {
		if *m.MaxDepth <= 0 {
			return training.Configurationf("model.max_depth must be positive, got %d", *m.MaxDepth)
		}
		depth = *m.MaxDepth
	}
	seed := rand.Uint64()
	if m.RandomState != nil {
		seed = uint64(*m.RandomState)
	}

	features := len(x[0])
	forest := &randomforest.Forest{
		Trees:     make([]randomforest.Tree, trees),
		Features:  features,
		Classes:   classes,
		LeafSize:  1,
		MFeatures: max(1, int(math.Sqrt(float64(features)))),
		NTrees:    trees,
		NSize:     len(x),
		MaxDepth:  depth,
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range trees {
		g.Go(func() error {
			grower := treeGrower{
				forest: forest,
				rng:    rand.New(rand.NewPCG(seed, uint64(i))),
			}
			forest.Trees[i] = grower.tree(x, y)
			return nil
		})
	}
	_ = g.Wait()

	m.Forest = forest
	m.Classes = classes
	return nil
}

func (m *RandomForest) Predict(x [][]float64) ([]int, error) {
	if m.Forest == nil {
		return nil, fmt.Errorf("random forest is not fitted")
	}
	out := make([]int, len(x))
	for i, row := range x {
		votes := m.Forest.Vote(row)
		if len(votes) == 0 {
			return nil, fmt.Errorf("random forest returned no votes for sample %d", i)
		}
		out[i] = argmax(votes)
	}
	return out, nil
}

// MarshalForest serializes the trained trees. Forest.MarshalJSON writes the
// trees and shape only, never the training data.
func (m *RandomForest) MarshalForest() ([]byte, error) {
	if m.Forest == nil {
		return nil, fmt.Errorf("random forest is not fitted")
	}
	return json.Marshal(m.Forest)
}

// UnmarshalForest restores trees written by MarshalForest.
func (m *RandomForest) UnmarshalForest(data []byte) error {
	var forest randomforest.Forest
	if err := json.Unmarshal(data, &forest); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	m.Forest = &forest
	return nil
}

// treeGrower builds one tree from a bootstrap sample.
type treeGrower struct {
	forest *randomforest.Forest
	rng    *rand.Rand
}

func (g treeGrower) tree(x [][]float64, y []int) randomforest.Tree {
	n := len(x)
	used := make([]bool, n)
	idx := make([]int, n)
	for i := range idx {
		k := g.rng.IntN(n)
		idx[i] = k
		used[k] = true
	}
	t := randomforest.Tree{}
	g.grow(&t.Root, x, y, idx, 1)

	// Out-of-bag mean probability of the true class.
	oob, score := 0, 0.0
	for i := range n {
		if used[i] {
			continue
		}
		oob++
		if votes := leafValue(&t.Root, x[i]); y[i] < len(votes) {
			score += votes[y[i]]
		}
	}
	if oob > 0 {
		t.Validation = score / float64(oob)
	}
	return t
}

func (g treeGrower) grow(b *randomforest.Branch, x [][]float64, y []int, idx []int, depth int) {
	counts := make([]int, g.forest.Classes)
	for _, i := range idx {
		counts[y[i]]++
	}
	b.Gini = gini(counts, len(idx))
	b.Size = len(idx)
	b.Depth = depth

	var (
		best candidate
		ok   bool
	)
	// MaxDepth counts split levels; the root sits at Depth 1.
	if len(idx) > g.forest.LeafSize && b.Gini > 0 && depth <= g.forest.MaxDepth {
		best, ok = g.bestSplit(x, y, idx, counts)
	}
	if !ok {
		b.IsLeaf = true
		b.LeafValue = make([]float64, g.forest.Classes)
		for c, k := range counts {
			b.LeafValue[c] = float64(k) / float64(len(idx))
		}
		return
	}

	b.Attribute = best.attr
	b.Value = best.value
	b.GiniGain = b.Gini - best.gini
	var left, right []int
	for _, i := range idx {
		if x[i][best.attr] > best.value {
			right = append(right, i)
		} else {
			left = append(left, i)
		}
	}
	b.Branch0 = &randomforest.Branch{}
	b.Branch1 = &randomforest.Branch{}
	g.grow(b.Branch0, x, y, left, depth+1)
	g.grow(b.Branch1, x, y, right, depth+1)
}

type candidate struct {
	attr  int
	value float64
	gini  float64
}

// bestSplit scans MFeatures randomly chosen attributes for the threshold with
// the lowest weighted gini. Thresholds sit halfway between adjacent distinct
// values. ok is false when every chosen attribute is constant.
func (g treeGrower) bestSplit(x [][]float64, y []int, idx []int, counts []int) (best candidate, ok bool) {
	best.gini = math.Inf(1)
	n := len(idx)
	order := append([]int(nil), idx...)
	for _, a := range g.rng.Perm(g.forest.Features)[:g.forest.MFeatures] {
		sort.SliceStable(order, func(i, j int) bool { return x[order[i]][a] < x[order[j]][a] })
		below := make([]int, len(counts))
		above := append([]int(nil), counts...)
		for k := 0; k < n-1; k++ {
			c := y[order[k]]
			below[c]++
			above[c]--
			lo, hi := x[order[k]][a], x[order[k+1]][a]
			if lo == hi {
				continue
			}
			w := (gini(below, k+1)*float64(k+1) + gini(above, n-k-1)*float64(n-k-1)) / float64(n)
			if w < best.gini {
				mid := lo + (hi-lo)/2
				if mid >= hi {
					mid = lo
				}
				best = candidate{attr: a, value: mid, gini: w}
				ok = true
			}
		}
	}
	return best, ok
}

// leafValue walks b the way Forest.Vote does and returns the leaf's class
// probabilities.
func leafValue(b *randomforest.Branch, row []float64) []float64 {
	for !b.IsLeaf {
		if row[b.Attribute] > b.Value {
			b = b.Branch1
		} else {
			b = b.Branch0
		}
	}
	return b.LeafValue
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, k := range counts {
		p := float64(k) / float64(total)
		g -= p * p
	}
	return g
}
