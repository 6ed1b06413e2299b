// Package forest implements a random-forest binary classifier used as
// the COOD meta-classifier: bootstrap-sampled CART trees with Gini
// impurity splits and random feature subsets, averaged per-tree class
// distributions for probability output.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DefaultTrees is the default ensemble size.
const DefaultTrees = 100

// Config holds the training parameters for a Classifier.
type Config struct {
	// Trees is the number of trees in the ensemble. Zero means
	// DefaultTrees.
	Trees int
	// MaxDepth limits tree depth. Zero grows trees until leaves are
	// pure or too small to split.
	MaxDepth int
	// MinLeaf is the minimum number of samples in a leaf. Zero means 1.
	MinLeaf int
	// MaxFeatures is the number of features considered per split. Zero
	// means the rounded square root of the feature count.
	MaxFeatures int
	// Seed drives bootstrap sampling and feature subsets; the same seed
	// over the same data yields the same ensemble.
	Seed int64
}

func (c Config) withDefaults(nFeatures int) Config {
	if c.Trees <= 0 {
		c.Trees = DefaultTrees
	}
	if c.MinLeaf <= 0 {
		c.MinLeaf = 1
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > nFeatures {
		c.MaxFeatures = int(math.Round(math.Sqrt(float64(nFeatures))))
		if c.MaxFeatures < 1 {
			c.MaxFeatures = 1
		}
	}
	return c
}

// Classifier is a trained random forest for binary labels {0,1}.
// It is read-only after Train and safe for concurrent prediction.
type Classifier struct {
	trees     []*node
	nFeatures int
}

type node struct {
	leaf      bool
	proba     [2]float64
	feature   int
	threshold float64
	left      *node
	right     *node
}

// Train fits a forest on the feature matrix x and binary labels y.
func Train(x [][]float64, y []int, cfg Config) (*Classifier, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty training set")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and labels (%d) differ", len(x), len(y))
	}
	nFeatures := len(x[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("feature rows are empty")
	}
	for i, row := range x {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("label %d at row %d: only binary labels {0,1} are supported", label, i)
		}
	}

	cfg = cfg.withDefaults(nFeatures)
	rng := rand.New(rand.NewSource(cfg.Seed))

	c := &Classifier{nFeatures: nFeatures}
	n := len(x)
	for t := 0; t < cfg.Trees; t++ {
		// Bootstrap sample with replacement.
		indices := make([]int, n)
		for i := range indices {
			indices[i] = rng.Intn(n)
		}
		c.trees = append(c.trees, growTree(x, y, indices, 0, cfg, rng))
	}
	return c, nil
}

func growTree(x [][]float64, y []int, indices []int, depth int, cfg Config, rng *rand.Rand) *node {
	counts := [2]int{}
	for _, i := range indices {
		counts[y[i]]++
	}

	if counts[0] == 0 || counts[1] == 0 ||
		len(indices) < 2*cfg.MinLeaf ||
		(cfg.MaxDepth > 0 && depth >= cfg.MaxDepth) {
		return leafNode(counts)
	}

	feature, threshold, ok := bestSplit(x, y, indices, cfg, rng)
	if !ok {
		return leafNode(counts)
	}

	var left, right []int
	for _, i := range indices {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.MinLeaf || len(right) < cfg.MinLeaf {
		return leafNode(counts)
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      growTree(x, y, left, depth+1, cfg, rng),
		right:     growTree(x, y, right, depth+1, cfg, rng),
	}
}

func leafNode(counts [2]int) *node {
	total := float64(counts[0] + counts[1])
	return &node{
		leaf:  true,
		proba: [2]float64{float64(counts[0]) / total, float64(counts[1]) / total},
	}
}

// bestSplit scans a random feature subset for the threshold with the
// largest Gini impurity decrease.
func bestSplit(x [][]float64, y []int, indices []int, cfg Config, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	features := rng.Perm(len(x[0]))[:cfg.MaxFeatures]
	sort.Ints(features)

	bestGini := math.Inf(1)
	parentGini := giniOf(y, indices)

	values := make([]float64, 0, len(indices))
	for _, f := range features {
		values = values[:0]
		for _, i := range indices {
			values = append(values, x[i][f])
		}
		sort.Float64s(values)

		for vi := 1; vi < len(values); vi++ {
			if values[vi] == values[vi-1] {
				continue
			}
			t := (values[vi] + values[vi-1]) / 2

			var leftCounts, rightCounts [2]int
			for _, i := range indices {
				if x[i][f] <= t {
					leftCounts[y[i]]++
				} else {
					rightCounts[y[i]]++
				}
			}
			nl := leftCounts[0] + leftCounts[1]
			nr := rightCounts[0] + rightCounts[1]
			if nl == 0 || nr == 0 {
				continue
			}

			g := (float64(nl)*gini(leftCounts) + float64(nr)*gini(rightCounts)) / float64(nl+nr)
			if g < bestGini {
				bestGini = g
				feature = f
				threshold = t
				ok = true
			}
		}
	}

	// Require an actual impurity decrease.
	if ok && bestGini >= parentGini {
		ok = false
	}
	return feature, threshold, ok
}

func gini(counts [2]int) float64 {
	total := float64(counts[0] + counts[1])
	if total == 0 {
		return 0
	}
	p0 := float64(counts[0]) / total
	p1 := float64(counts[1]) / total
	return 1 - p0*p0 - p1*p1
}

func giniOf(y []int, indices []int) float64 {
	var counts [2]int
	for _, i := range indices {
		counts[y[i]]++
	}
	return gini(counts)
}

// NumTrees returns the ensemble size.
func (c *Classifier) NumTrees() int { return len(c.trees) }

// NumFeatures returns the feature count the forest was trained on.
func (c *Classifier) NumFeatures() int { return c.nFeatures }

// PredictProba returns the class probabilities [P(0), P(1)] for one
// feature row: the mean of the per-tree leaf class distributions. The
// two probabilities sum to 1.
func (c *Classifier) PredictProba(row []float64) ([2]float64, error) {
	if len(row) != c.nFeatures {
		return [2]float64{}, fmt.Errorf("row has %d features, want %d", len(row), c.nFeatures)
	}
	var sum [2]float64
	for _, t := range c.trees {
		p := t.predict(row)
		sum[0] += p[0]
		sum[1] += p[1]
	}
	n := float64(len(c.trees))
	return [2]float64{sum[0] / n, sum[1] / n}, nil
}

// Predict returns the majority class for one feature row.
func (c *Classifier) Predict(row []float64) (int, error) {
	p, err := c.PredictProba(row)
	if err != nil {
		return 0, err
	}
	if p[1] > p[0] {
		return 1, nil
	}
	return 0, nil
}

// MeanAccuracy scores the classifier over a labelled set, returning the
// fraction of correct predictions.
func (c *Classifier) MeanAccuracy(x [][]float64, y []int) (float64, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("empty evaluation set")
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("feature rows (%d) and labels (%d) differ", len(x), len(y))
	}
	correct := 0
	for i, row := range x {
		pred, err := c.Predict(row)
		if err != nil {
			return 0, err
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x)), nil
}

func (n *node) predict(row []float64) [2]float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.proba
}
