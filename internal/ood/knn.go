package ood

import (
	"fmt"
	"math"
	"sort"
)

// DefaultNeighborCount is the default k for the k-NN sub-model.
const DefaultNeighborCount = 10

// knnIndex is an exact nearest-neighbour index over a fixed set of
// training vectors. Distances are squared Euclidean (the flat-L2 index
// convention), so a query identical to a stored vector reports 0.
type knnIndex struct {
	vectors [][]float64
	dim     int
}

func newKNNIndex(vectors [][]float64) (*knnIndex, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cannot index an empty vector set")
	}
	return &knnIndex{vectors: vectors, dim: len(vectors[0])}, nil
}

// search returns, for each query, the indices of the k nearest stored
// vectors and their squared distances, sorted ascending. Ties break on
// the lower index so results are deterministic.
func (ix *knnIndex) search(queries [][]float64, k int) (dists [][]float64, indices [][]int, err error) {
	if k < 1 || k > len(ix.vectors) {
		return nil, nil, fmt.Errorf("k=%d out of range for index of %d vectors", k, len(ix.vectors))
	}

	dists = make([][]float64, len(queries))
	indices = make([][]int, len(queries))

	for qi, q := range queries {
		if len(q) != ix.dim {
			return nil, nil, fmt.Errorf("query %d has dimension %d, want %d", qi, len(q), ix.dim)
		}
		all := make([]float64, len(ix.vectors))
		for vi, v := range ix.vectors {
			var sum float64
			for j := range q {
				d := q[j] - v[j]
				sum += d * d
			}
			all[vi] = sum
		}

		order := make([]int, len(all))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return all[order[a]] < all[order[b]]
		})

		qd := make([]float64, k)
		qn := make([]int, k)
		for i := 0; i < k; i++ {
			qn[i] = order[i]
			qd[i] = all[order[i]]
		}
		dists[qi] = qd
		indices[qi] = qn
	}
	return dists, indices, nil
}

// KNNModel scores items by the geometry of their nearest neighbourhood
// in the ID training set: distance to the k-th neighbour, distance to
// the nearest non-self neighbour, average neighbour distance, label
// entropy among the neighbours, and the EnWeDi products of entropy and
// distance.
//
// Neighbour slot 0 is always excluded from the nearest and average
// distances: when the query was itself a training point it is the
// trivial self-match, and excluding it unconditionally keeps training
// and inference scores on the same scale.
type KNNModel struct {
	k           int
	index       *knnIndex
	trainLabels []string
	trained     bool
}

// NewKNNModel creates a k-NN sub-model with the given neighbour count.
// A k below 2 is raised to DefaultNeighborCount: the score definitions
// need at least one non-self neighbour slot.
func NewKNNModel(k int) *KNNModel {
	if k < 2 {
		k = DefaultNeighborCount
	}
	return &KNNModel{k: k}
}

// K returns the configured neighbour count.
func (m *KNNModel) K() int { return m.k }

// ScoreNames declares the six neighbour-statistic columns in order.
func (m *KNNModel) ScoreNames() []string {
	return []string{
		"knn_distance",
		"nn_distance",
		"average_nn_distance",
		"entropy_score",
		"enwedi_score",
		"enwedi_nn_score",
	}
}

// Train builds the neighbour index over the ID training feature vectors
// and retains the annotated labels aligned to index positions. The
// training set must contain at least k items.
func (m *KNNModel) Train(items []*DistributionDataItem) error {
	rows, err := featureRows(items)
	if err != nil {
		return err
	}
	if len(items) < m.k {
		return fmt.Errorf("need at least k=%d training items, have %d", m.k, len(items))
	}
	labels := make([]string, len(items))
	for i, item := range items {
		labels[i] = item.AnnotatedLabel
	}
	index, err := newKNNIndex(rows)
	if err != nil {
		return err
	}
	m.index = index
	m.trainLabels = labels
	m.trained = true
	return nil
}

// IsTrained reports whether the index has been built.
func (m *KNNModel) IsTrained() bool { return m.trained }

// Score runs the k-NN search for every item and derives the neighbour
// statistics.
func (m *KNNModel) Score(items []*DistributionDataItem) ([]ScoreColumn, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	rows, err := featureRows(items)
	if err != nil {
		return nil, err
	}
	dists, neighbors, err := m.index.search(rows, m.k)
	if err != nil {
		return nil, err
	}

	n := len(items)
	knnDist := make([]float64, n)
	nnDist := make([]float64, n)
	avgDist := make([]float64, n)
	entropy := make([]float64, n)
	enwedi := make([]float64, n)
	enwediNN := make([]float64, n)

	for i := 0; i < n; i++ {
		d := dists[i]
		knnDist[i] = d[len(d)-1]
		nnDist[i] = d[1]

		var sum float64
		for _, v := range d[1:] {
			sum += v
		}
		avgDist[i] = sum / float64(len(d)-1)

		// Shifted into [1,2] so it stays positive under multiplication.
		entropy[i] = 1 + neighborLabelEntropy(m.trainLabels, neighbors[i])

		enwedi[i] = avgDist[i] * entropy[i]
		enwediNN[i] = nnDist[i] * entropy[i]
	}

	return []ScoreColumn{
		{Name: "knn_distance", Values: knnDist},
		{Name: "nn_distance", Values: nnDist},
		{Name: "average_nn_distance", Values: avgDist},
		{Name: "entropy_score", Values: entropy},
		{Name: "enwedi_score", Values: enwedi},
		{Name: "enwedi_nn_score", Values: enwediNN},
	}, nil
}

// neighborLabelEntropy computes the Shannon entropy (base 2, normalized
// by log2(k) into [0,1]) of the annotated-label distribution among a
// query's k nearest training neighbours.
func neighborLabelEntropy(trainLabels []string, neighbors []int) float64 {
	k := len(neighbors)
	if k < 2 {
		return 0
	}
	counts := make(map[string]int)
	for _, idx := range neighbors {
		counts[trainLabels[idx]]++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(k)
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(k))
}

var _ SubModel = (*KNNModel)(nil)
