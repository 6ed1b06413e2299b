package ood

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// DefaultVarianceFraction is the fraction of variance the principal
// subspaces retain by default.
const DefaultVarianceFraction = 0.995

// freEpsilon keeps the predicted-vs-minimum error gap strictly positive.
const freEpsilon = 1e-8

// subspace is a principal-component subspace fitted over a set of
// feature vectors: the sample mean plus the leading right singular
// vectors explaining the requested variance fraction.
type subspace struct {
	mean  []float64
	basis *mat.Dense // dim × components
}

// fitSubspace computes a PCA subspace over the row vectors via thin SVD
// of the centered data matrix, retaining the smallest number of
// components whose cumulative explained variance reaches fraction. At
// least one component is always kept, so degenerate (zero-variance)
// data still yields a usable subspace.
func fitSubspace(rows [][]float64, fraction float64) (*subspace, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot fit subspace on empty data")
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("variance fraction %v out of range (0,1]", fraction)
	}

	n := len(rows)
	dim := len(rows[0])

	mean := make([]float64, dim)
	for _, row := range rows {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	centered := mat.NewDense(n, dim, nil)
	for i, row := range rows {
		for j, v := range row {
			centered.Set(i, j, v-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd failed to converge on %dx%d matrix", n, dim)
	}

	singular := svd.Values(nil)
	var total float64
	for _, s := range singular {
		total += s * s
	}

	components := 1
	if total > 0 {
		var cum float64
		for i, s := range singular {
			cum += s * s
			if cum/total >= fraction {
				components = i + 1
				break
			}
			components = i + 1
		}
	}

	var v mat.Dense
	svd.VTo(&v)
	basis := mat.DenseCopyOf(v.Slice(0, dim, 0, components))

	return &subspace{mean: mean, basis: basis}, nil
}

// reconstructionErrors returns, for each row vector, the Euclidean
// distance between the centered vector and its projection onto the
// subspace (the feature reconstruction error).
func (s *subspace) reconstructionErrors(rows [][]float64) ([]float64, error) {
	dim := len(s.mean)
	n := len(rows)

	centered := mat.NewDense(n, dim, nil)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(row), dim)
		}
		for j, v := range row {
			centered.Set(i, j, v-s.mean[j])
		}
	}

	_, components := s.basis.Dims()
	projected := mat.NewDense(n, components, nil)
	projected.Mul(centered, s.basis)

	reconstructed := mat.NewDense(n, dim, nil)
	reconstructed.Mul(projected, s.basis.T())

	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < dim; j++ {
			d := centered.At(i, j) - reconstructed.At(i, j)
			sum += d * d
		}
		errs[i] = math.Sqrt(sum)
	}
	return errs, nil
}

// GlobalFREModel fits one principal subspace over the whole ID training
// set and scores items by their feature reconstruction error against it.
type GlobalFREModel struct {
	fraction float64
	ss       *subspace
	trained  bool
}

// NewGlobalFREModel creates a global subspace-error sub-model. A
// fraction outside (0,1] falls back to DefaultVarianceFraction.
func NewGlobalFREModel(fraction float64) *GlobalFREModel {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultVarianceFraction
	}
	return &GlobalFREModel{fraction: fraction}
}

// ScoreNames declares the single global reconstruction error column.
func (m *GlobalFREModel) ScoreNames() []string {
	return []string{"global_fre_score"}
}

// Train fits the global subspace over all ID training feature vectors.
func (m *GlobalFREModel) Train(items []*DistributionDataItem) error {
	rows, err := featureRows(items)
	if err != nil {
		return err
	}
	ss, err := fitSubspace(rows, m.fraction)
	if err != nil {
		return err
	}
	m.ss = ss
	m.trained = true
	return nil
}

// IsTrained reports whether the subspace has been fitted.
func (m *GlobalFREModel) IsTrained() bool { return m.trained }

// Score returns the reconstruction error of each item against the
// global subspace.
func (m *GlobalFREModel) Score(items []*DistributionDataItem) ([]ScoreColumn, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	rows, err := featureRows(items)
	if err != nil {
		return nil, err
	}
	errs, err := m.ss.reconstructionErrors(rows)
	if err != nil {
		return nil, err
	}
	return []ScoreColumn{{Name: "global_fre_score", Values: errs}}, nil
}

// ClassFREModel fits one principal subspace per annotated class and
// scores items by reconstruction error against every class subspace:
// the error against the item's own predicted class, the minimum error
// across all classes, and the gap between the two. For ID points the
// predicted class is almost always also the minimum-error class, so a
// large gap is an OOD signal.
type ClassFREModel struct {
	frac      float64
	subspaces map[string]*subspace
	classes   []string
	trained   bool
}

// NewClassFREModel creates a per-class subspace-error sub-model. A
// fraction outside (0,1] falls back to DefaultVarianceFraction.
func NewClassFREModel(fraction float64) *ClassFREModel {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultVarianceFraction
	}
	return &ClassFREModel{frac: fraction}
}

// ScoreNames declares the three per-class error columns in order.
func (m *ClassFREModel) ScoreNames() []string {
	return []string{
		"min_class_fre_score",
		"predicted_class_fre_score",
		"diff_min_and_predicted_class_fre",
	}
}

// Train fits a subspace for each distinct annotated label in the ID
// training data. Every training item must carry an annotated label.
func (m *ClassFREModel) Train(items []*DistributionDataItem) error {
	if len(items) == 0 {
		return fmt.Errorf("no training items")
	}

	byClass := make(map[string][][]float64)
	for _, item := range items {
		if item.AnnotatedLabel == "" {
			return fmt.Errorf("item %q has no annotated label; per-class subspaces need ground truth", item.MediaName)
		}
		byClass[item.AnnotatedLabel] = append(byClass[item.AnnotatedLabel], item.FeatureVector)
	}

	classes := make([]string, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Strings(classes)

	subspaces := make(map[string]*subspace, len(classes))
	for _, label := range classes {
		ss, err := fitSubspace(byClass[label], m.frac)
		if err != nil {
			return fmt.Errorf("fit subspace for class %q: %w", label, err)
		}
		subspaces[label] = ss
	}

	m.subspaces = subspaces
	m.classes = classes
	m.trained = true
	return nil
}

// IsTrained reports whether the class subspaces have been fitted.
func (m *ClassFREModel) IsTrained() bool { return m.trained }

// Classes returns the fitted class labels in sorted order.
func (m *ClassFREModel) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

// Score computes every item's reconstruction error against every class
// subspace and derives the three score columns. An item whose predicted
// label has no fitted subspace takes the maximum class error as its
// predicted-class error: a class the training data never saw is itself
// OOD evidence.
func (m *ClassFREModel) Score(items []*DistributionDataItem) ([]ScoreColumn, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	rows, err := featureRows(items)
	if err != nil {
		return nil, err
	}

	perClass := make(map[string][]float64, len(m.classes))
	for _, label := range m.classes {
		errs, err := m.subspaces[label].reconstructionErrors(rows)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", label, err)
		}
		perClass[label] = errs
	}

	n := len(items)
	minErr := make([]float64, n)
	predErr := make([]float64, n)
	gap := make([]float64, n)

	for i, item := range items {
		min := math.Inf(1)
		max := math.Inf(-1)
		for _, label := range m.classes {
			e := perClass[label][i]
			if e < min {
				min = e
			}
			if e > max {
				max = e
			}
		}
		minErr[i] = min

		if errs, ok := perClass[item.PredictedLabel]; ok {
			predErr[i] = errs[i]
		} else {
			predErr[i] = max
		}
		gap[i] = predErr[i] - minErr[i] + freEpsilon
	}

	return []ScoreColumn{
		{Name: "min_class_fre_score", Values: minErr},
		{Name: "predicted_class_fre_score", Values: predErr},
		{Name: "diff_min_and_predicted_class_fre", Values: gap},
	}, nil
}

var (
	_ SubModel = (*GlobalFREModel)(nil)
	_ SubModel = (*ClassFREModel)(nil)
)
