package ood

import (
	"fmt"
	"math"
)

// Purpose marks which split a DistributionDataItem belongs to.
type Purpose string

const (
	// PurposeUnset indicates the item has not been assigned to a split yet.
	PurposeUnset Purpose = ""
	// PurposeTrain indicates the item belongs to the training split.
	PurposeTrain Purpose = "train"
	// PurposeTest indicates the item belongs to the test split.
	PurposeTest Purpose = "test"
)

// ScoredLabel is one entry of a prediction's ranked label list.
type ScoredLabel struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// Prediction is the output of an inference engine for a single image:
// a probability-ranked label list plus, when the engine has an embedding
// head, the dense feature vector used internally by the model.
type Prediction struct {
	Labels        []ScoredLabel `json:"labels"`
	FeatureVector []float64     `json:"feature_vector,omitempty"`
}

// TopLabel returns the highest-ranked label of the prediction.
func (p *Prediction) TopLabel() (ScoredLabel, bool) {
	if len(p.Labels) == 0 {
		return ScoredLabel{}, false
	}
	return p.Labels[0], true
}

// DistributionDataItem is the normalized record every OOD sub-model
// operates on. It is immutable after construction except for Purpose,
// which the orchestrator stamps exactly once when splitting.
type DistributionDataItem struct {
	MediaName      string
	FeatureVector  []float64
	PredictedLabel string
	TopProbability float64
	AnnotatedLabel string
	Purpose        Purpose

	normalized bool
}

// NewDistributionDataItem builds an item from a raw prediction. The
// feature vector is copied and, when normalize is set, divided by its
// L2 norm. A prediction without a feature vector or ranked labels, or
// with a zero-norm feature vector, is rejected.
func NewDistributionDataItem(pred *Prediction, mediaName, annotatedLabel string, normalize bool) (*DistributionDataItem, error) {
	if pred == nil {
		return nil, fmt.Errorf("nil prediction for media %q", mediaName)
	}
	top, ok := pred.TopLabel()
	if !ok {
		return nil, fmt.Errorf("prediction for media %q has no labels", mediaName)
	}
	if len(pred.FeatureVector) == 0 {
		return nil, fmt.Errorf("prediction for media %q has no feature vector (engine must have an embedding head)", mediaName)
	}

	fv := make([]float64, len(pred.FeatureVector))
	copy(fv, pred.FeatureVector)

	if normalize {
		norm := l2Norm(fv)
		if norm == 0 {
			return nil, fmt.Errorf("zero-norm feature vector for media %q", mediaName)
		}
		for i := range fv {
			fv[i] /= norm
		}
	}

	return &DistributionDataItem{
		MediaName:      mediaName,
		FeatureVector:  fv,
		PredictedLabel: top.Name,
		TopProbability: top.Probability,
		AnnotatedLabel: annotatedLabel,
		normalized:     normalize,
	}, nil
}

// IsNormalized reports whether the feature vector was L2-normalized at
// construction.
func (d *DistributionDataItem) IsNormalized() bool {
	return d.normalized
}

// Dim returns the dimensionality of the feature vector.
func (d *DistributionDataItem) Dim() int {
	return len(d.FeatureVector)
}

func l2Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// featureRows collects the feature vectors of items into a row matrix,
// verifying that all items share one dimensionality.
func featureRows(items []*DistributionDataItem) ([][]float64, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no items")
	}
	dim := items[0].Dim()
	rows := make([][]float64, len(items))
	for i, item := range items {
		if item.Dim() != dim {
			return nil, fmt.Errorf("item %q has dimension %d, want %d", item.MediaName, item.Dim(), dim)
		}
		rows[i] = item.FeatureVector
	}
	return rows, nil
}
