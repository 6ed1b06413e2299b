package ood

// MaxProbabilityModel is the maximum-softmax-probability baseline: a
// lower top-1 probability correlates with the input being OOD. It has
// no parameters to fit, so it is trained from construction; Train is a
// no-op kept for the SubModel contract.
type MaxProbabilityModel struct{}

// NewMaxProbabilityModel creates the MSP baseline sub-model.
func NewMaxProbabilityModel() *MaxProbabilityModel {
	return &MaxProbabilityModel{}
}

// ScoreNames declares the single MSP column.
func (m *MaxProbabilityModel) ScoreNames() []string {
	return []string{"max_softmax_probability"}
}

// Train is a no-op; the baseline has no fitted state.
func (m *MaxProbabilityModel) Train(items []*DistributionDataItem) error {
	return nil
}

// IsTrained always reports true.
func (m *MaxProbabilityModel) IsTrained() bool { return true }

// Score emits each item's top-1 probability. The sign of the signal is
// left to the meta-classifier.
func (m *MaxProbabilityModel) Score(items []*DistributionDataItem) ([]ScoreColumn, error) {
	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = item.TopProbability
	}
	return []ScoreColumn{{Name: "max_softmax_probability", Values: values}}, nil
}

var _ SubModel = (*MaxProbabilityModel)(nil)
