package ood

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotTrained is returned when a sub-model is scored before training.
var ErrNotTrained = errors.New("sub-model is not trained")

// ScoreColumn is one named score array produced by a sub-model, with one
// value per scored item. Columns are always carried in slices, never
// maps, so feature order is an explicit contract.
type ScoreColumn struct {
	Name   string
	Values []float64
}

// SubModel is the contract shared by all weak OOD detectors. A sub-model
// is untrained at construction, trained exactly once on in-distribution
// training items, and reusable for unlimited Score calls afterwards.
// Retraining overwrites fitted state.
type SubModel interface {
	// Train fits the model's internal parameters on ID training items.
	Train(items []*DistributionDataItem) error

	// Score computes the model's named score columns for the given
	// items, in the order declared by ScoreNames. Calling Score on an
	// untrained model returns ErrNotTrained.
	Score(items []*DistributionDataItem) ([]ScoreColumn, error)

	// ScoreNames declares the columns Score emits, in emission order.
	// Names are stable for the lifetime of the model and must be unique
	// across all registered sub-models.
	ScoreNames() []string

	// IsTrained reports whether Train has completed.
	IsTrained() bool
}

type registryEntry struct {
	name  string
	model SubModel
}

// Registry holds sub-models in an explicit registration order. Feature
// column order is derived from registration order plus each model's
// declared score order, and is therefore identical between training and
// every later inference call.
type Registry struct {
	entries []registryEntry
	byName  map[string]struct{}
	columns map[string]struct{}
}

// NewRegistry creates an empty sub-model registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]struct{}),
		columns: make(map[string]struct{}),
	}
}

// Register appends a sub-model. Duplicate model names or score column
// names are rejected: columns become feature-matrix columns and must be
// globally unique.
func (r *Registry) Register(name string, m SubModel) error {
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("sub-model %q already registered", name)
	}
	for _, col := range m.ScoreNames() {
		if _, dup := r.columns[col]; dup {
			return fmt.Errorf("sub-model %q: score column %q already registered", name, col)
		}
	}
	r.byName[name] = struct{}{}
	for _, col := range m.ScoreNames() {
		r.columns[col] = struct{}{}
	}
	r.entries = append(r.entries, registryEntry{name: name, model: m})
	return nil
}

// Names returns the registered sub-model names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// FeatureNames returns the full feature column order: registration order
// of sub-models, then each model's declared score order.
func (r *Registry) FeatureNames() []string {
	var names []string
	for _, e := range r.entries {
		names = append(names, e.model.ScoreNames()...)
	}
	return names
}

// TrainAll trains every registered sub-model on the given ID training
// items. Models are independent, so they train concurrently; the first
// error aborts the result.
func (r *Registry) TrainAll(items []*DistributionDataItem) error {
	var wg sync.WaitGroup
	errs := make([]error, len(r.entries))
	for i, e := range r.entries {
		wg.Add(1)
		go func(i int, e registryEntry) {
			defer wg.Done()
			if err := e.model.Train(items); err != nil {
				errs[i] = fmt.Errorf("train sub-model %q: %w", e.name, err)
			}
		}(i, e)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ScoreAll runs every sub-model's Score over the items and concatenates
// the resulting columns in registry order. Scoring is concurrent per
// sub-model; column order in the result is unaffected by scheduling.
func (r *Registry) ScoreAll(items []*DistributionDataItem) ([]ScoreColumn, error) {
	var wg sync.WaitGroup
	perModel := make([][]ScoreColumn, len(r.entries))
	errs := make([]error, len(r.entries))
	for i, e := range r.entries {
		wg.Add(1)
		go func(i int, e registryEntry) {
			defer wg.Done()
			cols, err := e.model.Score(items)
			if err != nil {
				errs[i] = fmt.Errorf("score sub-model %q: %w", e.name, err)
				return
			}
			perModel[i] = cols
		}(i, e)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var all []ScoreColumn
	for _, cols := range perModel {
		all = append(all, cols...)
	}
	return all, nil
}
