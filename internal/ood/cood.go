// Package ood implements Combined Out-of-Distribution (COOD) detection
// for single-task classification models: an ensemble of weak OOD
// signals (nearest-neighbour statistics, global and per-class subspace
// reconstruction errors, maximum softmax probability) combined into one
// calibrated OOD probability by a random-forest meta-classifier.
package ood

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/banshee-data/drift.report/internal/monitoring"
	"github.com/banshee-data/drift.report/internal/ood/corrupt"
	"github.com/banshee-data/drift.report/internal/ood/forest"
)

// ErrNotReady is returned when Score is called before the model reached
// the Ready state.
var ErrNotReady = errors.New("cood model is not ready")

// State tracks the orchestrator's construction pipeline. All
// transitions happen once, synchronously, inside NewCOODModel; any
// failure aborts before StateReady.
type State string

const (
	// StateDataPrepared means ID and OOD items have been acquired and split.
	StateDataPrepared State = "data_prepared"
	// StateSubModelsTrained means every sub-model fitted on ID training items.
	StateSubModelsTrained State = "sub_models_trained"
	// StateClassifierTrained means the meta-classifier is fitted.
	StateClassifierTrained State = "classifier_trained"
	// StateEvaluated means test-split accuracy has been measured.
	StateEvaluated State = "evaluated"
	// StateReady means the model accepts Score calls.
	StateReady State = "ready"
)

// Default source names matched against project media sources.
var (
	// DefaultIDSourceNames are the source names treated as
	// in-distribution reference data.
	DefaultIDSourceNames = []string{"Dataset"}
	// DefaultOODSourceNames are the source names treated as
	// out-of-distribution reference data.
	DefaultOODSourceNames = []string{"OOD reference dataset"}
)

// Config parameterizes COOD model construction.
type Config struct {
	// Project supplies metadata and media sources. The project must be
	// a single-task classification project.
	Project Project

	// Engine scores images through the trained model. It must have an
	// embedding head.
	Engine Engine

	// OODSource, when set, supplies user-provided OOD reference images
	// and takes precedence over project OOD sources and synthetic
	// generation.
	OODSource MediaSource

	// Corruption generates synthetic near-OOD images when no OOD
	// source exists. Nil means a seeded Cutout transform.
	Corruption corrupt.Transform

	// IDSourceNames and OODSourceNames override the default source
	// name lists.
	IDSourceNames  []string
	OODSourceNames []string

	// NeighborCount is k for the k-NN sub-model (default 10).
	NeighborCount int
	// VarianceFraction is the retained PCA variance (default 0.995).
	VarianceFraction float64
	// TrainRatio is the TRAIN split fraction (default 0.90).
	TrainRatio float64
	// ForestTrees is the meta-classifier ensemble size (default 100).
	ForestTrees int
	// Seed drives every random choice (splits, bootstrap, corruption
	// placement) for reproducible construction.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.NeighborCount <= 0 {
		c.NeighborCount = DefaultNeighborCount
	}
	if c.VarianceFraction <= 0 || c.VarianceFraction > 1 {
		c.VarianceFraction = DefaultVarianceFraction
	}
	if c.TrainRatio <= 0 || c.TrainRatio >= 1 {
		c.TrainRatio = DefaultTrainRatio
	}
	if c.ForestTrees <= 0 {
		c.ForestTrees = forest.DefaultTrees
	}
	if len(c.IDSourceNames) == 0 {
		c.IDSourceNames = DefaultIDSourceNames
	}
	if len(c.OODSourceNames) == 0 {
		c.OODSourceNames = DefaultOODSourceNames
	}
	return c
}

// EvalResult is the diagnostic evaluation of a trained COOD model on
// its test split.
type EvalResult struct {
	MeanAccuracy float64 `json:"mean_accuracy"`
}

// Diagnostics is a read-only snapshot of the trained model's test-split
// COOD probabilities, used by the monitor for score distribution
// charts.
type Diagnostics struct {
	IDTestProbabilities  []float64
	OODTestProbabilities []float64
}

// COODModel owns the ID/OOD item collections, the ordered sub-model
// registry, and the fitted meta-classifier. It is built once per
// project/engine pair by NewCOODModel and is read-only afterwards;
// concurrent Score calls are safe.
type COODModel struct {
	cfg        Config
	state      State
	registry   *Registry
	classifier *forest.Classifier

	featureNames []string

	idPartition  Partition
	oodPartition Partition

	eval EvalResult
	diag Diagnostics
}

// NewCOODModel runs the full construction pipeline: data preparation,
// splitting, sub-model training, feature aggregation, meta-classifier
// training, and evaluation. Any precondition failure (no ID source, bad
// project shape, engine without an embedding head) aborts before
// training starts.
func NewCOODModel(cfg Config) (*COODModel, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Project.checkFit(); err != nil {
		return nil, err
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("project %q: no inference engine configured", cfg.Project.Name)
	}
	if !cfg.Engine.HasEmbeddingHead() {
		return nil, fmt.Errorf("project %q: engine has no embedding head; COOD needs feature vectors", cfg.Project.Name)
	}

	m := &COODModel{cfg: cfg}
	monitoring.Logf("building COOD model for project %q", cfg.Project.Name)

	rng := rand.New(rand.NewSource(cfg.Seed))

	idItems, oodItems, err := m.prepareData(rng)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("prepared %d ID and %d OOD samples", len(idItems), len(oodItems))

	m.idPartition, err = StratifiedSplit(idItems, cfg.TrainRatio, rng)
	if err != nil {
		return nil, fmt.Errorf("split ID data: %w", err)
	}
	m.oodPartition, err = RandomSplit(oodItems, cfg.TrainRatio, rng)
	if err != nil {
		return nil, fmt.Errorf("split OOD data: %w", err)
	}
	m.state = StateDataPrepared

	m.registry = NewRegistry()
	for _, reg := range []struct {
		name  string
		model SubModel
	}{
		{"knn_based", NewKNNModel(cfg.NeighborCount)},
		{"class_fre", NewClassFREModel(cfg.VarianceFraction)},
		{"global_fre", NewGlobalFREModel(cfg.VarianceFraction)},
		{"max_softmax_probability", NewMaxProbabilityModel()},
	} {
		if err := m.registry.Register(reg.name, reg.model); err != nil {
			return nil, err
		}
	}
	m.featureNames = m.registry.FeatureNames()

	// Only ID training items fit the weak detectors; OOD examples are
	// seen by the meta-classifier alone.
	if err := m.registry.TrainAll(m.idPartition.Train); err != nil {
		return nil, err
	}
	m.state = StateSubModelsTrained
	monitoring.Logf("trained %d sub-models on %d ID training items",
		len(m.registry.Names()), len(m.idPartition.Train))

	if err := m.trainClassifier(); err != nil {
		return nil, err
	}
	m.state = StateClassifierTrained

	if err := m.evaluate(); err != nil {
		return nil, err
	}
	m.state = StateEvaluated
	monitoring.Logf("COOD model mean accuracy on test data: %.4f", m.eval.MeanAccuracy)

	m.state = StateReady
	return m, nil
}

// prepareData acquires ID items from the designated reference sources
// and OOD items in preference order: user-supplied source, project OOD
// sources, synthetic generation by corrupting ID images.
func (m *COODModel) prepareData(rng *rand.Rand) (idItems, oodItems []*DistributionDataItem, err error) {
	idSources := m.cfg.Project.sourcesNamed(m.cfg.IDSourceNames)
	if len(idSources) == 0 {
		return nil, nil, fmt.Errorf("project %q has no in-distribution source; expected one of %v",
			m.cfg.Project.Name, m.cfg.IDSourceNames)
	}

	var idMedia []Media
	for _, src := range idSources {
		monitoring.Logf("extracting ID data from source %q", src.Name())
		media, err := src.Media()
		if err != nil {
			return nil, nil, fmt.Errorf("read ID source %q: %w", src.Name(), err)
		}
		idMedia = append(idMedia, media...)
		for _, md := range media {
			item, err := m.itemFromMedia(md)
			if err != nil {
				return nil, nil, err
			}
			idItems = append(idItems, item)
		}
	}

	switch {
	case m.cfg.OODSource != nil:
		monitoring.Logf("extracting OOD data from provided source %q", m.cfg.OODSource.Name())
		oodItems, err = m.itemsFromSource(m.cfg.OODSource)
		if err != nil {
			return nil, nil, err
		}
	default:
		oodSources := m.cfg.Project.sourcesNamed(m.cfg.OODSourceNames)
		if len(oodSources) > 0 {
			for _, src := range oodSources {
				monitoring.Logf("extracting OOD data from source %q", src.Name())
				items, err := m.itemsFromSource(src)
				if err != nil {
					return nil, nil, err
				}
				oodItems = append(oodItems, items...)
			}
			break
		}

		monitoring.Logf("no OOD source found; generating near-OOD images by corrupting ID images")
		transform := m.cfg.Corruption
		if transform == nil {
			transform = corrupt.NewCutout(corrupt.DefaultCutoutFraction, rng)
		}
		for _, md := range idMedia {
			if md.Image == nil {
				return nil, nil, fmt.Errorf("ID media %q has no pixel data; cannot generate synthetic OOD images", md.Name)
			}
			corrupted := Media{Name: md.Name + "_ood", Image: transform.Apply(md.Image)}
			pred, err := m.cfg.Engine.Explain(corrupted)
			if err != nil {
				return nil, nil, fmt.Errorf("score corrupted image %q: %w", md.Name, err)
			}
			item, err := NewDistributionDataItem(pred, corrupted.Name, "", true)
			if err != nil {
				return nil, nil, err
			}
			oodItems = append(oodItems, item)
		}
	}

	if len(oodItems) == 0 {
		return nil, nil, fmt.Errorf("no out-of-distribution samples could be prepared")
	}
	return idItems, oodItems, nil
}

func (m *COODModel) itemsFromSource(src MediaSource) ([]*DistributionDataItem, error) {
	media, err := src.Media()
	if err != nil {
		return nil, fmt.Errorf("read source %q: %w", src.Name(), err)
	}
	items := make([]*DistributionDataItem, 0, len(media))
	for _, md := range media {
		item, err := m.itemFromMedia(md)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *COODModel) itemFromMedia(md Media) (*DistributionDataItem, error) {
	pred, err := m.cfg.Engine.Explain(md)
	if err != nil {
		return nil, fmt.Errorf("infer media %q: %w", md.Name, err)
	}
	return NewDistributionDataItem(pred, md.Name, md.AnnotatedLabel, true)
}

// trainClassifier aggregates sub-model scores over the TRAIN items (ID
// label 0, OOD label 1) and fits the random-forest meta-classifier.
func (m *COODModel) trainClassifier() error {
	features, labels, err := m.aggregate(m.idPartition.Train, m.oodPartition.Train)
	if err != nil {
		return fmt.Errorf("aggregate training features: %w", err)
	}

	clf, err := forest.Train(features, labels, forest.Config{
		Trees: m.cfg.ForestTrees,
		Seed:  m.cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("train meta-classifier: %w", err)
	}
	m.classifier = clf
	return nil
}

// evaluate repeats aggregation on the TEST items and records the
// classifier's mean accuracy plus per-item probabilities for
// diagnostics.
func (m *COODModel) evaluate() error {
	features, labels, err := m.aggregate(m.idPartition.Test, m.oodPartition.Test)
	if err != nil {
		return fmt.Errorf("aggregate test features: %w", err)
	}

	acc, err := m.classifier.MeanAccuracy(features, labels)
	if err != nil {
		return fmt.Errorf("evaluate meta-classifier: %w", err)
	}
	m.eval = EvalResult{MeanAccuracy: acc}

	for i, row := range features {
		p, err := m.classifier.PredictProba(row)
		if err != nil {
			return err
		}
		if labels[i] == 0 {
			m.diag.IDTestProbabilities = append(m.diag.IDTestProbabilities, p[1])
		} else {
			m.diag.OODTestProbabilities = append(m.diag.OODTestProbabilities, p[1])
		}
	}
	return nil
}

// aggregate scores ID then OOD items through every sub-model and
// assembles the fixed-order feature matrix with labels 0 (ID) and 1
// (OOD).
func (m *COODModel) aggregate(idItems, oodItems []*DistributionDataItem) ([][]float64, []int, error) {
	all := make([]*DistributionDataItem, 0, len(idItems)+len(oodItems))
	all = append(all, idItems...)
	all = append(all, oodItems...)

	cols, err := m.registry.ScoreAll(all)
	if err != nil {
		return nil, nil, err
	}
	features, err := featureMatrix(cols)
	if err != nil {
		return nil, nil, err
	}

	labels := make([]int, len(all))
	for i := len(idItems); i < len(all); i++ {
		labels[i] = 1
	}
	return features, labels, nil
}

// Score wraps a prediction into a single item, runs every sub-model,
// and returns the meta-classifier's probability that the input is OOD.
func (m *COODModel) Score(pred *Prediction) (float64, error) {
	if m.state != StateReady {
		return 0, fmt.Errorf("%w (state %q)", ErrNotReady, m.state)
	}

	item, err := NewDistributionDataItem(pred, "sample", "", true)
	if err != nil {
		return 0, err
	}

	cols, err := m.registry.ScoreAll([]*DistributionDataItem{item})
	if err != nil {
		return 0, err
	}
	features, err := featureMatrix(cols)
	if err != nil {
		return 0, err
	}

	p, err := m.classifier.PredictProba(features[0])
	if err != nil {
		return 0, err
	}
	return p[1], nil
}

// State returns the pipeline state.
func (m *COODModel) State() State { return m.state }

// Evaluation returns the test-split diagnostic result.
func (m *COODModel) Evaluation() EvalResult { return m.eval }

// Diagnostics returns the test-split probability snapshot.
func (m *COODModel) Diagnostics() Diagnostics { return m.diag }

// FeatureNames returns the feature column order contract.
func (m *COODModel) FeatureNames() []string {
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

// SubModelNames returns the registered sub-model names in order.
func (m *COODModel) SubModelNames() []string { return m.registry.Names() }

// Counts returns the per-split item counts (ID train/test, OOD
// train/test).
func (m *COODModel) Counts() (idTrain, idTest, oodTrain, oodTest int) {
	return len(m.idPartition.Train), len(m.idPartition.Test),
		len(m.oodPartition.Train), len(m.oodPartition.Test)
}
