package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for OOD model tuning
// parameters. Pointer fields distinguish "unset" from zero values so a
// partial JSON file can overlay defaults without clobbering them.
type TuningConfig struct {
	// Sub-model params
	KNNNeighborCount    *int     `json:"knn_k,omitempty"`
	PCAVarianceFraction *float64 `json:"pca_variance_fraction,omitempty"`

	// Split and classifier params
	TrainSplitRatio *float64 `json:"train_split_ratio,omitempty"`
	ForestTrees     *int     `json:"forest_trees,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`

	// Synthetic OOD generation params
	CutoutFraction *float64 `json:"cutout_fraction,omitempty"`

	// Dataset selection
	IDDatasetNames  []string `json:"id_dataset_names,omitempty"`
	OODDatasetNames []string `json:"ood_dataset_names,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.KNNNeighborCount != nil && *c.KNNNeighborCount < 2 {
		return fmt.Errorf("knn_k must be at least 2, got %d", *c.KNNNeighborCount)
	}
	if c.PCAVarianceFraction != nil {
		if *c.PCAVarianceFraction <= 0 || *c.PCAVarianceFraction > 1 {
			return fmt.Errorf("pca_variance_fraction must be in (0, 1], got %f", *c.PCAVarianceFraction)
		}
	}
	if c.TrainSplitRatio != nil {
		if *c.TrainSplitRatio <= 0 || *c.TrainSplitRatio >= 1 {
			return fmt.Errorf("train_split_ratio must be in (0, 1), got %f", *c.TrainSplitRatio)
		}
	}
	if c.ForestTrees != nil && *c.ForestTrees < 1 {
		return fmt.Errorf("forest_trees must be positive, got %d", *c.ForestTrees)
	}
	if c.CutoutFraction != nil {
		if *c.CutoutFraction <= 0 || *c.CutoutFraction > 1 {
			return fmt.Errorf("cutout_fraction must be in (0, 1], got %f", *c.CutoutFraction)
		}
	}
	return nil
}

// Merge overlays the non-nil fields of other onto a copy of c and
// returns the copy. Neither receiver nor argument is modified.
func (c *TuningConfig) Merge(other *TuningConfig) *TuningConfig {
	merged := *c
	if other == nil {
		return &merged
	}
	if other.KNNNeighborCount != nil {
		merged.KNNNeighborCount = other.KNNNeighborCount
	}
	if other.PCAVarianceFraction != nil {
		merged.PCAVarianceFraction = other.PCAVarianceFraction
	}
	if other.TrainSplitRatio != nil {
		merged.TrainSplitRatio = other.TrainSplitRatio
	}
	if other.ForestTrees != nil {
		merged.ForestTrees = other.ForestTrees
	}
	if other.Seed != nil {
		merged.Seed = other.Seed
	}
	if other.CutoutFraction != nil {
		merged.CutoutFraction = other.CutoutFraction
	}
	if len(other.IDDatasetNames) > 0 {
		merged.IDDatasetNames = other.IDDatasetNames
	}
	if len(other.OODDatasetNames) > 0 {
		merged.OODDatasetNames = other.OODDatasetNames
	}
	return &merged
}

// GetKNNNeighborCount returns the knn_k value or the default.
func (c *TuningConfig) GetKNNNeighborCount() int {
	if c.KNNNeighborCount == nil {
		return 10
	}
	return *c.KNNNeighborCount
}

// GetPCAVarianceFraction returns the pca_variance_fraction value or the default.
func (c *TuningConfig) GetPCAVarianceFraction() float64 {
	if c.PCAVarianceFraction == nil {
		return 0.995
	}
	return *c.PCAVarianceFraction
}

// GetTrainSplitRatio returns the train_split_ratio value or the default.
func (c *TuningConfig) GetTrainSplitRatio() float64 {
	if c.TrainSplitRatio == nil {
		return 0.9
	}
	return *c.TrainSplitRatio
}

// GetForestTrees returns the forest_trees value or the default.
func (c *TuningConfig) GetForestTrees() int {
	if c.ForestTrees == nil {
		return 100
	}
	return *c.ForestTrees
}

// GetSeed returns the seed value or the default.
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetCutoutFraction returns the cutout_fraction value or the default.
func (c *TuningConfig) GetCutoutFraction() float64 {
	if c.CutoutFraction == nil {
		return 0.5
	}
	return *c.CutoutFraction
}

// GetIDDatasetNames returns the id_dataset_names value or the default.
func (c *TuningConfig) GetIDDatasetNames() []string {
	if len(c.IDDatasetNames) == 0 {
		return []string{"Dataset"}
	}
	return c.IDDatasetNames
}

// GetOODDatasetNames returns the ood_dataset_names value or the default.
func (c *TuningConfig) GetOODDatasetNames() []string {
	if len(c.OODDatasetNames) == 0 {
		return []string{"OOD reference dataset"}
	}
	return c.OODDatasetNames
}
