package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// All fields nil: getters fall back to defaults
	if cfg.GetKNNNeighborCount() != 10 {
		t.Errorf("GetKNNNeighborCount() = %d, want 10", cfg.GetKNNNeighborCount())
	}
	if cfg.GetPCAVarianceFraction() != 0.995 {
		t.Errorf("GetPCAVarianceFraction() = %f, want 0.995", cfg.GetPCAVarianceFraction())
	}
	if cfg.GetTrainSplitRatio() != 0.9 {
		t.Errorf("GetTrainSplitRatio() = %f, want 0.9", cfg.GetTrainSplitRatio())
	}
	if cfg.GetForestTrees() != 100 {
		t.Errorf("GetForestTrees() = %d, want 100", cfg.GetForestTrees())
	}
	if cfg.GetSeed() != 1 {
		t.Errorf("GetSeed() = %d, want 1", cfg.GetSeed())
	}
	if cfg.GetCutoutFraction() != 0.5 {
		t.Errorf("GetCutoutFraction() = %f, want 0.5", cfg.GetCutoutFraction())
	}
	if names := cfg.GetIDDatasetNames(); len(names) != 1 || names[0] != "Dataset" {
		t.Errorf("GetIDDatasetNames() = %v, want [Dataset]", names)
	}
	if names := cfg.GetOODDatasetNames(); len(names) != 1 || names[0] != "OOD reference dataset" {
		t.Errorf("GetOODDatasetNames() = %v, want [OOD reference dataset]", names)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "knn_k": 5,
  "pca_variance_fraction": 0.99,
  "train_split_ratio": 0.8,
  "forest_trees": 50,
  "seed": 42,
  "cutout_fraction": 0.25,
  "id_dataset_names": ["training set"],
  "ood_dataset_names": ["outliers"]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.KNNNeighborCount == nil || *cfg.KNNNeighborCount != 5 {
		t.Errorf("Expected KNNNeighborCount 5, got %v", cfg.KNNNeighborCount)
	}
	if cfg.PCAVarianceFraction == nil || *cfg.PCAVarianceFraction != 0.99 {
		t.Errorf("Expected PCAVarianceFraction 0.99, got %v", cfg.PCAVarianceFraction)
	}
	if cfg.TrainSplitRatio == nil || *cfg.TrainSplitRatio != 0.8 {
		t.Errorf("Expected TrainSplitRatio 0.8, got %v", cfg.TrainSplitRatio)
	}
	if cfg.ForestTrees == nil || *cfg.ForestTrees != 50 {
		t.Errorf("Expected ForestTrees 50, got %v", cfg.ForestTrees)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("Expected Seed 42, got %v", cfg.Seed)
	}
	if cfg.CutoutFraction == nil || *cfg.CutoutFraction != 0.25 {
		t.Errorf("Expected CutoutFraction 0.25, got %v", cfg.CutoutFraction)
	}
	if len(cfg.IDDatasetNames) != 1 || cfg.IDDatasetNames[0] != "training set" {
		t.Errorf("Expected IDDatasetNames [training set], got %v", cfg.IDDatasetNames)
	}
	if len(cfg.OODDatasetNames) != 1 || cfg.OODDatasetNames[0] != "outliers" {
		t.Errorf("Expected OODDatasetNames [outliers], got %v", cfg.OODDatasetNames)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	// Only one field set; everything else falls back to defaults
	if err := os.WriteFile(configPath, []byte(`{"forest_trees": 25}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetForestTrees() != 25 {
		t.Errorf("GetForestTrees() = %d, want 25", cfg.GetForestTrees())
	}
	if cfg.GetKNNNeighborCount() != 10 {
		t.Errorf("GetKNNNeighborCount() = %d, want default 10", cfg.GetKNNNeighborCount())
	}
	if cfg.GetTrainSplitRatio() != 0.9 {
		t.Errorf("GetTrainSplitRatio() = %f, want default 0.9", cfg.GetTrainSplitRatio())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "knn_k": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     EmptyTuningConfig(),
			wantErr: false,
		},
		{
			name:    "valid values",
			cfg:     &TuningConfig{KNNNeighborCount: ptrInt(10), PCAVarianceFraction: ptrFloat64(0.995), TrainSplitRatio: ptrFloat64(0.9)},
			wantErr: false,
		},
		{
			name:    "knn_k too small",
			cfg:     &TuningConfig{KNNNeighborCount: ptrInt(1)},
			wantErr: true,
		},
		{
			name:    "variance fraction above one",
			cfg:     &TuningConfig{PCAVarianceFraction: ptrFloat64(1.5)},
			wantErr: true,
		},
		{
			name:    "variance fraction zero",
			cfg:     &TuningConfig{PCAVarianceFraction: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "split ratio of exactly one",
			cfg:     &TuningConfig{TrainSplitRatio: ptrFloat64(1.0)},
			wantErr: true,
		},
		{
			name:    "negative forest trees",
			cfg:     &TuningConfig{ForestTrees: ptrInt(-5)},
			wantErr: true,
		},
		{
			name:    "cutout fraction above one",
			cfg:     &TuningConfig{CutoutFraction: ptrFloat64(1.1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := &TuningConfig{
		KNNNeighborCount: ptrInt(10),
		TrainSplitRatio:  ptrFloat64(0.9),
		Seed:             ptrInt64(1),
	}
	overlay := &TuningConfig{
		KNNNeighborCount: ptrInt(5),
		ForestTrees:      ptrInt(50),
	}

	merged := base.Merge(overlay)

	if merged.GetKNNNeighborCount() != 5 {
		t.Errorf("merged knn_k = %d, want overlay value 5", merged.GetKNNNeighborCount())
	}
	if merged.GetForestTrees() != 50 {
		t.Errorf("merged forest_trees = %d, want overlay value 50", merged.GetForestTrees())
	}
	if merged.GetTrainSplitRatio() != 0.9 {
		t.Errorf("merged train_split_ratio = %f, want base value 0.9", merged.GetTrainSplitRatio())
	}
	if merged.GetSeed() != 1 {
		t.Errorf("merged seed = %d, want base value 1", merged.GetSeed())
	}

	// Base untouched
	if *base.KNNNeighborCount != 10 {
		t.Errorf("base knn_k mutated to %d", *base.KNNNeighborCount)
	}

	// Nil overlay returns a copy of base
	copied := base.Merge(nil)
	if copied.GetKNNNeighborCount() != 10 {
		t.Errorf("nil merge knn_k = %d, want 10", copied.GetKNNNeighborCount())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetKNNNeighborCount() != 10 {
		t.Errorf("defaults file knn_k = %d, want 10", cfg.GetKNNNeighborCount())
	}
	if cfg.GetForestTrees() != 100 {
		t.Errorf("defaults file forest_trees = %d, want 100", cfg.GetForestTrees())
	}
}
