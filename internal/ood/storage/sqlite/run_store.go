package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TrainingRun is a persisted record of one COOD model construction:
// the split counts, tuning parameters, feature column order, and the
// diagnostic evaluation result.
type TrainingRun struct {
	RunID            string   `json:"run_id"`
	ProjectName      string   `json:"project_name"`
	IDTrainCount     int      `json:"id_train_count"`
	IDTestCount      int      `json:"id_test_count"`
	OODTrainCount    int      `json:"ood_train_count"`
	OODTestCount     int      `json:"ood_test_count"`
	FeatureNames     []string `json:"feature_names"`
	NeighborCount    int      `json:"neighbor_count"`
	VarianceFraction float64  `json:"variance_fraction"`
	TrainRatio       float64  `json:"train_ratio"`
	ForestTrees      int      `json:"forest_trees"`
	Seed             int64    `json:"seed"`
	MeanAccuracy     float64  `json:"mean_accuracy"`
	CreatedAt        int64    `json:"created_at"`
}

// RunStore provides persistence for COOD training runs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a new training run. If RunID is empty, a UUID is
// generated.
func (s *RunStore) Insert(run *TrainingRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.db.clock.Now().UnixNano()
	}

	featureNames, err := json.Marshal(run.FeatureNames)
	if err != nil {
		return fmt.Errorf("marshal feature names: %w", err)
	}

	return s.db.retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ood_training_runs (
				run_id, project_name,
				id_train_count, id_test_count, ood_train_count, ood_test_count,
				feature_names_json, neighbor_count, variance_fraction,
				train_ratio, forest_trees, seed, mean_accuracy, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.ProjectName,
			run.IDTrainCount, run.IDTestCount, run.OODTrainCount, run.OODTestCount,
			string(featureNames), run.NeighborCount, run.VarianceFraction,
			run.TrainRatio, run.ForestTrees, run.Seed, run.MeanAccuracy, run.CreatedAt,
		)
		return err
	})
}

// Get returns a single training run by ID.
func (s *RunStore) Get(runID string) (*TrainingRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, project_name,
		       id_train_count, id_test_count, ood_train_count, ood_test_count,
		       feature_names_json, neighbor_count, variance_fraction,
		       train_ratio, forest_trees, seed, mean_accuracy, created_at
		FROM ood_training_runs
		WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("training run %s not found", runID)
	}
	return run, err
}

// ListByProject returns all runs for a project, newest first.
func (s *RunStore) ListByProject(projectName string) ([]*TrainingRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, project_name,
		       id_train_count, id_test_count, ood_train_count, ood_test_count,
		       feature_names_json, neighbor_count, variance_fraction,
		       train_ratio, forest_trees, seed, mean_accuracy, created_at
		FROM ood_training_runs
		WHERE project_name = ?
		ORDER BY created_at DESC`, projectName)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	var runs []*TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*TrainingRun, error) {
	var run TrainingRun
	var featureNames string
	err := row.Scan(
		&run.RunID, &run.ProjectName,
		&run.IDTrainCount, &run.IDTestCount, &run.OODTrainCount, &run.OODTestCount,
		&featureNames, &run.NeighborCount, &run.VarianceFraction,
		&run.TrainRatio, &run.ForestTrees, &run.Seed, &run.MeanAccuracy, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(featureNames), &run.FeatureNames); err != nil {
		return nil, fmt.Errorf("parse feature names for run %s: %w", run.RunID, err)
	}
	return &run, nil
}
