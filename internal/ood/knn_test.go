package ood

import (
	"errors"
	"math"
	"testing"
)

func knnItem(name, label string, v ...float64) *DistributionDataItem {
	return &DistributionDataItem{MediaName: name, FeatureVector: v, AnnotatedLabel: label}
}

func TestKNNModelDefaults(t *testing.T) {
	if k := NewKNNModel(0).K(); k != DefaultNeighborCount {
		t.Errorf("K() = %d, want default %d", k, DefaultNeighborCount)
	}
	if k := NewKNNModel(1).K(); k != DefaultNeighborCount {
		t.Errorf("K() = %d, want default %d", k, DefaultNeighborCount)
	}
	if k := NewKNNModel(3).K(); k != 3 {
		t.Errorf("K() = %d, want 3", k)
	}
}

func TestKNNModelScoresTrainingPoint(t *testing.T) {
	m := NewKNNModel(3)

	train := []*DistributionDataItem{
		knnItem("a", "cat", 0, 0),
		knnItem("b", "cat", 1, 0),
		knnItem("c", "dog", 0, 2),
		knnItem("d", "dog", 5, 5),
	}
	if err := m.Train(train); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if !m.IsTrained() {
		t.Fatal("expected trained model")
	}

	// Score the first training point itself. Slot 0 is the self-match
	// at distance 0 and is excluded from nn and average distances.
	cols, err := m.Score(train[:1])
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	byName := make(map[string]float64)
	for _, col := range cols {
		byName[col.Name] = col.Values[0]
	}

	// Squared distances from (0,0): b=1, c=4, d=50. k=3 neighbours are
	// self, b, c.
	if got := byName["nn_distance"]; got != 1 {
		t.Errorf("nn_distance = %f, want 1", got)
	}
	if got := byName["knn_distance"]; got != 4 {
		t.Errorf("knn_distance = %f, want 4", got)
	}
	if got := byName["average_nn_distance"]; got != 2.5 {
		t.Errorf("average_nn_distance = %f, want 2.5", got)
	}

	// Neighbour labels are cat, cat, dog: entropy is strictly between
	// the shifted bounds 1 and 2.
	entropy := byName["entropy_score"]
	if entropy <= 1 || entropy >= 2 {
		t.Errorf("entropy_score = %f, want in (1,2)", entropy)
	}

	if got, want := byName["enwedi_score"], 2.5*entropy; math.Abs(got-want) > 1e-12 {
		t.Errorf("enwedi_score = %f, want %f", got, want)
	}
	if got, want := byName["enwedi_nn_score"], 1*entropy; math.Abs(got-want) > 1e-12 {
		t.Errorf("enwedi_nn_score = %f, want %f", got, want)
	}
}

func TestKNNModelDistantQueryScoresHigher(t *testing.T) {
	m := NewKNNModel(3)
	train := []*DistributionDataItem{
		knnItem("a", "cat", 0, 0),
		knnItem("b", "cat", 0.1, 0),
		knnItem("c", "cat", 0, 0.1),
		knnItem("d", "cat", 0.1, 0.1),
	}
	if err := m.Train(train); err != nil {
		t.Fatalf("Train: %v", err)
	}

	near := knnItem("near", "", 0.05, 0.05)
	far := knnItem("far", "", 10, 10)
	cols, err := m.Score([]*DistributionDataItem{near, far})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	for _, col := range cols {
		switch col.Name {
		case "knn_distance", "nn_distance", "average_nn_distance":
			if col.Values[1] <= col.Values[0] {
				t.Errorf("%s: far point %f not greater than near point %f",
					col.Name, col.Values[1], col.Values[0])
			}
		}
	}
}

func TestKNNModelErrors(t *testing.T) {
	m := NewKNNModel(5)

	if _, err := m.Score([]*DistributionDataItem{knnItem("q", "", 1)}); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Score before Train = %v, want ErrNotTrained", err)
	}

	// Fewer training items than k
	few := []*DistributionDataItem{
		knnItem("a", "x", 1, 0),
		knnItem("b", "x", 0, 1),
	}
	if err := m.Train(few); err == nil {
		t.Error("expected error training with fewer items than k")
	}
}

func TestNeighborLabelEntropy(t *testing.T) {
	labels := []string{"cat", "cat", "dog", "dog"}

	// All neighbours same label: zero entropy
	if h := neighborLabelEntropy(labels, []int{0, 1}); h != 0 {
		t.Errorf("pure neighbourhood entropy = %f, want 0", h)
	}

	// Even split over two labels with k=2: maximal entropy 1
	if h := neighborLabelEntropy(labels, []int{0, 2}); math.Abs(h-1) > 1e-12 {
		t.Errorf("even split entropy = %f, want 1", h)
	}

	// Degenerate neighbourhoods
	if h := neighborLabelEntropy(labels, []int{0}); h != 0 {
		t.Errorf("single neighbour entropy = %f, want 0", h)
	}
}
