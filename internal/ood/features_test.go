package ood

import (
	"reflect"
	"testing"
)

func TestFeatureMatrix(t *testing.T) {
	cols := []ScoreColumn{
		{Name: "a", Values: []float64{1, 2, 3}},
		{Name: "b", Values: []float64{4, 5, 6}},
	}

	rows, err := featureMatrix(cols)
	if err != nil {
		t.Fatalf("featureMatrix: %v", err)
	}

	want := [][]float64{{1, 4}, {2, 5}, {3, 6}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("featureMatrix = %v, want %v", rows, want)
	}

	if names := columnNames(cols); !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("columnNames = %v, want [a b]", names)
	}
}

func TestFeatureMatrixRejectsRaggedColumns(t *testing.T) {
	cols := []ScoreColumn{
		{Name: "a", Values: []float64{1, 2}},
		{Name: "b", Values: []float64{3}},
	}
	if _, err := featureMatrix(cols); err == nil {
		t.Error("expected error for mismatched column lengths")
	}

	if _, err := featureMatrix(nil); err == nil {
		t.Error("expected error for empty column list")
	}
}
