package ood

import "fmt"

// featureMatrix assembles score columns into a row-major n×m feature
// matrix, one row per scored item, columns in the given order. All
// columns must have the same length.
func featureMatrix(cols []ScoreColumn) ([][]float64, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("no score columns")
	}
	n := len(cols[0].Values)
	for _, col := range cols {
		if len(col.Values) != n {
			return nil, fmt.Errorf("column %q has %d values, want %d", col.Name, len(col.Values), n)
		}
	}

	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col.Values[i]
		}
		rows[i] = row
	}
	return rows, nil
}

// columnNames returns the names of the columns in order.
func columnNames(cols []ScoreColumn) []string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}
