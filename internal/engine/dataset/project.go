package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/crimson-sun/edrdash/internal/model"
)

// ErrInvalidValue means a feature cell is neither numeric nor boolean.
var ErrInvalidValue = errors.New("invalid feature value")

// SchemaError lists the model features missing from a table.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch: input is missing model features %s", strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error { return model.ErrSchemaMismatch }

// RowWidthError reports a row whose cell count differs from the header.
type RowWidthError struct {
	Row  int
	Got  int
	Want int
}

func (e *RowWidthError) Error() string {
	return fmt.Sprintf("schema mismatch: row %d has %d cells, header has %d", e.Row, e.Got, e.Want)
}

func (e *RowWidthError) Unwrap() error { return model.ErrSchemaMismatch }

// ValueError locates a feature cell that could not be parsed.
type ValueError struct {
	Row    int
	Column string
	Value  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid feature value %q in column %q at row %d", e.Value, e.Column, e.Row)
}

func (e *ValueError) Unwrap() error { return ErrInvalidValue }

// Reserved reports whether a column name is produced by detection and so can
// never be a model feature.
func Reserved(name string) bool {
	return name == model.ColumnPrediction || name == model.ColumnMITRETag
}

// Project builds the feature matrix for schema from t. Columns outside the
// schema are ignored, including the reserved output columns. Every schema
// feature must be present, every row must be as wide as the header and
// cells must be numbers or booleans.
func Project(t *model.Table, schema []string) (model.FeatureMatrix, error) {
	idx := make([]int, len(schema))
	var missing []string
	for i, name := range schema {
		if Reserved(name) {
			return model.FeatureMatrix{}, fmt.Errorf("dataset: %w: %q is an output column, not a feature", model.ErrSchemaMismatch, name)
		}
		idx[i] = t.ColumnIndex(name)
		if idx[i] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return model.FeatureMatrix{}, &SchemaError{Missing: missing}
	}

	names := make([]string, len(schema))
	copy(names, schema)
	values := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return model.FeatureMatrix{}, &RowWidthError{Row: r, Got: len(row), Want: len(t.Columns)}
		}
		vec := make([]float64, len(schema))
		for j, col := range idx {
			v, err := ParseValue(row[col])
			if err != nil {
				return model.FeatureMatrix{}, &ValueError{Row: r, Column: schema[j], Value: row[col]}
			}
			vec[j] = v
		}
		values[r] = vec
	}
	return model.FeatureMatrix{Names: names, Values: values}, nil
}

// ParseValue converts a numeric or boolean cell to float64. Booleans map to
// 1 and 0.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
