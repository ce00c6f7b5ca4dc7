// Package classifier loads the pre-trained classifier artifact and runs
// inference over feature matrices. A loaded Model is immutable and safe for
// concurrent use for the lifetime of the process.
package classifier

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crimson-sun/edrdash/internal/model"
)

var (
	// ErrUnsupportedFormat means the artifact format is unknown.
	ErrUnsupportedFormat = errors.New("classifier: unsupported model format")

	// ErrInvalidModel means the artifact parsed but is not usable.
	ErrInvalidModel = errors.New("classifier: invalid model")
)

// Format names accepted by Open.
const (
	FormatAuto  = "auto"
	FormatTrees = "trees"
	FormatONNX  = "onnx"
)

// Model predicts one class id per feature row.
type Model interface {
	// Features returns the declared feature schema in column order.
	Features() []string
	// Classes returns the class ids the model can emit, if known.
	Classes() []int
	// Predict returns one class id per row of m, in row order.
	Predict(m model.FeatureMatrix) ([]int, error)
	// Info describes the artifact.
	Info() model.ModelInfo
	Close() error
}

// ProbabilisticModel additionally exposes per-class probabilities, indexed
// like Classes().
type ProbabilisticModel interface {
	Model
	PredictProba(m model.FeatureMatrix) ([][]float64, error)
}

// TreeModel exposes the ensemble structure needed for exact TreeSHAP.
type TreeModel interface {
	ProbabilisticModel
	Trees() []Tree
	Aggregation() Aggregation
	BaseScore() []float64
	ClassIndex(id int) int
}

type options struct {
	format      string
	onnxLibrary string
	features    []string
}

// Option configures Open.
type Option func(*options)

// WithFormat forces the artifact format instead of inferring it from the
// file extension.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithONNXLibrary sets the path to the ONNX Runtime shared library.
// Default: libonnxruntime.so next to the model file.
func WithONNXLibrary(path string) Option {
	return func(o *options) { o.onnxLibrary = path }
}

// WithFeatures declares the feature schema for artifacts that do not carry
// one (ONNX models without feature_names metadata).
func WithFeatures(names []string) Option {
	return func(o *options) { o.features = names }
}

// Open loads the artifact at path. It is expensive; open once per process
// and share the returned handle.
func Open(path string, opts ...Option) (Model, error) {
	o := options{format: FormatAuto}
	for _, opt := range opts {
		opt(&o)
	}

	format := o.format
	if format == "" || format == FormatAuto {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = FormatTrees
		case ".onnx":
			format = FormatONNX
		default:
			return nil, fmt.Errorf("%w: cannot infer format of %s", ErrUnsupportedFormat, path)
		}
	}

	switch format {
	case FormatTrees:
		e, err := LoadTrees(path)
		if err != nil {
			return nil, err
		}
		return e, nil
	case FormatONNX:
		return openONNX(path, o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// validateFeatures checks a declared schema: non-empty, unique and free of
// the columns detection appends.
func validateFeatures(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no feature names", ErrInvalidModel)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%w: empty feature name", ErrInvalidModel)
		}
		if n == model.ColumnPrediction || n == model.ColumnMITRETag {
			return fmt.Errorf("%w: %q is reserved for detection output", ErrInvalidModel, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidModel, n)
		}
		seen[n] = true
	}
	return nil
}

// checkWidth rejects matrices that do not match the declared schema.
func checkWidth(m model.FeatureMatrix, features []string) error {
	if len(m.Names) != len(features) {
		return fmt.Errorf("classifier: %w: got %d features, model expects %d", model.ErrSchemaMismatch, len(m.Names), len(features))
	}
	for i, n := range features {
		if m.Names[i] != n {
			return fmt.Errorf("classifier: %w: feature %d is %q, model expects %q", model.ErrSchemaMismatch, i, m.Names[i], n)
		}
	}
	for r, row := range m.Values {
		if len(row) != len(features) {
			return fmt.Errorf("classifier: %w: row %d has %d values, want %d", model.ErrSchemaMismatch, r, len(row), len(features))
		}
	}
	return nil
}

// argmax returns the index of the largest value; ties go to the lower index.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
