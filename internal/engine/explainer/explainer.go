// Package explainer attributes each prediction to the input features with
// Shapley values. Two algorithms are available: exact path-dependent
// TreeSHAP for tree ensembles, and a sampled permutation estimate for any
// model that exposes class probabilities.
package explainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/model"
)

var (
	// ErrIncompatibleModel means the model cannot be explained with the
	// configured algorithm. There is no fallback to another algorithm.
	ErrIncompatibleModel = errors.New("explainer: model incompatible with algorithm")

	// ErrRowMismatch means predictions and feature rows differ in count.
	ErrRowMismatch = errors.New("explainer: predictions do not match rows")

	// ErrUnknownAlgorithm means the algorithm name is not recognized.
	ErrUnknownAlgorithm = errors.New("explainer: unknown algorithm")
)

// Algorithm names.
const (
	AlgorithmTree        = "tree"
	AlgorithmPermutation = "permutation"
)

// Explainer computes one contribution score per feature per row, towards
// the row's predicted class.
type Explainer interface {
	Algorithm() string
	Explain(ctx context.Context, m classifier.Model, x model.FeatureMatrix, preds []int) (*model.Explanation, error)
}

type options struct {
	permutations   int
	backgroundRows int
	seed           uint64
}

// Option configures New.
type Option func(*options)

// WithPermutations sets the permutation walks per row (permutation only).
func WithPermutations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.permutations = n
		}
	}
}

// WithBackgroundRows caps the background sample taken from the head of the
// explained matrix (permutation only).
func WithBackgroundRows(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backgroundRows = n
		}
	}
}

// WithSeed fixes the random source (permutation only).
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// New returns the explainer for algorithm. An empty name selects tree.
func New(algorithm string, opts ...Option) (Explainer, error) {
	o := options{permutations: 10, backgroundRows: 50, seed: 1}
	for _, opt := range opts {
		opt(&o)
	}
	switch algorithm {
	case "", AlgorithmTree:
		return &TreeSHAP{}, nil
	case AlgorithmPermutation:
		return &Permutation{
			permutations:   o.permutations,
			backgroundRows: o.backgroundRows,
			seed:           o.seed,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

func checkRows(x model.FeatureMatrix, preds []int) error {
	if len(preds) != len(x.Values) {
		return fmt.Errorf("%w: %d predictions for %d rows", ErrRowMismatch, len(preds), len(x.Values))
	}
	return nil
}

func emptyExplanation(algorithm string, x model.FeatureMatrix) *model.Explanation {
	return &model.Explanation{
		Algorithm:  algorithm,
		Features:   x.Names,
		Scores:     [][]float64{},
		BaseValues: []float64{},
	}
}

func classIndex(classes []int, id int) int {
	for i, c := range classes {
		if c == id {
			return i
		}
	}
	return -1
}
