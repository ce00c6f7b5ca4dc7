package explainer

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/model"
)

// Permutation estimates Shapley values for any probabilistic model. For each
// explained row it draws random feature orderings and background rows, walks
// from the background row to the explained row one feature at a time, and
// credits each feature with the change in predicted probability it causes.
// The background rows are taken from the head of the explained matrix.
type Permutation struct {
	permutations   int
	backgroundRows int
	seed           uint64
}

// Algorithm returns "permutation".
func (*Permutation) Algorithm() string { return AlgorithmPermutation }

// Explain returns estimated Shapley values for each row's predicted class.
// Results are deterministic for a given seed. BaseValues[i] is the mean
// output over the background rows drawn for row i, so BaseValues[i] plus
// the sum of Scores[i] equals the model output for row i.
func (p *Permutation) Explain(ctx context.Context, m classifier.Model, x model.FeatureMatrix, preds []int) (*model.Explanation, error) {
	pm, ok := m.(classifier.ProbabilisticModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s model does not expose probabilities", ErrIncompatibleModel, m.Info().Format)
	}
	if err := checkRows(x, preds); err != nil {
		return nil, err
	}
	out := emptyExplanation(AlgorithmPermutation, x)
	if len(x.Values) == 0 {
		return out, nil
	}

	classes := pm.Classes()
	nf := x.Width()
	background := x.Values
	if len(background) > p.backgroundRows {
		background = background[:p.backgroundRows]
	}
	rng := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))

	out.Scores = make([][]float64, len(x.Values))
	out.BaseValues = make([]float64, len(x.Values))
	for r, row := range x.Values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := classIndex(classes, preds[r])
		if c < 0 {
			return nil, fmt.Errorf("%w: row %d: class %d is not a model output", ErrIncompatibleModel, r, preds[r])
		}

		// One batch per row: for each walk, the background row followed by
		// nf rows that each switch one more feature to the explained value.
		orders := make([][]int, p.permutations)
		batch := make([][]float64, 0, p.permutations*(nf+1))
		for k := range orders {
			orders[k] = rng.Perm(nf)
			z := append([]float64(nil), background[rng.IntN(len(background))]...)
			batch = append(batch, append([]float64(nil), z...))
			for _, j := range orders[k] {
				z[j] = row[j]
				batch = append(batch, append([]float64(nil), z...))
			}
		}

		probs, err := pm.PredictProba(model.FeatureMatrix{Names: x.Names, Values: batch})
		if err != nil {
			return nil, fmt.Errorf("explainer: %w", err)
		}

		phi := make([]float64, nf)
		var base float64
		for k, order := range orders {
			off := k * (nf + 1)
			base += probs[off][c]
			for step, j := range order {
				phi[j] += probs[off+step+1][c] - probs[off+step][c]
			}
		}
		n := float64(p.permutations)
		for j := range phi {
			phi[j] /= n
		}
		out.Scores[r] = phi
		out.BaseValues[r] = base / n
	}
	return out, nil
}
