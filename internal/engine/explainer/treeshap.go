package explainer

import (
	"context"
	"fmt"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/model"
)

// TreeSHAP computes exact path-dependent Shapley values for tree ensembles
// (Lundberg et al., "Consistent Individualized Feature Attribution for Tree
// Ensembles"). The background distribution is the training data as
// recorded in node covers.
type TreeSHAP struct{}

// Algorithm returns "tree".
func (*TreeSHAP) Algorithm() string { return AlgorithmTree }

// Explain returns per-row Shapley values for each row's predicted class.
// For every row, BaseValues[i] plus the sum of Scores[i] equals the model
// output for that class.
func (*TreeSHAP) Explain(ctx context.Context, m classifier.Model, x model.FeatureMatrix, preds []int) (*model.Explanation, error) {
	tm, ok := m.(classifier.TreeModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s model has no tree structure", ErrIncompatibleModel, m.Info().Format)
	}
	if err := checkRows(x, preds); err != nil {
		return nil, err
	}
	out := emptyExplanation(AlgorithmTree, x)
	if len(x.Values) == 0 {
		return out, nil
	}

	trees := tm.Trees()
	nf := len(tm.Features())
	if x.Width() != nf {
		return nil, fmt.Errorf("explainer: %w: got %d features, model expects %d", model.ErrSchemaMismatch, x.Width(), nf)
	}

	// Expected value per tree and class, shared by every row.
	nc := len(tm.Classes())
	expected := make([][]float64, len(trees))
	for i := range trees {
		expected[i] = make([]float64, nc)
		for c := 0; c < nc; c++ {
			expected[i][c] = expectedValue(&trees[i], 0, c)
		}
	}

	scale := 1.0
	if tm.Aggregation() == classifier.AggregateAverage {
		scale = 1 / float64(len(trees))
	}

	out.Scores = make([][]float64, len(x.Values))
	out.BaseValues = make([]float64, len(x.Values))
	for r, row := range x.Values {
		if r%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(row) != nf {
			return nil, fmt.Errorf("explainer: %w: row %d has %d values, want %d", model.ErrSchemaMismatch, r, len(row), nf)
		}
		c := tm.ClassIndex(preds[r])
		if c < 0 {
			return nil, fmt.Errorf("%w: row %d: class %d is not a model output", ErrIncompatibleModel, r, preds[r])
		}

		phi := make([]float64, nf)
		var base float64
		for t := range trees {
			treeSHAP(&trees[t], row, phi, c)
			base += expected[t][c]
		}
		for j := range phi {
			phi[j] *= scale
		}
		base *= scale
		if tm.Aggregation() == classifier.AggregateSum {
			base += tm.BaseScore()[c]
		}
		out.Scores[r] = phi
		out.BaseValues[r] = base
	}
	return out, nil
}

// expectedValue is the cover-weighted mean output of the subtree at node.
func expectedValue(t *classifier.Tree, node, class int) float64 {
	if t.IsLeaf(node) {
		return t.Value[node][class]
	}
	l, r := t.Left[node], t.Right[node]
	return (t.Cover[l]*expectedValue(t, l, class) + t.Cover[r]*expectedValue(t, r, class)) / (t.Cover[l] + t.Cover[r])
}

// pathElem is one feature on the unique path from the root to a node.
type pathElem struct {
	feature int
	zero    float64 // fraction of "feature missing" paths flowing through
	one     float64 // fraction of "feature present" paths flowing through
	weight  float64 // permutation weight
}

// treeSHAP adds one tree's contributions for class c into phi.
func treeSHAP(t *classifier.Tree, x, phi []float64, c int) {
	var walk func(node, depth int, parent []pathElem, zero, one float64, feature int)
	walk = func(node, depth int, parent []pathElem, zero, one float64, feature int) {
		path := make([]pathElem, depth+1)
		copy(path, parent)
		extendPath(path, depth, zero, one, feature)

		if t.IsLeaf(node) {
			v := t.Value[node][c]
			for i := 1; i <= depth; i++ {
				w := unwoundPathSum(path, depth, i)
				phi[path[i].feature] += w * (path[i].one - path[i].zero) * v
			}
			return
		}

		split := t.Feature[node]
		hot, cold := t.Left[node], t.Right[node]
		if !(x[split] <= t.Threshold[node]) {
			hot, cold = cold, hot
		}
		cover := t.Cover[node]
		hotZero := t.Cover[hot] / cover
		coldZero := t.Cover[cold] / cover

		inZero, inOne := 1.0, 1.0
		k := 0
		for ; k <= depth; k++ {
			if path[k].feature == split {
				break
			}
		}
		if k <= depth {
			// Already split on this feature: undo that split before redoing it here.
			inZero, inOne = path[k].zero, path[k].one
			unwindPath(path, depth, k)
			depth--
		}

		walk(hot, depth+1, path[:depth+1], hotZero*inZero, inOne, split)
		walk(cold, depth+1, path[:depth+1], coldZero*inZero, 0, split)
	}
	walk(0, 0, nil, 1, 1, -1)
}

func extendPath(path []pathElem, depth int, zero, one float64, feature int) {
	path[depth] = pathElem{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(depth+1)
		path[i].weight = zero * path[i].weight * float64(depth-i) / float64(depth+1)
	}
}

func unwindPath(path []pathElem, depth, k int) {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].weight = path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum is the total permutation weight of the path with element
// k removed, without modifying the path.
func unwoundPathSum(path []pathElem, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	var total float64
	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].weight / (zero * float64(depth-i))
		}
	}
	return total * float64(depth+1)
}
