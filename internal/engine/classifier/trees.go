package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Aggregation says how per-tree leaf values combine into a model output.
type Aggregation string

const (
	// AggregateAverage averages normalized leaf class distributions
	// (random forests, extra trees, single decision trees).
	AggregateAverage Aggregation = "average"
	// AggregateSum adds raw leaf scores to a base score (gradient boosting).
	AggregateSum Aggregation = "sum"
)

// Tree is one decision tree in array form. Node i is a leaf when Left[i] < 0.
// Rows go left when x[Feature[i]] <= Threshold[i]. Cover[i] is the number
// (or weight) of training samples that reached node i.
type Tree struct {
	Left      []int       `json:"children_left"`
	Right     []int       `json:"children_right"`
	Feature   []int       `json:"feature"`
	Threshold []float64   `json:"threshold"`
	Value     [][]float64 `json:"value"`
	Cover     []float64   `json:"cover"`
}

// IsLeaf reports whether node i has no children.
func (t *Tree) IsLeaf(i int) bool { return t.Left[i] < 0 }

// leaf walks x down the tree and returns the leaf index.
func (t *Tree) leaf(x []float64) int {
	n := 0
	for !t.IsLeaf(n) {
		if x[t.Feature[n]] <= t.Threshold[n] {
			n = t.Left[n]
		} else {
			n = t.Right[n]
		}
	}
	return n
}

// MaxDepth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) MaxDepth() int {
	var walk func(n int) int
	walk = func(n int) int {
		if t.IsLeaf(n) {
			return 0
		}
		l, r := walk(t.Left[n]), walk(t.Right[n])
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

type treesFile struct {
	Format      string      `json:"format"`
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Aggregation Aggregation `json:"aggregation"`
	BaseScore   []float64   `json:"base_score"`
	Features    []string    `json:"features"`
	Classes     []int       `json:"classes"`
	Trees       []Tree      `json:"trees"`
}

// Ensemble is a tree-ensemble classifier loaded from the JSON artifact the
// training pipeline exports. It supports exact TreeSHAP explanations.
type Ensemble struct {
	path        string
	name        string
	aggregation Aggregation
	baseScore   []float64
	features    []string
	classes     []int
	trees       []Tree
}

var _ TreeModel = (*Ensemble)(nil)

// LoadTrees reads and validates a tree-ensemble artifact.
func LoadTrees(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	e, err := ParseTrees(data)
	if err != nil {
		return nil, err
	}
	e.path = path
	return e, nil
}

// ParseTrees decodes a tree-ensemble artifact from memory.
func ParseTrees(data []byte) (*Ensemble, error) {
	var f treesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if f.Format != "" && f.Format != "tree_ensemble" {
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedFormat, f.Format)
	}
	if f.Aggregation == "" {
		f.Aggregation = AggregateAverage
	}
	if f.Aggregation != AggregateAverage && f.Aggregation != AggregateSum {
		return nil, fmt.Errorf("%w: unknown aggregation %q", ErrInvalidModel, f.Aggregation)
	}
	if err := validateFeatures(f.Features); err != nil {
		return nil, err
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidModel)
	}
	nc := len(f.Classes)
	if f.Aggregation == AggregateSum {
		if len(f.BaseScore) == 0 {
			f.BaseScore = make([]float64, nc)
		}
		if len(f.BaseScore) != nc {
			return nil, fmt.Errorf("%w: base_score has %d values, want %d", ErrInvalidModel, len(f.BaseScore), nc)
		}
	}

	for ti := range f.Trees {
		t := &f.Trees[ti]
		if err := validateTree(t, len(f.Features), nc); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrInvalidModel, ti, err)
		}
		if f.Aggregation == AggregateAverage {
			normalizeLeaves(t)
		}
	}

	return &Ensemble{
		name:        f.Name,
		aggregation: f.Aggregation,
		baseScore:   f.BaseScore,
		features:    f.Features,
		classes:     f.Classes,
		trees:       f.Trees,
	}, nil
}

func validateTree(t *Tree, nf, nc int) error {
	n := len(t.Left)
	if n == 0 {
		return fmt.Errorf("no nodes")
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n || len(t.Cover) != n {
		return fmt.Errorf("node arrays differ in length")
	}
	visited := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			return fmt.Errorf("node %d reached twice", i)
		}
		visited[i] = true
		if t.Cover[i] <= 0 || math.IsNaN(t.Cover[i]) {
			return fmt.Errorf("node %d has non-positive cover", i)
		}
		if t.IsLeaf(i) {
			if len(t.Value[i]) != nc {
				return fmt.Errorf("leaf %d has %d values, want %d", i, len(t.Value[i]), nc)
			}
			continue
		}
		l, r := t.Left[i], t.Right[i]
		if l <= 0 || l >= n || r <= 0 || r >= n {
			return fmt.Errorf("node %d has children out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nf {
			return fmt.Errorf("node %d splits on unknown feature %d", i, t.Feature[i])
		}
		stack = append(stack, l, r)
	}
	return nil
}

// normalizeLeaves turns leaf class counts into probability distributions.
func normalizeLeaves(t *Tree) {
	for i := range t.Value {
		if !t.IsLeaf(i) {
			continue
		}
		var sum float64
		for _, v := range t.Value[i] {
			sum += v
		}
		if sum == 0 {
			continue
		}
		norm := make([]float64, len(t.Value[i]))
		for j, v := range t.Value[i] {
			norm[j] = v / sum
		}
		t.Value[i] = norm
	}
}

// Features returns the feature schema.
func (e *Ensemble) Features() []string { return e.features }

// Classes returns the class ids in output order.
func (e *Ensemble) Classes() []int { return e.classes }

// Trees returns the ensemble's trees. Callers must not modify them.
func (e *Ensemble) Trees() []Tree { return e.trees }

// Aggregation returns how tree outputs combine.
func (e *Ensemble) Aggregation() Aggregation { return e.aggregation }

// BaseScore returns the per-class offset added to summed tree outputs.
func (e *Ensemble) BaseScore() []float64 { return e.baseScore }

// Info describes the artifact.
func (e *Ensemble) Info() model.ModelInfo {
	return model.ModelInfo{Path: e.path, Format: FormatTrees, Features: e.features, Classes: e.classes}
}

// Close is a no-op; the ensemble holds no external resources.
func (e *Ensemble) Close() error { return nil }

// Raw returns the aggregated per-class model output for x: averaged
// probabilities or summed margins.
func (e *Ensemble) Raw(x []float64) []float64 {
	out := make([]float64, len(e.classes))
	for ti := range e.trees {
		t := &e.trees[ti]
		v := t.Value[t.leaf(x)]
		for c := range out {
			out[c] += v[c]
		}
	}
	if e.aggregation == AggregateAverage {
		for c := range out {
			out[c] /= float64(len(e.trees))
		}
	} else {
		for c := range out {
			out[c] += e.baseScore[c]
		}
	}
	return out
}

// Predict returns the arg-max class id per row.
func (e *Ensemble) Predict(m model.FeatureMatrix) ([]int, error) {
	if err := checkWidth(m, e.features); err != nil {
		return nil, err
	}
	preds := make([]int, len(m.Values))
	for i, x := range m.Values {
		preds[i] = e.classes[argmax(e.Raw(x))]
	}
	return preds, nil
}

// PredictProba returns class probabilities per row. Summed ensembles are
// passed through softmax.
func (e *Ensemble) PredictProba(m model.FeatureMatrix) ([][]float64, error) {
	if err := checkWidth(m, e.features); err != nil {
		return nil, err
	}
	out := make([][]float64, len(m.Values))
	for i, x := range m.Values {
		raw := e.Raw(x)
		if e.aggregation == AggregateSum {
			raw = softmax(raw)
		}
		out[i] = raw
	}
	return out, nil
}

// ClassIndex returns the output position of a class id, or -1.
func (e *Ensemble) ClassIndex(id int) int {
	for i, c := range e.classes {
		if c == id {
			return i
		}
	}
	return -1
}

func softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	hi := v[argmax(v)]
	var sum float64
	for i, x := range v {
		out[i] = math.Exp(x - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
