package explainer

import (
	"math"
	"sort"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Rank returns the n features with the largest mean absolute score across
// all explained rows, highest first. Ties are ordered by feature name. A
// nil or empty explanation ranks nothing.
func Rank(e *model.Explanation, n int) []model.FeatureImportance {
	if e.Len() == 0 || n <= 0 {
		return []model.FeatureImportance{}
	}
	ranked := make([]model.FeatureImportance, len(e.Features))
	for j, name := range e.Features {
		var sum float64
		for _, row := range e.Scores {
			sum += math.Abs(row[j])
		}
		ranked[j] = model.FeatureImportance{Feature: name, MeanAbs: sum / float64(len(e.Scores))}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].MeanAbs != ranked[b].MeanAbs {
			return ranked[a].MeanAbs > ranked[b].MeanAbs
		}
		return ranked[a].Feature < ranked[b].Feature
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
