// Package summary aggregates a detection run into the figures the dashboard
// shows: class and MITRE tag distributions, the global feature importance
// ranking, and head/tail previews of the detections.
package summary

import (
	"sort"

	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultPreviewRows = 10
	DefaultTopN        = 10
)

// Options control preview and ranking sizes.
type Options struct {
	PreviewRows int
	TopN        int
}

func (o Options) withDefaults() Options {
	if o.PreviewRows <= 0 {
		o.PreviewRows = DefaultPreviewRows
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Summarize builds the run summary. It never fails; empty input yields
// empty aggregates.
func Summarize(detections []model.Detection, e *model.Explanation, opts Options) model.Summary {
	opts = opts.withDefaults()

	head := detections
	if len(head) > opts.PreviewRows {
		head = head[:opts.PreviewRows]
	}
	tail := detections
	if len(tail) > opts.PreviewRows {
		tail = tail[len(tail)-opts.PreviewRows:]
	}

	return model.Summary{
		Rows:        len(detections),
		ClassCounts: ClassCounts(detections),
		TagCounts:   TagCounts(detections),
		TopFeatures: explainer.Rank(e, opts.TopN),
		Head:        append([]model.Detection{}, head...),
		Tail:        append([]model.Detection{}, tail...),
	}
}

// ClassCounts counts detections per predicted class, most frequent first;
// equal counts are ordered by class id.
func ClassCounts(detections []model.Detection) []model.ClassCount {
	counts := make(map[int]int)
	for _, d := range detections {
		counts[d.Prediction]++
	}
	out := make([]model.ClassCount, 0, len(counts))
	for class, n := range counts {
		out = append(out, model.ClassCount{Class: class, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// TagCounts counts detections per MITRE tag, most frequent first; equal
// counts are ordered by tag.
func TagCounts(detections []model.Detection) []model.TagCount {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.Tag]++
	}
	out := make([]model.TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, model.TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
