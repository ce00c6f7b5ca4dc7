// Package chart renders the dashboard's bar charts as SVG: predicted class
// distribution, MITRE tag distribution and global feature importance.
package chart

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Kind names a chart.
type Kind string

const (
	KindClasses  Kind = "classes"
	KindTags     Kind = "tags"
	KindFeatures Kind = "features"
)

// Kinds lists every chart in display order.
var Kinds = []Kind{KindClasses, KindTags, KindFeatures}

var (
	// ErrNoData means there is nothing to plot.
	ErrNoData = errors.New("chart: no data")
	// ErrUnknownKind means the chart name is not recognized.
	ErrUnknownKind = errors.New("chart: unknown kind")
)

const (
	height     = 420
	barWidth   = 56
	barSpacing = 24
	margin     = 160
)

var (
	threatColor = drawing.ColorFromHex("c0392b")
	normalColor = drawing.ColorFromHex("27ae60")
	scoreColor  = drawing.ColorFromHex("2c7fb8")
)

// ParseKind validates a chart name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Render writes the named chart for s as SVG. normalTag is the tag drawn
// as benign in the tags chart.
func Render(w io.Writer, kind Kind, s model.Summary, normalTag string) error {
	switch kind {
	case KindClasses:
		return Classes(w, s.ClassCounts)
	case KindTags:
		return Tags(w, s.TagCounts, normalTag)
	case KindFeatures:
		return Features(w, s.TopFeatures)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Classes plots how many rows were predicted as each class id.
func Classes(w io.Writer, counts []model.ClassCount) error {
	bars := make([]chart.Value, len(counts))
	for i, c := range counts {
		bars[i] = chart.Value{Label: strconv.Itoa(c.Class), Value: float64(c.Count), Style: barStyle(scoreColor)}
	}
	return render(w, "Predicted attack classes", bars)
}

// Tags plots how many rows carry each MITRE tag. normalTag is drawn in
// green, everything else in red.
func Tags(w io.Writer, counts []model.TagCount, normalTag string) error {
	return render(w, "MITRE technique mapping", tagBars(counts, normalTag))
}

func tagBars(counts []model.TagCount, normalTag string) []chart.Value {
	bars := make([]chart.Value, len(counts))
	for i, c := range counts {
		col := threatColor
		if c.Tag == normalTag {
			col = normalColor
		}
		bars[i] = chart.Value{Label: label(c.Tag), Value: float64(c.Count), Style: barStyle(col)}
	}
	return bars
}

// Features plots the global importance ranking.
func Features(w io.Writer, ranking []model.FeatureImportance) error {
	bars := make([]chart.Value, len(ranking))
	for i, f := range ranking {
		bars[i] = chart.Value{Label: label(f.Feature), Value: f.MeanAbs, Style: barStyle(scoreColor)}
	}
	return render(w, "Top features by mean |SHAP|", bars)
}

func render(w io.Writer, title string, bars []chart.Value) error {
	if len(bars) == 0 {
		return ErrNoData
	}
	var hi float64
	for _, b := range bars {
		if b.Value > hi {
			hi = b.Value
		}
	}
	if hi <= 0 {
		hi = 1
	}

	bc := chart.BarChart{
		Title:      title,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		Width:      len(bars)*(barWidth+barSpacing) + margin,
		Height:     height,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		XAxis:      chart.Style{FontSize: 8},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: hi * 1.1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return strconv.FormatFloat(f, 'g', 3, 64)
				}
				return ""
			},
		},
		Bars: bars,
	}
	if err := bc.Render(chart.SVG, w); err != nil {
		return fmt.Errorf("chart: render %s: %w", title, err)
	}
	return nil
}

func barStyle(c drawing.Color) chart.Style {
	return chart.Style{FillColor: c, StrokeColor: c, StrokeWidth: 1}
}

// label keeps text safe to embed in SVG markup.
func label(s string) string {
	return strings.NewReplacer("&", "and", "<", "", ">", "").Replace(s)
}
