package text

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/edrdash/internal/engine/summary"
	"github.com/crimson-sun/edrdash/internal/model"
)

func testReport(rows int) *model.Report {
	dets := make([]model.Detection, rows)
	for i := range dets {
		if i%4 == 3 {
			dets[i] = model.Detection{Row: i, Prediction: 3, Tag: "DoS → Resource Exhaustion"}
		} else {
			dets[i] = model.Detection{Row: i, Prediction: 0, Tag: "Normal Activity"}
		}
	}
	e := &model.Explanation{Features: []string{"sttl", "sbytes"}, Scores: [][]float64{{0.3, 0.1}}}
	return &model.Report{
		ID:         "run-7",
		Source:     model.SourceSample,
		Fallback:   &model.Fallback{Reason: "absent"},
		Columns:    []string{"dur", "sbytes", "sttl"},
		Sample:     [][]string{{"0.12", "496", "254"}, {"1.5", "1024", "62"}},
		Detections: dets,
		Summary:    summary.Summarize(dets, e, summary.Options{PreviewRows: 5}),
	}
}

func TestWriteSections(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, WithColor(false))
	require.NoError(t, out.Write(context.Background(), testReport(40)))
	got := buf.String()

	for _, want := range []string{
		"EDR threat detection report",
		"run run-7",
		"bundled sample dataset",
		"Sample network events",
		"Detection results",
		"MITRE ATT&CK mapping",
		"Top features by mean |SHAP|",
		"DoS → Resource Exhaustion",
		"75.0%",
		"sttl",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "\x1b[")
	// Rows 5..34 are elided between the head and tail previews.
	assert.Contains(t, got, "30 more")
}

func TestShortRunHasNoGap(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, WithColor(false))
	require.NoError(t, out.Write(context.Background(), testReport(8)))

	assert.NotContains(t, buf.String(), "more")
	// Each of the 8 detections is printed exactly once.
	assert.Equal(t, 1, strings.Count(buf.String(), "\n7  "))
}

func TestColorsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, WithColor(true))
	require.NoError(t, out.Write(context.Background(), testReport(4)))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestEmptyReport(t *testing.T) {
	var buf bytes.Buffer
	out := New(&buf, WithColor(false))
	r := &model.Report{ID: "empty", Summary: summary.Summarize(nil, nil, summary.Options{})}
	require.NoError(t, out.Write(context.Background(), r))
	assert.Contains(t, buf.String(), "no detections")
	assert.Contains(t, buf.String(), "no explanation scores")
	assert.NoError(t, out.Close())
}
