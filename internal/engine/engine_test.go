package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/model"
)

const modelPath = "../../models/model.json"

// newTestEngine wires the bundled model, the default taxonomy and TreeSHAP,
// recording spans into the returned recorder.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *tracetest.SpanRecorder) {
	t.Helper()
	m, err := classifier.Open(modelPath)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	ex, err := explainer.New(explainer.AlgorithmTree)
	require.NoError(t, err)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithTracerProvider(tp)}, opts...)
	return New(m, taxonomy.Default(), ex, opts...), sr
}

func sampleTable(t *testing.T) *model.Table {
	t.Helper()
	tbl, err := dataset.NewLoader().Sample()
	require.NoError(t, err)
	return tbl
}

func spanNames(sr *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestRunSample(t *testing.T) {
	eng, sr := newTestEngine(t)
	tbl := sampleTable(t)

	r, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.SourceSample, r.Source)
	assert.Equal(t, tbl.Columns, r.Columns)
	assert.Len(t, r.Sample, 10)
	require.Len(t, r.Detections, tbl.Len())
	assert.Equal(t, tbl.Len(), r.Summary.Rows)

	for i, d := range r.Detections {
		assert.Equal(t, i, d.Row)
		assert.Equal(t, taxonomy.Default().Tag(d.Prediction), d.Tag)
	}

	assert.Equal(t, []model.ClassCount{
		{Class: 0, Count: 29},
		{Class: 3, Count: 6},
		{Class: 6, Count: 4},
		{Class: 10, Count: 1},
	}, r.Summary.ClassCounts)
	assert.Equal(t, taxonomy.Unclassified, r.Summary.TagCounts[len(r.Summary.TagCounts)-1].Tag)

	require.NotNil(t, r.Explanation)
	assert.Equal(t, tbl.Len(), r.Explanation.Len())
	assert.Equal(t, r.Model.Features, r.Explanation.Features)
	assert.NotEmpty(t, r.Summary.TopFeatures)
	assert.LessOrEqual(t, len(r.Summary.TopFeatures), 10)
	for _, fi := range r.Summary.TopFeatures {
		assert.NotEqual(t, model.ColumnPrediction, fi.Feature)
		assert.NotEqual(t, model.ColumnMITRETag, fi.Feature)
	}

	assert.ElementsMatch(t,
		[]string{"engine.project", "engine.predict", "engine.explain", "engine.summarize", "engine.Run"},
		spanNames(sr))
}

func TestRunDeterministic(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)

	a, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)
	b, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Detections, b.Detections)
	assert.Equal(t, a.Summary, b.Summary)
}

func TestRunMissingFeature(t *testing.T) {
	eng, sr := newTestEngine(t)
	tbl := sampleTable(t)

	idx := tbl.ColumnIndex("sbytes")
	require.GreaterOrEqual(t, idx, 0)
	cols := append(append([]string{}, tbl.Columns[:idx]...), tbl.Columns[idx+1:]...)
	rows := make([][]string, len(tbl.Rows))
	for i, row := range tbl.Rows {
		rows[i] = append(append([]string{}, row[:idx]...), row[idx+1:]...)
	}
	broken := &model.Table{Columns: cols, Rows: rows, Source: model.SourceUpload}

	r, err := eng.Run(context.Background(), broken)
	assert.Nil(t, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSchemaMismatch))

	var se *dataset.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"sbytes"}, se.Missing)

	// The input is untouched.
	assert.Equal(t, -1, broken.ColumnIndex(model.ColumnPrediction))

	for _, s := range sr.Ended() {
		if s.Name() == "engine.Run" {
			assert.Equal(t, codes.Error, s.Status().Code)
		}
	}
}

func TestRunInvalidValue(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)
	tbl.Rows[3][tbl.ColumnIndex("dur")] = "fast"

	_, err := eng.Run(context.Background(), tbl)
	assert.True(t, errors.Is(err, dataset.ErrInvalidValue))
}

func TestRunEmptyTable(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)
	empty := &model.Table{Columns: tbl.Columns, Source: model.SourceUpload}

	r, err := eng.Run(context.Background(), empty)
	require.NoError(t, err)
	assert.Empty(t, r.Detections)
	assert.Empty(t, r.Summary.ClassCounts)
	assert.Empty(t, r.Summary.TopFeatures)
	assert.Equal(t, 0, r.Explanation.Len())
}

func TestRunSingleNormalRow(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)

	full, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)
	normal := -1
	for _, d := range full.Detections {
		if d.Prediction == 0 {
			normal = d.Row
			break
		}
	}
	require.GreaterOrEqual(t, normal, 0, "sample has no class 0 row")

	one := &model.Table{Columns: tbl.Columns, Rows: [][]string{tbl.Rows[normal]}, Source: model.SourceUpload}
	r, err := eng.Run(context.Background(), one)
	require.NoError(t, err)
	require.Len(t, r.Detections, 1)
	assert.Equal(t, 0, r.Detections[0].Prediction)
	assert.Equal(t, "Normal Activity", r.Detections[0].Tag)
	assert.False(t, eng.Taxonomy().IsThreat(r.Detections[0].Prediction))
	assert.Equal(t, []model.TagCount{{Tag: "Normal Activity", Count: 1}}, r.Summary.TagCounts)
}

func TestRunIgnoresExistingPredictionColumn(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)
	stale := make([][]string, tbl.Len())
	for i := range stale {
		stale[i] = []string{"not-a-number"}
	}
	withStale := tbl.WithColumns([]string{model.ColumnPrediction}, stale)

	a, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)
	b, err := eng.Run(context.Background(), withStale)
	require.NoError(t, err)
	assert.Equal(t, a.Detections, b.Detections)
}

func TestRunWithPermutationExplainer(t *testing.T) {
	m, err := classifier.Open(modelPath)
	require.NoError(t, err)
	ex, err := explainer.New(explainer.AlgorithmPermutation, explainer.WithPermutations(2), explainer.WithBackgroundRows(5))
	require.NoError(t, err)

	eng := New(m, taxonomy.Default(), ex, WithPreviewRows(3), WithTopFeatures(4))
	r, err := eng.Run(context.Background(), sampleTable(t))
	require.NoError(t, err)
	assert.Equal(t, explainer.AlgorithmPermutation, r.Explanation.Algorithm)
	assert.Len(t, r.Sample, 3)
	assert.Len(t, r.Summary.Head, 3)
	assert.LessOrEqual(t, len(r.Summary.TopFeatures), 4)
}

func TestWithPreviewRowsKeepsDefaultBelowOne(t *testing.T) {
	eng, _ := newTestEngine(t, WithPreviewRows(0))
	r, err := eng.Run(context.Background(), sampleTable(t))
	require.NoError(t, err)
	assert.Len(t, r.Sample, 10)
	assert.Len(t, r.Summary.Head, 10)
	assert.Len(t, r.Summary.Tail, 10)
}

func TestAnnotated(t *testing.T) {
	eng, _ := newTestEngine(t)
	tbl := sampleTable(t)
	r, err := eng.Run(context.Background(), tbl)
	require.NoError(t, err)

	out, err := Annotated(tbl, r)
	require.NoError(t, err)

	n := len(out.Columns)
	assert.Equal(t, model.ColumnPrediction, out.Columns[n-2])
	assert.Equal(t, model.ColumnMITRETag, out.Columns[n-1])
	assert.Equal(t, len(tbl.Columns)+2, n)
	for i, row := range out.Rows {
		assert.Equal(t, r.Detections[i].Tag, row[n-1])
		assert.False(t, strings.TrimSpace(row[n-2]) == "")
	}
	assert.Equal(t, -1, tbl.ColumnIndex(model.ColumnPrediction))

	_, err = Annotated(&model.Table{Columns: tbl.Columns}, r)
	assert.Error(t, err)
}
