package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/crimson-sun/edrdash/internal/engine"
	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/history"
	"github.com/crimson-sun/edrdash/internal/metrics"
	"github.com/crimson-sun/edrdash/internal/model"
)

const (
	modelPath  = "../../models/model.json"
	samplePath = "../engine/dataset/sample/network_events.csv"
)

// --- mocks ---

type mockOutput struct {
	mu      sync.Mutex
	reports []*model.Report
	err     error
	closed  bool
}

func (m *mockOutput) Write(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockOutput) Reports() []*model.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Report(nil), m.reports...)
}

type failingStore struct{ history.Store }

func (failingStore) Save(context.Context, *model.Report) error {
	return errors.New("store unavailable")
}

type runnerFunc func(ctx context.Context, t *model.Table) (*model.Report, error)

func (f runnerFunc) Run(ctx context.Context, t *model.Table) (*model.Report, error) {
	return f(ctx, t)
}

// --- helpers ---

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	m, err := classifier.Open(modelPath)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	ex, err := explainer.New(explainer.AlgorithmTree)
	require.NoError(t, err)
	return engine.New(m, taxonomy.Default(), ex)
}

type fixture struct {
	p       *Pipeline
	out     *mockOutput
	store   *history.Memory
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, runner Runner, loaderOpts ...dataset.Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		out:     &mockOutput{},
		store:   history.NewMemory(10),
		metrics: metrics.New(),
		logs:    logs,
	}
	if runner == nil {
		runner = newEngine(t)
	}
	f.p = New(dataset.NewLoader(loaderOpts...), runner,
		WithOutput(f.out),
		WithHistory(f.store),
		WithMetrics(f.metrics),
		WithLogger(zap.New(core)),
	)
	return f
}

// scrape returns the metrics exposition text.
func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func (f *fixture) stored(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := f.store.List(context.Background(), 0)
	require.NoError(t, err)
	return entries
}

func sampleCSV(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(samplePath)
	require.NoError(t, err)
	return string(data)
}

// dropColumn removes column name from every line of a CSV document.
func dropColumn(t *testing.T, csv, name string) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	idx := -1
	for i, h := range strings.Split(lines[0], ",") {
		if h == name {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	for i, line := range lines {
		fields := strings.Split(line, ",")
		lines[i] = strings.Join(append(fields[:idx:idx], fields[idx+1:]...), ",")
	}
	return strings.Join(lines, "\n") + "\n"
}

// --- Detect ---

func TestDetectWithoutUploadUsesSample(t *testing.T) {
	f := newFixture(t, nil)

	r, err := f.p.Detect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, model.SourceSample, r.Source)
	require.NotNil(t, r.Fallback)
	assert.Equal(t, dataset.ReasonAbsent, r.Fallback.Reason)
	assert.Equal(t, 40, r.Summary.Rows)

	require.Len(t, f.out.Reports(), 1)
	assert.Same(t, r, f.out.Reports()[0])

	entries := f.stored(t)
	require.Len(t, entries, 1)
	assert.Equal(t, r.ID, entries[0].ID)
	assert.True(t, entries[0].Fallback)

	text := f.scrape(t)
	assert.Contains(t, text, `edrdash_sample_fallbacks_total{reason="absent"} 1`)
	assert.Contains(t, text, `edrdash_runs_total{outcome="ok"} 1`)
	assert.Contains(t, text, `edrdash_rows_processed_total 40`)

	assert.Equal(t, 1, f.logs.FilterMessage("detection run complete").Len())
}

func TestDetectUpload(t *testing.T) {
	f := newFixture(t, nil)

	r, err := f.p.Detect(context.Background(), strings.NewReader(sampleCSV(t)))
	require.NoError(t, err)

	assert.Equal(t, model.SourceUpload, r.Source)
	assert.Nil(t, r.Fallback)
	assert.Len(t, r.Detections, 40)
	assert.NotContains(t, f.scrape(t), "edrdash_sample_fallbacks_total{")
}

func TestDetectEmptyUploadIsAbsent(t *testing.T) {
	f := newFixture(t, nil)

	r, err := f.p.Detect(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, r.Fallback)
	assert.Equal(t, dataset.ReasonAbsent, r.Fallback.Reason)
}

func TestDetectUnparseableUploadFallsBack(t *testing.T) {
	f := newFixture(t, nil)

	r, err := f.p.Detect(context.Background(), strings.NewReader("a,b\n1\n"))
	require.NoError(t, err)

	assert.Equal(t, model.SourceSample, r.Source)
	require.NotNil(t, r.Fallback)
	assert.Equal(t, dataset.ReasonUnparseable, r.Fallback.Reason)
	assert.NotEmpty(t, r.Fallback.Detail)
	assert.Contains(t, f.scrape(t), `edrdash_sample_fallbacks_total{reason="unparseable"} 1`)
}

func TestDetectMissingFeatureWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	upload := dropColumn(t, sampleCSV(t), "sbytes")

	r, err := f.p.Detect(context.Background(), strings.NewReader(upload))
	require.Error(t, err)
	assert.Nil(t, r)

	var se *dataset.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"sbytes"}, se.Missing)
	assert.Equal(t, metrics.OutcomeSchema, Classify(err))

	assert.Empty(t, f.out.Reports())
	assert.Empty(t, f.stored(t))
	assert.Contains(t, f.scrape(t), `edrdash_runs_total{outcome="schema"} 1`)

	failed := f.logs.FilterMessage("detection run failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, metrics.OutcomeSchema, failed[0].ContextMap()["outcome"])
}

func TestDetectMalformedSample(t *testing.T) {
	f := newFixture(t, nil, dataset.WithSampleData([]byte{}))

	_, err := f.p.Detect(context.Background(), nil)
	require.ErrorIs(t, err, dataset.ErrMalformedSample)
	assert.Equal(t, metrics.OutcomeSample, Classify(err))
	assert.Contains(t, f.scrape(t), `edrdash_runs_total{outcome="sample"} 1`)
}

func TestDetectOutputFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.out.err = errors.New("disk full")

	_, err := f.p.Detect(context.Background(), nil)
	require.Error(t, err)

	var oe *OutputError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, metrics.OutcomeOutput, Classify(err))
	assert.Empty(t, f.stored(t))
	assert.Contains(t, f.scrape(t), `edrdash_runs_total{outcome="output"} 1`)
}

func TestDetectHistoryFailure(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	m := metrics.New()
	p := New(dataset.NewLoader(), newEngine(t),
		WithHistory(failingStore{}),
		WithMetrics(m),
		WithLogger(zap.New(core)),
	)

	_, err := p.Detect(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, metrics.OutcomeOutput, Classify(err))
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestDetectRunnerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, runnerFunc(func(context.Context, *model.Table) (*model.Report, error) {
		return nil, boom
	}))

	_, err := f.p.Detect(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, metrics.OutcomeInternal, Classify(err))
	assert.Empty(t, f.out.Reports())
}

func TestDetectTable(t *testing.T) {
	var got *model.Table
	f := newFixture(t, runnerFunc(func(_ context.Context, tbl *model.Table) (*model.Report, error) {
		got = tbl
		return &model.Report{ID: "run-1", Source: tbl.Source}, nil
	}))
	tbl := &model.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}, Source: model.SourceFile}

	r, err := f.p.DetectTable(context.Background(), tbl)
	require.NoError(t, err)
	assert.Same(t, tbl, got)
	assert.Nil(t, r.Fallback)
	assert.Equal(t, model.SourceFile, r.Source)

	stored, err := f.store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", stored.ID)
}

func TestClose(t *testing.T) {
	f := newFixture(t, runnerFunc(func(context.Context, *model.Table) (*model.Report, error) {
		return &model.Report{}, nil
	}))
	require.NoError(t, f.p.Close())
	assert.True(t, f.out.closed)

	bare := New(dataset.NewLoader(), f.p.runner)
	assert.NoError(t, bare.Close())
}

// --- Classify ---

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, metrics.OutcomeOK},
		{"schema", &dataset.SchemaError{Missing: []string{"dur"}}, metrics.OutcomeSchema},
		{"wrapped schema", fmt.Errorf("run: %w", model.ErrSchemaMismatch), metrics.OutcomeSchema},
		{"invalid value", fmt.Errorf("x: %w", dataset.ErrInvalidValue), metrics.OutcomeSchema},
		{"incompatible model", explainer.ErrIncompatibleModel, metrics.OutcomeModel},
		{"invalid model", fmt.Errorf("open: %w", classifier.ErrInvalidModel), metrics.OutcomeModel},
		{"unsupported format", classifier.ErrUnsupportedFormat, metrics.OutcomeModel},
		{"sample", dataset.ErrMalformedSample, metrics.OutcomeSample},
		{"output", &OutputError{Err: io.ErrShortWrite}, metrics.OutcomeOutput},
		{"other", errors.New("boom"), metrics.OutcomeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
