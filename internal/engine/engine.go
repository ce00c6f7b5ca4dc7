// Package engine runs one detection pass over a table of event records:
// project onto the model's feature schema, predict, map predictions to
// MITRE tags, explain, and summarize.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/engine/summary"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/model"
)

const tracerName = "github.com/crimson-sun/edrdash/internal/engine"

// Engine orchestrates the project → predict → map → explain → summarize
// pipeline. It holds no per-run state and is safe for concurrent use.
type Engine struct {
	model     classifier.Model
	taxonomy  *taxonomy.Taxonomy
	explainer explainer.Explainer
	logger    *zap.Logger
	tracer    trace.Tracer
	summary   summary.Options
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracerProvider sets the provider spans are created from.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithPreviewRows sets how many rows the sample and head/tail previews hold.
// Values below 1 keep the default.
func WithPreviewRows(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.summary.PreviewRows = n
		}
	}
}

// WithTopFeatures sets the length of the feature importance ranking.
func WithTopFeatures(n int) Option {
	return func(e *Engine) { e.summary.TopN = n }
}

// New creates an Engine with the provided components.
func New(m classifier.Model, tax *taxonomy.Taxonomy, ex explainer.Explainer, opts ...Option) *Engine {
	e := &Engine{
		model:     m,
		taxonomy:  tax,
		explainer: ex,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		summary:   summary.Options{PreviewRows: summary.DefaultPreviewRows, TopN: summary.DefaultTopN},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the classifier the engine runs.
func (e *Engine) Model() classifier.Model { return e.model }

// Taxonomy returns the label mapping in use.
func (e *Engine) Taxonomy() *taxonomy.Taxonomy { return e.taxonomy }

// Run processes the whole table. Any step failure aborts the run and no
// report is returned. The table is never modified.
func (e *Engine) Run(ctx context.Context, t *model.Table) (_ *model.Report, err error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.Int("edrdash.rows", t.Len()),
		attribute.String("edrdash.source", string(t.Source)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var x model.FeatureMatrix
	if err := e.step(ctx, "project", func(context.Context) error {
		var err error
		x, err = dataset.Project(t, e.model.Features())
		return err
	}); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var preds []int
	if err := e.step(ctx, "predict", func(context.Context) error {
		var err error
		preds, err = e.model.Predict(x)
		if err == nil && len(preds) != x.Len() {
			err = fmt.Errorf("model returned %d predictions for %d rows", len(preds), x.Len())
		}
		return err
	}); err != nil {
		return nil, fmt.Errorf("engine: predict: %w", err)
	}

	detections := make([]model.Detection, len(preds))
	for i, p := range preds {
		detections[i] = model.Detection{Row: i, Prediction: p, Tag: e.taxonomy.Tag(p)}
	}

	var expl *model.Explanation
	if err := e.step(ctx, "explain", func(ctx context.Context) error {
		var err error
		expl, err = e.explainer.Explain(ctx, e.model, x, preds)
		return err
	}); err != nil {
		return nil, fmt.Errorf("engine: explain: %w", err)
	}

	_, sumSpan := e.tracer.Start(ctx, "engine.summarize")
	sum := summary.Summarize(detections, expl, e.summary)
	sumSpan.End()

	report := &model.Report{
		ID:          uuid.NewString(),
		CreatedAt:   start.UTC(),
		Source:      t.Source,
		Model:       e.model.Info(),
		Columns:     append([]string(nil), t.Columns...),
		Sample:      copyRows(t.Head(e.summary.PreviewRows)),
		Detections:  detections,
		Summary:     sum,
		Explanation: expl,
	}
	span.SetAttributes(attribute.String("edrdash.run_id", report.ID))

	e.logger.Debug("detection run complete",
		zap.String("run_id", report.ID),
		zap.Int("rows", len(detections)),
		zap.String("algorithm", expl.Algorithm),
		zap.Duration("elapsed", e.now().Sub(start)),
	)
	return report, nil
}

func (e *Engine) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "engine."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Annotated returns the detailed result table: the input table with the
// Prediction and MITRE_Tag columns appended.
func Annotated(t *model.Table, r *model.Report) (*model.Table, error) {
	if len(r.Detections) != t.Len() {
		return nil, fmt.Errorf("engine: report has %d detections for %d rows", len(r.Detections), t.Len())
	}
	values := make([][]string, len(r.Detections))
	for i, d := range r.Detections {
		values[i] = []string{strconv.Itoa(d.Prediction), d.Tag}
	}
	return t.WithColumns([]string{model.ColumnPrediction, model.ColumnMITRETag}, values), nil
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
