// Package pipeline connects the data loader, the detection engine, run
// history and outputs into one synchronous detection run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/history"
	"github.com/crimson-sun/edrdash/internal/metrics"
	"github.com/crimson-sun/edrdash/internal/model"
	"github.com/crimson-sun/edrdash/internal/output"
)

// Runner executes detection over a loaded table. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, t *model.Table) (*model.Report, error)
}

// Pipeline runs detections end to end.
type Pipeline struct {
	loader  *dataset.Loader
	runner  Runner
	output  output.Output
	history history.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOutput sets where reports are written. Default: nowhere.
func WithOutput(o output.Output) Option {
	return func(p *Pipeline) { p.output = o }
}

// WithHistory sets the run store. Default: none.
func WithHistory(s history.Store) Option {
	return func(p *Pipeline) { p.history = s }
}

// WithMetrics sets the metrics sink. Default: none.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pipeline from the given components.
func New(loader *dataset.Loader, runner Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader: loader,
		runner: runner,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect loads upload (falling back to the bundled sample when it is absent
// or unparseable), runs detection, writes the report and stores it in
// history. A failed run writes and stores nothing.
func (p *Pipeline) Detect(ctx context.Context, upload io.Reader) (*model.Report, error) {
	start := time.Now()
	t, fb, err := p.loader.LoadOrSample(upload)
	if err != nil {
		return nil, p.fail(start, fmt.Errorf("pipeline load: %w", err))
	}
	if fb != nil {
		p.metrics.ObserveFallback(fb.Reason)
	}
	return p.run(ctx, start, t, fb)
}

// DetectTable runs detection on a table the caller already loaded.
func (p *Pipeline) DetectTable(ctx context.Context, t *model.Table) (*model.Report, error) {
	return p.run(ctx, time.Now(), t, nil)
}

func (p *Pipeline) run(ctx context.Context, start time.Time, t *model.Table, fb *model.Fallback) (*model.Report, error) {
	r, err := p.runner.Run(ctx, t)
	if err != nil {
		return nil, p.fail(start, fmt.Errorf("pipeline run: %w", err))
	}
	r.Fallback = fb

	if p.output != nil {
		if err := p.output.Write(ctx, r); err != nil {
			return nil, p.fail(start, &OutputError{Err: fmt.Errorf("pipeline output: %w", err)})
		}
	}
	if p.history != nil {
		if err := p.history.Save(ctx, r); err != nil {
			return nil, p.fail(start, &OutputError{Err: fmt.Errorf("pipeline history: %w", err)})
		}
	}

	p.metrics.ObserveRun(metrics.OutcomeOK, time.Since(start))
	p.metrics.ObserveReport(r)
	p.logger.Info("detection run complete",
		zap.String("run_id", r.ID),
		zap.String("source", string(r.Source)),
		zap.Int("rows", r.Summary.Rows),
		zap.Duration("elapsed", time.Since(start)),
	)
	return r, nil
}

func (p *Pipeline) fail(start time.Time, err error) error {
	outcome := Classify(err)
	p.metrics.ObserveRun(outcome, time.Since(start))
	p.logger.Error("detection run failed", zap.String("outcome", outcome), zap.Error(err))
	return err
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	if p.output == nil {
		return nil
	}
	return p.output.Close()
}

// OutputError marks a failure delivering or storing a finished report.
type OutputError struct {
	Err error
}

func (e *OutputError) Error() string { return e.Err.Error() }
func (e *OutputError) Unwrap() error { return e.Err }

// Classify maps a run error to a metrics outcome: schema, model, sample,
// output or internal. A nil error is ok.
func Classify(err error) string {
	var oe *OutputError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &oe):
		return metrics.OutcomeOutput
	case errors.Is(err, model.ErrSchemaMismatch), errors.Is(err, dataset.ErrInvalidValue):
		return metrics.OutcomeSchema
	case errors.Is(err, explainer.ErrIncompatibleModel),
		errors.Is(err, classifier.ErrInvalidModel),
		errors.Is(err, classifier.ErrUnsupportedFormat):
		return metrics.OutcomeModel
	case errors.Is(err, dataset.ErrMalformedSample):
		return metrics.OutcomeSample
	default:
		return metrics.OutcomeInternal
	}
}
