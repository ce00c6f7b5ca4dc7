// Package charts writes the report's bar charts as SVG files into a
// directory, one file per chart kind.
package charts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/chart"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/model"
)

// Option configures a charts Output.
type Option func(*Output)

// WithTaxonomy sets the taxonomy whose normal class is drawn as benign.
// Default: taxonomy.Default().
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(o *Output) {
		if t != nil {
			o.normalTag = t.NormalTag()
		}
	}
}

// Output renders charts into dir as <kind>.svg.
type Output struct {
	dir       string
	normalTag string
	logger    *zap.Logger
}

// New creates the directory if needed.
func New(dir string, logger *zap.Logger, opts ...Option) (*Output, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("charts output: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Output{dir: dir, normalTag: taxonomy.Default().NormalTag(), logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Path returns the file a chart kind is written to.
func (o *Output) Path(kind chart.Kind) string {
	return filepath.Join(o.dir, string(kind)+".svg")
}

// Write renders every chart. Charts with nothing to plot are skipped and
// any stale file from an earlier run is removed.
func (o *Output) Write(_ context.Context, r *model.Report) error {
	for _, kind := range chart.Kinds {
		path := o.Path(kind)
		var buf bytes.Buffer
		err := chart.Render(&buf, kind, r.Summary, o.normalTag)
		if errors.Is(err, chart.ErrNoData) {
			o.logger.Debug("chart skipped, no data", zap.String("chart", string(kind)))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("charts output: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("charts output: %w", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("charts output: %w", err)
		}
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
