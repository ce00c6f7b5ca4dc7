package edr

import (
	"context"
	"fmt"
	"io"

	"github.com/crimson-sun/edrdash/internal/engine"
	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/model"
)

// Errors callers can match with errors.Is.
var (
	// ErrSchemaMismatch means the input lacks a model feature.
	ErrSchemaMismatch = model.ErrSchemaMismatch
	// ErrInvalidValue means a feature cell is not a number.
	ErrInvalidValue = dataset.ErrInvalidValue
	// ErrIncompatibleModel means the explainer cannot handle the model.
	ErrIncompatibleModel = explainer.ErrIncompatibleModel
)

// Detector classifies and explains network event records.
// Safe for concurrent use.
type Detector struct {
	engine   *engine.Engine
	model    classifier.Model
	taxonomy *taxonomy.Taxonomy
	loader   *dataset.Loader
}

// New opens the model and prepares the explainer. This is an expensive
// operation; create once, reuse across requests.
func New(opts ...Option) (*Detector, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultOptions().logger
	}

	var modelOpts []classifier.Option
	if o.modelFormat != "" {
		modelOpts = append(modelOpts, classifier.WithFormat(o.modelFormat))
	}
	if o.onnxLibrary != "" {
		modelOpts = append(modelOpts, classifier.WithONNXLibrary(o.onnxLibrary))
	}
	if len(o.features) > 0 {
		modelOpts = append(modelOpts, classifier.WithFeatures(o.features))
	}
	m, err := classifier.Open(o.modelPath, modelOpts...)
	if err != nil {
		return nil, fmt.Errorf("edr: %w", err)
	}

	tax := taxonomy.Default()
	if o.labelsFile != "" {
		if tax, err = taxonomy.LoadFile(o.labelsFile); err != nil {
			m.Close()
			return nil, fmt.Errorf("edr: %w", err)
		}
	}

	var exOpts []explainer.Option
	if o.permutations > 0 {
		exOpts = append(exOpts, explainer.WithPermutations(o.permutations))
	}
	if o.backgroundRows > 0 {
		exOpts = append(exOpts, explainer.WithBackgroundRows(o.backgroundRows))
	}
	if o.seed != 0 {
		exOpts = append(exOpts, explainer.WithSeed(o.seed))
	}
	ex, err := explainer.New(o.algorithm, exOpts...)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("edr: %w", err)
	}

	engOpts := []engine.Option{engine.WithLogger(o.logger)}
	if o.topFeatures > 0 {
		engOpts = append(engOpts, engine.WithTopFeatures(o.topFeatures))
	}
	return &Detector{
		engine:   engine.New(m, tax, ex, engOpts...),
		model:    m,
		taxonomy: tax,
		loader:   dataset.NewLoader(dataset.WithLogger(o.logger)),
	}, nil
}

// Detect reads a CSV with a header row from r and classifies every record.
// A nil, empty or unparseable r falls back to the bundled sample dataset;
// Result.Fallback says why.
func (d *Detector) Detect(ctx context.Context, r io.Reader) (*Result, error) {
	t, fb, err := d.loader.LoadOrSample(r)
	if err != nil {
		return nil, fmt.Errorf("edr: %w", err)
	}
	res, err := d.run(ctx, t)
	if err != nil {
		return nil, err
	}
	if fb != nil {
		res.Fallback = fb.Reason
	}
	return res, nil
}

// DetectRecords classifies rows of raw cell values under the given column
// names. Columns that are not model features are ignored.
func (d *Detector) DetectRecords(ctx context.Context, columns []string, rows [][]string) (*Result, error) {
	return d.run(ctx, &model.Table{Columns: columns, Rows: rows, Source: model.SourceUpload})
}

// Features returns the feature names the model expects, in order.
func (d *Detector) Features() []string {
	return append([]string(nil), d.model.Features()...)
}

// Close releases model resources. Must be called when the Detector is no
// longer needed.
func (d *Detector) Close() error {
	return d.model.Close()
}

func (d *Detector) run(ctx context.Context, t *model.Table) (*Result, error) {
	rep, err := d.engine.Run(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("edr: %w", err)
	}
	return resultFromReport(rep), nil
}

// resultFromReport converts the internal report to the public Result type.
func resultFromReport(r *model.Report) *Result {
	res := &Result{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Source:      string(r.Source),
		Rows:        r.Summary.Rows,
		Detections:  make([]Detection, len(r.Detections)),
		ClassCounts: make([]ClassCount, len(r.Summary.ClassCounts)),
		TagCounts:   make([]TagCount, len(r.Summary.TagCounts)),
		TopFeatures: make([]Feature, len(r.Summary.TopFeatures)),
	}
	for i, d := range r.Detections {
		res.Detections[i] = Detection{Row: d.Row, Class: d.Prediction, Tag: d.Tag}
	}
	for i, c := range r.Summary.ClassCounts {
		res.ClassCounts[i] = ClassCount{Class: c.Class, Count: c.Count}
	}
	for i, c := range r.Summary.TagCounts {
		res.TagCounts[i] = TagCount{Tag: c.Tag, Count: c.Count}
	}
	for i, f := range r.Summary.TopFeatures {
		res.TopFeatures[i] = Feature{Name: f.Feature, MeanAbs: f.MeanAbs}
	}
	if e := r.Explanation; e != nil {
		res.Features = append([]string(nil), e.Features...)
		res.Scores = e.Scores
	}
	return res
}
