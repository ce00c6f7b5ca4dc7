package dataset

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/model"
)

//go:embed sample/network_events.csv
var bundledSample []byte

// ErrMalformedSample means the fallback dataset itself cannot be parsed. The
// process cannot serve detections without it.
var ErrMalformedSample = errors.New("dataset: malformed sample dataset")

// Fallback reasons.
const (
	ReasonAbsent      = "absent"
	ReasonUnparseable = "unparseable"
)

// Loader resolves the table for a run: the upload when it parses, the sample
// dataset otherwise.
type Loader struct {
	sample []byte
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithSampleFile replaces the bundled sample with the contents of path.
func WithSampleFile(path string) Option {
	return func(l *Loader) {
		data, err := os.ReadFile(path)
		if err != nil {
			// Keep a nil sample so LoadOrSample reports it as malformed.
			l.sample = nil
			l.logger.Error("failed to read sample dataset", zap.String("path", path), zap.Error(err))
			return
		}
		l.sample = data
	}
}

// WithSampleData replaces the bundled sample with data.
func WithSampleData(data []byte) Option {
	return func(l *Loader) { l.sample = data }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader backed by the bundled sample dataset.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{sample: bundledSample, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sample parses the fallback dataset.
func (l *Loader) Sample() (*model.Table, error) {
	if len(l.sample) == 0 {
		return nil, ErrMalformedSample
	}
	t, err := Load(bytes.NewReader(l.sample))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	t.Source = model.SourceSample
	return t, nil
}

// LoadOrSample parses upload and falls back to the sample dataset when upload
// is nil, empty or not valid CSV. The returned Fallback is nil when the upload
// was used. Only a malformed sample yields an error.
func (l *Loader) LoadOrSample(upload io.Reader) (*model.Table, *model.Fallback, error) {
	if upload != nil {
		t, err := Load(upload)
		if err == nil {
			t.Source = model.SourceUpload
			return t, nil, nil
		}
		fb := &model.Fallback{Reason: ReasonUnparseable, Detail: err.Error()}
		if errors.Is(err, ErrEmptyInput) {
			fb = &model.Fallback{Reason: ReasonAbsent}
		}
		return l.fallback(fb)
	}
	return l.fallback(&model.Fallback{Reason: ReasonAbsent})
}

func (l *Loader) fallback(fb *model.Fallback) (*model.Table, *model.Fallback, error) {
	l.logger.Warn("using sample dataset",
		zap.String("reason", fb.Reason),
		zap.String("detail", fb.Detail),
	)
	t, err := l.Sample()
	if err != nil {
		return nil, nil, err
	}
	return t, fb, nil
}
