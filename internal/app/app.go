// Package app assembles the detection components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/config"
	"github.com/crimson-sun/edrdash/internal/engine"
	"github.com/crimson-sun/edrdash/internal/engine/classifier"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/engine/explainer"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/history"
	"github.com/crimson-sun/edrdash/internal/metrics"
	"github.com/crimson-sun/edrdash/internal/output"
	"github.com/crimson-sun/edrdash/internal/pipeline"
)

// App holds the long-lived components shared by every run.
type App struct {
	Config   config.Config
	Model    classifier.Model
	Taxonomy *taxonomy.Taxonomy
	Engine   *engine.Engine
	Loader   *dataset.Loader
	History  history.Store
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	tracerProvider trace.TracerProvider
}

// WithTracerProvider sets the provider for engine spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *buildOptions) { o.tracerProvider = tp }
}

// Build opens the model, loads the taxonomy and wires the engine, loader,
// history store and metrics. The caller owns the App and must Close it.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var modelOpts []classifier.Option
	if cfg.Model.Format != "" {
		modelOpts = append(modelOpts, classifier.WithFormat(cfg.Model.Format))
	}
	if cfg.Model.ONNXLibrary != "" {
		modelOpts = append(modelOpts, classifier.WithONNXLibrary(cfg.Model.ONNXLibrary))
	}
	if len(cfg.Model.Features) > 0 {
		modelOpts = append(modelOpts, classifier.WithFeatures(cfg.Model.Features))
	}
	m, err := classifier.Open(cfg.Model.Path, modelOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: open model: %w", err)
	}
	info := m.Info()
	logger.Info("model loaded",
		zap.String("path", info.Path),
		zap.String("format", info.Format),
		zap.Int("features", len(info.Features)),
		zap.Int("classes", len(info.Classes)),
	)

	tax := taxonomy.Default()
	if cfg.Labels.File != "" {
		tax, err = taxonomy.LoadFile(cfg.Labels.File)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("app: load labels: %w", err)
		}
	}

	ex, err := explainer.New(cfg.Explain.Algorithm,
		explainer.WithPermutations(cfg.Explain.Permutations),
		explainer.WithBackgroundRows(cfg.Explain.BackgroundRows),
		explainer.WithSeed(cfg.Explain.Seed),
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPreviewRows(cfg.Data.PreviewRows),
		engine.WithTopFeatures(cfg.Explain.TopN),
	}
	if bo.tracerProvider != nil {
		engOpts = append(engOpts, engine.WithTracerProvider(bo.tracerProvider))
	}

	loaderOpts := []dataset.Option{dataset.WithLogger(logger)}
	if cfg.Data.SamplePath != "" {
		loaderOpts = append(loaderOpts, dataset.WithSampleFile(cfg.Data.SamplePath))
	}
	loader := dataset.NewLoader(loaderOpts...)
	if _, err := loader.Sample(); err != nil {
		m.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	store, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		m.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Model:    m,
		Taxonomy: tax,
		Engine:   engine.New(m, tax, ex, engOpts...),
		Loader:   loader,
		History:  store,
		Metrics:  metrics.New(),
		Logger:   logger,
	}, nil
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (history.Store, error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store := history.NewRedis(rdb, history.WithTTL(cfg.TTL), history.WithMaxRuns(cfg.MaxRuns))
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("app: history: %w", err)
		}
		logger.Info("run history in redis", zap.String("addr", cfg.RedisAddr))
		return store, nil
	default:
		return history.NewMemory(cfg.MaxRuns), nil
	}
}

// Pipeline builds a pipeline over the app's components writing to out.
func (a *App) Pipeline(out output.Output) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithHistory(a.History),
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithLogger(a.Logger),
	}
	if out != nil {
		opts = append(opts, pipeline.WithOutput(out))
	}
	return pipeline.New(a.Loader, a.Engine, opts...)
}

// Close releases the model and the history store.
func (a *App) Close() error {
	return errors.Join(a.Model.Close(), a.History.Close())
}
