// Package server serves the detection dashboard and its JSON API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/history"
	"github.com/crimson-sun/edrdash/internal/metrics"
	"github.com/crimson-sun/edrdash/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Detector runs one detection over an optional CSV upload. A nil upload
// selects the sample dataset. *pipeline.Pipeline satisfies it.
type Detector interface {
	Detect(ctx context.Context, upload io.Reader) (*model.Report, error)
}

// Config holds HTTP server settings.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8501",
		MaxUploadBytes: 32 << 20,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   2 * time.Minute,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracerProvider sets the provider for server spans. Default: the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

// Server is the dashboard HTTP handler.
type Server struct {
	router   *mux.Router
	handler  http.Handler
	detector Detector
	history  history.Store
	taxonomy *taxonomy.Taxonomy
	metrics  *metrics.Metrics
	logger   *zap.Logger
	config   Config
	pages    *template.Template

	tracerProvider trace.TracerProvider
}

// New creates a Server. store may be nil, in which case runs are not
// listed and /api/v1/runs answers 404.
func New(cfg Config, det Detector, store history.Store, tax *taxonomy.Taxonomy, opts ...Option) (*Server, error) {
	if det == nil {
		return nil, errors.New("server: detector is required")
	}
	if tax == nil {
		tax = taxonomy.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	pages, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("server: parse templates: %w", err)
	}

	s := &Server{
		router:   mux.NewRouter(),
		detector: det,
		history:  store,
		taxonomy: tax,
		logger:   zap.NewNop(),
		config:   cfg,
		pages:    pages,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.router.Use(s.recoveryMiddleware, s.loggingMiddleware)

	var otelOpts []otelhttp.Option
	if s.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.tracerProvider))
	}
	s.handler = otelhttp.NewHandler(s.router, "edrdash", otelOpts...)
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/detect", s.handleDetectForm).Methods(http.MethodPost)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/charts/{kind:[a-z]+}.svg", s.handleChart).Methods(http.MethodGet)
	v1.HandleFunc("/labels", s.handleLabels).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting dashboard", zap.String("addr", s.config.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
				)
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
