package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/chart"
	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/history"
	"github.com/crimson-sun/edrdash/internal/metrics"
	"github.com/crimson-sun/edrdash/internal/model"
	"github.com/crimson-sun/edrdash/internal/output"
	"github.com/crimson-sun/edrdash/internal/pipeline"
)

const defaultRunsLimit = 20

var templateFuncs = template.FuncMap{
	"tail": tailAfterHead,
	"more": func(s model.Summary) int {
		tail := tailAfterHead(s)
		if len(tail) == 0 {
			return 0
		}
		return tail[0].Row - len(s.Head)
	},
	"share": func(n, total int) string {
		if total == 0 {
			return "0.0%"
		}
		return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
	},
	"score": func(f float64) string {
		return strconv.FormatFloat(f, 'f', 4, 64)
	},
}

// tailAfterHead drops the tail rows already shown in the head, which happens
// when a run is shorter than two previews.
func tailAfterHead(s model.Summary) []model.Detection {
	for i, d := range s.Tail {
		if d.Row >= len(s.Head) {
			return s.Tail[i:]
		}
	}
	return nil
}

// page is the data behind the dashboard template.
type page struct {
	Report    *model.Report
	Runs      []history.Entry
	Error     string
	MaxUpload int64
	Charts    bool

	severity map[string]taxonomy.Severity
}

// Severity returns the CSS class for a tag.
func (p page) Severity(tag string) string {
	if sev, ok := p.severity[tag]; ok {
		return string(sev)
	}
	return string(taxonomy.SeverityHigh)
}

func (s *Server) newPage(ctx context.Context) page {
	p := page{
		MaxUpload: s.config.MaxUploadBytes,
		Charts:    s.history != nil,
		severity:  make(map[string]taxonomy.Severity),
	}
	for _, e := range s.taxonomy.Entries() {
		p.severity[e.Tag()] = e.Severity
	}
	if s.history != nil {
		runs, err := s.history.List(ctx, defaultRunsLimit)
		if err != nil {
			s.logger.Warn("failed to list runs", zap.Error(err))
		}
		p.Runs = runs
	}
	return p
}

func (s *Server) render(w http.ResponseWriter, status int, p page) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, "dashboard.html", p); err != nil {
		s.logger.Error("failed to render dashboard", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// handleDashboard handles GET /. It shows the most recent run, if any.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r.Context())
	if len(p.Runs) > 0 {
		rep, err := s.history.Get(r.Context(), p.Runs[0].ID)
		if err == nil {
			p.Report = rep
		} else if !errors.Is(err, history.ErrNotFound) {
			s.logger.Warn("failed to load latest run", zap.Error(err))
		}
	}
	s.render(w, http.StatusOK, p)
}

// handleDetectForm handles POST /detect from the dashboard upload form.
func (s *Server) handleDetectForm(w http.ResponseWriter, r *http.Request) {
	rep, status, err := s.detect(w, r)
	p := s.newPage(r.Context())
	if err != nil {
		p.Error = err.Error()
		s.render(w, status, p)
		return
	}
	p.Report = rep
	s.render(w, http.StatusOK, p)
}

// handleDetect handles POST /api/v1/detect.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	rep, status, err := s.detect(w, r)
	if err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	v, err := output.ParseVerbosity(r.URL.Query().Get("verbosity"))
	if err != nil {
		v = output.Full
	}
	s.respondJSON(w, http.StatusOK, output.FormatReport(rep, v))
}

// detect runs the pipeline on the request's upload and maps failures to an
// HTTP status.
func (s *Server) detect(w http.ResponseWriter, r *http.Request) (*model.Report, int, error) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d bytes", s.config.MaxUploadBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	rep, err := s.detector.Detect(r.Context(), upload)
	if err != nil {
		return nil, statusFor(err), err
	}
	return rep, http.StatusOK, nil
}

// readUpload returns the CSV carried by r: the multipart field "file", or the
// raw body for any other content type. It returns nil when there is none.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (io.Reader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
			return nil, err
		}
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
		f, _, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	case "application/x-www-form-urlencoded":
		// The form was posted without a file input.
		return nil, nil
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		return bytes.NewReader(data), nil
	}
}

func statusFor(err error) int {
	switch pipeline.Classify(err) {
	case metrics.OutcomeSchema, metrics.OutcomeModel:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleListRuns handles GET /api/v1/runs?limit=N.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.Report, bool) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "run history is disabled")
		return nil, false
	}
	id := mux.Vars(r)["id"]
	rep, err := s.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load run", zap.String("run_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load run")
		return nil, false
	}
	return rep, true
}

// handleGetRun handles GET /api/v1/runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	v, err := output.ParseVerbosity(r.URL.Query().Get("verbosity"))
	if err != nil {
		v = output.Full
	}
	s.respondJSON(w, http.StatusOK, output.FormatReport(rep, v))
}

// handleChart handles GET /api/v1/runs/{id}/charts/{kind}.svg.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	kind, err := chart.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	rep, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	err = chart.Render(&buf, kind, rep.Summary, s.taxonomy.NormalTag())
	if errors.Is(err, chart.ErrNoData) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to render chart", zap.String("chart", string(kind)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(buf.Bytes())
}

// handleLabels handles GET /api/v1/labels.
func (s *Server) handleLabels(w http.ResponseWriter, _ *http.Request) {
	type label struct {
		taxonomy.Entry
		Tag string `json:"tag"`
	}
	entries := s.taxonomy.Entries()
	out := make([]label, len(entries))
	for i, e := range entries {
		out[i] = label{Entry: e, Tag: e.Tag()}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"labels": out})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.history.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
