// Package dashboard serves the monitoring UI's JSON API from the local job
// store. Reads never touch the backend; only extract submissions and
// document fetches do.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Denter-/extraction-monitor/client"
	"github.com/Denter-/extraction-monitor/compare"
	"github.com/Denter-/extraction-monitor/diag"
	"github.com/Denter-/extraction-monitor/jobs"
	"github.com/Denter-/extraction-monitor/quality"
)

// Backend is the slice of the job client the dashboard needs.
// *client.Client satisfies it.
type Backend interface {
	Create(ctx context.Context, url string) (jobs.Job, error)
	DownloadResult(ctx context.Context, resultPath string) (string, error)
	compare.Fetcher
}

// Server exposes the store, the quality analyzer and the comparison engine
// over HTTP.
type Server struct {
	store    *jobs.Store
	backend  Backend
	engine   *compare.Engine
	sink     diag.Sink
	recorder *diag.Recorder
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithEngine overrides the comparison engine.
func WithEngine(e *compare.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithSink sets the diagnostics sink for store writes made through the
// dashboard (extract submissions).
func WithSink(sink diag.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithRecorder additionally exposes the diagnostics log under
// /api/diagnostics.
func WithRecorder(r *diag.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
		s.sink = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a dashboard server over the given store and backend.
func New(store *jobs.Store, backend Backend, opts ...Option) *Server {
	s := &Server{
		store:   store,
		backend: backend,
		engine:  compare.New(),
		sink:    diag.Nop{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/jobs", s.handleList)
	r.Post("/api/extract", s.handleExtract)
	r.Get("/api/jobs/{id}", s.handleGet)
	r.Get("/api/jobs/{id}/quality", s.handleQuality)
	r.Get("/api/jobs/{id}/compare", s.handleCompare)
	r.Get("/api/jobs/{id}/download", s.handleDownload)

	if s.recorder != nil {
		r.Get("/api/diagnostics", s.handleDiagnostics)
		r.Get("/api/diagnostics/anomalies", s.handleAnomalies)
	}

	return r
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	events, err := s.recorder.Recent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if events == nil {
		events = []diag.StoredEvent{}
	}
	writeJSON(w, 200, map[string]any{"events": events})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	events, err := s.recorder.Anomalies(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if events == nil {
		events = []diag.StoredEvent{}
	}
	writeJSON(w, 200, map[string]any{"events": events})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	list := s.store.List(limit)
	writeJSON(w, 200, map[string]any{"jobs": list, "count": s.store.Len()})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" {
		writeError(w, 400, fmt.Errorf("url required"))
		return
	}

	job, err := s.backend.Create(r.Context(), req.URL)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	if job.Domain == "" {
		job.Domain = client.DeriveDomain(job.URL)
	}
	res := s.store.Apply(job)
	s.sink.RecordAsync(diag.Event{
		JobID: job.ID, Source: "create",
		Outcome: res.Outcome.String(), Detail: res.Reason,
	})
	writeJSON(w, 201, map[string]any{"job": job})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, 404, fmt.Errorf("job not found"))
		return
	}
	writeJSON(w, 200, map[string]any{"job": job})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, 404, fmt.Errorf("job not found"))
		return
	}
	text, err := s.resultText(r.Context(), job)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	issues := quality.Detect(text)
	writeJSON(w, 200, map[string]any{
		"job_id":     job.ID,
		"word_count": quality.WordCount(text),
		"issues":     issues,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, 404, fmt.Errorf("job not found"))
		return
	}
	candidate, err := s.resultText(r.Context(), job)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	baseline, err := compare.FindBaseline(r.Context(), s.backend, job.TitleOrDefault())
	var result compare.Result
	switch {
	case err == nil:
		result = s.engine.Compare(candidate, baseline)
	case errors.Is(err, compare.ErrBaselineUnavailable):
		result = s.engine.CompareSingle(candidate)
	default:
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"job_id": job.ID, "comparison": result})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, 404, fmt.Errorf("job not found"))
		return
	}
	text, err := s.resultText(r.Context(), job)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	filename := client.DownloadFilename(job.TitleOrDefault())
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(200)
	w.Write([]byte(text))
}

// resultText resolves a job's output document: inline markdown when the
// backend sent it, otherwise a storage download. Jobs that have not
// completed have no output yet.
func (s *Server) resultText(ctx context.Context, job jobs.Job) (string, error) {
	if job.Status != jobs.StatusCompleted {
		return "", errNotCompleted
	}
	if job.MarkdownContent != nil && *job.MarkdownContent != "" {
		return *job.MarkdownContent, nil
	}
	if job.ResultPath == nil || *job.ResultPath == "" {
		return "", client.ErrNotFound
	}
	return s.backend.DownloadResult(ctx, *job.ResultPath)
}

var errNotCompleted = errors.New("job has not completed")

// writeBackendError maps the client error taxonomy to HTTP statuses:
// transient transport failures are 502 (the UI shows a banner and keeps
// going), credential failures 401, missing documents an explicit 404.
func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotCompleted):
		writeError(w, 409, err)
	case errors.Is(err, client.ErrNotFound):
		writeError(w, 404, err)
	case errors.Is(err, client.ErrUnauthorized):
		writeError(w, 401, err)
	case errors.Is(err, client.ErrTransport):
		writeError(w, 502, err)
	default:
		s.logger.Error("dashboard: backend call failed", "error", err)
		writeError(w, 500, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
