// Package server exposes the pipeline engine over HTTP: a synchronous
// workflow endpoint, an NDJSON streaming variant, run history lookups, run
// cancellation and a liveness probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/engine"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/store"
	"github.com/hupe1980/factorymesh/trace"
)

// RunIDHeader lets callers choose the run identifier.
const RunIDHeader = "X-Run-ID"

const maxBodyBytes = 1 << 20

// Runner is the part of engine.Engine the server drives.
type Runner interface {
	Run(ctx context.Context, req core.Request, optFns ...func(o *engine.RunOptions)) (*trace.WorkflowResult, error)
	Invoke(ctx context.Context, req core.Request, optFns ...func(o *engine.RunOptions)) (string, <-chan core.Event, <-chan engine.Completion)
	Cancel(runID string) error
	Active() []engine.RunInfo
}

// Options configure a Server.
type Options struct {
	// RequestTimeout bounds one workflow request. Zero disables the bound.
	RequestTimeout time.Duration
	// Store serves the run history endpoints. Nil disables them.
	Store   store.Store
	Version string
	Logger  logging.Logger
}

// Server is the HTTP boundary of factorymesh.
type Server struct {
	runner Runner
	opts   Options
	mux    *http.ServeMux
	logger logging.Logger
}

// New creates a Server for runner.
func New(runner Runner, optFns ...func(o *Options)) *Server {
	opts := Options{RequestTimeout: 10 * time.Minute, Version: "dev"}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{runner: runner, opts: opts, mux: http.NewServeMux(), logger: logging.Ensure(opts.Logger)}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/workflows", s.handleWorkflow)
	s.mux.HandleFunc("POST /v1/workflows/stream", s.handleStream)
	s.mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /v1/runs/active", s.handleActive)
	s.mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancel)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type errorResponse struct {
	Error string `json:"error"`
}

// workflowResponse is a WorkflowResult with the failure reason surfaced at
// the top level.
type workflowResponse struct {
	*trace.WorkflowResult
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.opts.Version,
		"active":    len(s.runner.Active()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (core.Request, bool) {
	var req core.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return core.Request{}, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return core.Request{}, false
	}
	return req, true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func runIDOption(r *http.Request) func(o *engine.RunOptions) {
	id := r.Header.Get(RunIDHeader)
	return func(o *engine.RunOptions) { o.RunID = id }
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	s.logger.Info("server.workflow.start", "request_id", req.ID)

	res, err := s.runner.Run(ctx, req, runIDOption(r))
	if err != nil {
		status := http.StatusInternalServerError
		var cfgErr *core.ConfigurationError
		if res == nil && !errors.As(err, &cfgErr) {
			status = http.StatusConflict
		}
		s.logger.Error("server.workflow.failed", "request_id", req.ID, "error", err.Error())
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := workflowResponse{WorkflowResult: res}
	if res.Failure != nil {
		resp.Error = res.Failure.Message
	}
	writeJSON(w, statusFor(res.Status), resp)
}

func statusFor(status trace.RunStatus) int {
	switch status {
	case trace.RunCompleted:
		return http.StatusOK
	case trace.RunFailed:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// streamFrame is the terminal line of a streamed run.
type streamFrame struct {
	RunID  string                `json:"run_id"`
	Result *trace.WorkflowResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	runID, events, done := s.runner.Invoke(ctx, req, runIDOption(r))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set(RunIDHeader, runID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.logger.Warn("server.stream.write_failed", "run_id", runID, "error", err.Error())
			cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	c := <-done
	frame := streamFrame{RunID: runID, Result: c.Result}
	if c.Err != nil {
		frame.Error = c.Err.Error()
	}
	_ = enc.Encode(frame)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run history disabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.opts.Store.List(r.Context(), r.URL.Query().Get("request_id"), limit)
	if err != nil {
		s.logger.Error("server.runs.list_failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runner.Active()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run history disabled"})
		return
	}

	res, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error("server.runs.get_failed", "run_id", r.PathValue("id"), "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Cancel(id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("server.run.cancelled", "run_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
