package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/sweepstation/internal/httputil"
	"github.com/banshee-data/sweepstation/internal/liveplot"
	"github.com/banshee-data/sweepstation/internal/monitoring"
	"github.com/banshee-data/sweepstation/internal/runstore"
	"github.com/banshee-data/sweepstation/internal/security"
	"github.com/banshee-data/sweepstation/internal/sweep"
	"github.com/banshee-data/sweepstation/internal/version"
)

// Server serves the HTTP control surface.
type Server struct {
	address   string
	station   *Station
	store     *runstore.Store
	publisher *liveplot.Publisher
	server    *http.Server
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address   string
	Station   *Station
	Store     *runstore.Store     // optional
	Publisher *liveplot.Publisher // optional
}

// NewServer creates the HTTP server with its routes configured.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		address:   cfg.Address,
		station:   cfg.Station,
		store:     cfg.Store,
		publisher: cfg.Publisher,
	}
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.setupRoutes(),
	}
	return s
}

// setupRoutes configures the HTTP routes and handlers.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sweep/start", s.handleSweepStart)
	mux.HandleFunc("/api/sweep/stop", s.handleSweepStop)
	mux.HandleFunc("/api/sweep/status", s.handleSweepStatus)
	mux.HandleFunc("/api/sweep/tail", s.handleSweepTail)
	mux.HandleFunc("/api/parameters", s.handleParameters)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/file", s.handleRunFile)
	if s.store != nil {
		s.store.AttachAdminRoutes(mux)
	}
	return mux
}

// Handler returns the configured routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving and blocks until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("[api] HTTP server listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("[api] HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("[api] shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[api] HTTP server shutdown error: %v", err)
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleSweepStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}

	runID, err := s.station.StartSweep(req)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepActive):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, sweep.ErrSafetyAbort):
		httputil.WriteJSONError(w, http.StatusPreconditionFailed, err.Error())
		return
	default:
		httputil.BadRequest(w, err.Error())
		return
	}

	state := s.station.State()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"run":    state.Run,
	})
}

func (s *Server) handleSweepStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.station.StopSweep() {
		httputil.WriteJSONError(w, http.StatusConflict, "no sweep running")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "stopping"})
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.station.State())
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"parameters": s.station.ParameterNames(),
	})
}

// handleSweepTail streams completed rows as server-sent events.
func (s *Server) handleSweepTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.publisher == nil {
		httputil.NotFound(w, "live streaming not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable buffering for nginx

	id := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	rows, cancel := s.publisher.Subscribe(id)
	defer cancel()

	// initial ping to establish the stream
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case row, ok := <-rows:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]interface{}{
				"outer":  row.Coord.Outer,
				"inner":  row.Coord.Inner,
				"values": row.Values,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleRuns lists archived runs, or returns one run with its channel layout
// when run_id is given.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "run archive not enabled")
		return
	}

	if id := r.URL.Query().Get("run_id"); id != "" {
		run, err := s.store.GetRun(id)
		if errors.Is(err, runstore.ErrNotFound) {
			httputil.NotFound(w, "no such run")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		chans, err := s.store.Channels(id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{
			"run":      run,
			"channels": chans,
		})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"runs": runs})
}

// handleRunFile serves a single file from an archived run's data directory,
// such as the data table, a rendered plot or the HTML report.
func (s *Server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "run archive not enabled")
		return
	}
	id := r.URL.Query().Get("run_id")
	name := r.URL.Query().Get("name")
	if id == "" || name == "" {
		httputil.BadRequest(w, "run_id and name are required")
		return
	}
	run, err := s.store.GetRun(id)
	if errors.Is(err, runstore.ErrNotFound) {
		httputil.NotFound(w, "no such run")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	path := filepath.Join(run.Location, name)
	if err := security.ValidatePathWithinDirectory(path, run.Location); err != nil {
		httputil.BadRequest(w, "invalid file name")
		return
	}
	http.ServeFile(w, r, path)
}
