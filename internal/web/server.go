// Package web exposes a read-only JSON API over the run store and event log.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jholloway/pipewright/internal/artifact"
	"github.com/jholloway/pipewright/internal/events"
	"github.com/jholloway/pipewright/internal/run"
)

// Server serves recorded pipeline runs over HTTP.
type Server struct {
	store *run.Store
	log   *events.Log // nil disables the events endpoint
	port  int
}

// NewServer creates a Server. log may be nil.
func NewServer(store *run.Store, log *events.Log, port int) *Server {
	return &Server{store: store, log: log, port: port}
}

// Handler builds the route tree. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/artifacts", s.handleArtifacts)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// Start listens on the configured port and serves until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("pipewright API listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	runs, err := s.store.List(statusFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []run.Record{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(chi.URLParam(r, "runID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, run.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.store.Get(runID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	store, err := artifact.Open(s.store.ArtifactDir(runID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	handles := store.List()
	if handles == nil {
		handles = []artifact.Handle{}
	}
	writeJSON(w, handles)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("event log not configured"))
		return
	}
	runID := chi.URLParam(r, "runID")
	evts, err := s.log.ListRunEvents(runID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if evts == nil {
		evts = []events.RunEvent{}
	}
	writeJSON(w, evts)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
