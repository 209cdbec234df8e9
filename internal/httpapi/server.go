// Package httpapi serves the read-only ops surface: health, Prometheus
// metrics, and the latest persisted run summary.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xsquant/crosseval/internal/metrics"
	"github.com/xsquant/crosseval/internal/persistence"
)

// Server exposes run artifacts over HTTP. It is read-only: nothing it serves
// can mutate engine state.
type Server struct {
	router *mux.Router
	server *http.Server
	runs   persistence.RunRepo
	ledger persistence.LedgerRepo
	reg    *metrics.Registry
}

// New wires routes against the repositories. Either repo may be nil when
// persistence is not configured; the endpoints then answer 503.
func New(addr string, runs persistence.RunRepo, ledger persistence.LedgerRepo, reg *metrics.Registry) *Server {
	s := &Server{
		router: mux.NewRouter(),
		runs:   runs,
		ledger: ledger,
		reg:    reg,
	}
	s.router.Use(s.requestLogging)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/runs/latest", s.handleLatestRun).Methods("GET")
	s.router.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	s.router.HandleFunc("/runs/{id}/ledger", s.handleLedger).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
		log.Debug().Str("req_id", reqID).Str("method", r.Method).
			Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"store":     s.runs != nil,
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	rec, err := s.runs.Latest(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("latest run lookup failed")
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("run lookup failed")
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	id := mux.Vars(r)["id"]
	rows, err := s.ledger.ListByRun(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("ledger lookup failed")
		writeError(w, http.StatusInternalServerError, "ledger lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  id,
		"periods": len(rows),
		"ledger":  rows,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
