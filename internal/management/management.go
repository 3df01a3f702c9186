// Package management provides a lightweight HTTP API for runtime
// inspection of the running cache server.
//
// Endpoints:
//
//	GET /healthz  - liveness probe, plain "ok"
//	GET /status   - server identity, storage/network modes, store fill, uptime
//	GET /metrics  - full metrics snapshot
//
// The plane is read-only: cache contents are reachable only through the
// cache protocol itself.
package management

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lrucached/internal/config"
	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/storage"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	store     storage.Backend
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
	startTime time.Time
}

// New creates a management server.
func New(cfg *config.Config, store storage.Backend, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		metrics:   m,
		log:       log,
		startTime: time.Now(),
	}
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Uptime   string `json:"uptime"`
		Port     int    `json:"port"`
		Storage  string `json:"storage"`
		Network  string `json:"network"`
		Workers  int    `json:"workers"`
		Entries  int    `json:"entries"`
		MaxSize  int    `json:"maxSize"`
		FifoPair bool   `json:"fifoPair"`
	}
	resp := response{
		Status:   "running",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Port:     s.cfg.Port,
		Storage:  s.cfg.Storage,
		Network:  s.cfg.Network,
		Workers:  s.cfg.Workers,
		Entries:  s.store.Len(),
		MaxSize:  s.cfg.MaxSize,
		FifoPair: s.cfg.ReadFifo != "",
	}
	writeJSON(w, http.StatusOK, resp, s.log)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot(), s.log)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && log != nil {
		log.Errorf("encode", "%v", err)
	}
}

// ListenAndServe starts the management HTTP server on the loopback
// interface; it blocks until the server fails or the process exits.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	s.log.Infof("start", "management API on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
