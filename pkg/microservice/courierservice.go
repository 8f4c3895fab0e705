package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-courier/pkg/cache"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/pipeline"
	"github.com/illmade-knight/go-courier/pkg/store"
	"github.com/rs/zerolog"
)

// Server is the courier host process: it exposes the admin HTTP surface and
// runs the scheduler that drives pipeline cycles. All message mutation goes
// through the director; the HTTP layer never touches the store directly
// except through the status fetcher.
type Server struct {
	logger    zerolog.Logger
	cfg       *Config
	director  *pipeline.Director
	status    cache.StatusFetcher
	scheduler *Scheduler

	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// NewServer wires the courier host. The status fetcher may be the cached or
// the store-backed variant.
func NewServer(
	cfg *Config,
	director *pipeline.Director,
	status cache.StatusFetcher,
	logger zerolog.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if director == nil {
		return nil, errors.New("director cannot be nil")
	}
	if status == nil {
		return nil, errors.New("status fetcher cannot be nil")
	}

	s := &Server{
		logger:   logger.With().Str("component", "CourierServer").Logger(),
		cfg:      cfg,
		director: director,
		status:   status,
	}

	scheduler, err := NewScheduler(cfg.CycleInterval, cfg.StartupDelay, func(ctx context.Context) {
		director.RunCycle(ctx, time.Now().UTC())
	}, logger)
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthzHandler)
	mux.HandleFunc("POST /messages", s.handleEnqueue)
	mux.HandleFunc("GET /messages/{key}/status", s.handleStatus)
	mux.HandleFunc("POST /cycle", s.handleRunCycle)
	s.mux = mux
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: mux,
	}

	return s, nil
}

// Start begins listening and launches the cycle scheduler.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.scheduler.Start()
	return nil
}

// Shutdown stops the scheduler, waits for the in-flight cycle, then stops the
// HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down courier service...")
	s.scheduler.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("Courier service stopped.")
	return nil
}

// Mux returns the underlying ServeMux so hosts can attach extra handlers.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// GetHTTPPort returns the port the server is actually listening on.
func (s *Server) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.cfg.HTTPPort
	}
	return ":" + port
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var msg courier.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	created, err := s.director.Enqueue(r.Context(), msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info().Str("message_id", created.ID).Str("message_key", created.Key).Msg("Message enqueued.")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":  created.ID,
		"key": created.Key,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	status, err := s.status.Fetch(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Str("message_key", key).Msg("Status lookup failed.")
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	report := s.director.RunCycle(r.Context(), time.Now().UTC())

	w.Header().Set("Content-Type", "application/json")
	if report.Skipped {
		w.WriteHeader(http.StatusConflict)
	}
	_ = json.NewEncoder(w).Encode(report)
}
