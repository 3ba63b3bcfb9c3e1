// Package api is the HTTP surface of the simulator: launch/stop control,
// the live event stream (SSE and WebSocket), health, metrics and the
// static observer UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pardeema/bot-attack-simulator/pkg/bus"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/runner"
	"github.com/pardeema/bot-attack-simulator/pkg/telemetry"
)

// Server serves the simulator's HTTP API.
type Server struct {
	cfg     *config.Config
	coord   *runner.Coordinator
	bus     bus.Bus
	log     *logging.Logger
	metrics *telemetry.Metrics

	httpServer *http.Server
}

// ServerConfig wires the server's collaborators. Metrics is optional.
type ServerConfig struct {
	Config      *config.Config
	Coordinator *runner.Coordinator
	Bus         bus.Bus
	Logger      *logging.Logger
	Metrics     *telemetry.Metrics
}

// NewServer builds the server and its routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:     cfg.Config,
		coord:   cfg.Coordinator,
		bus:     cfg.Bus,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}

	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.loggingMiddleware)

	router.Post("/launch-attack", s.handleLaunch)
	router.Post("/stop-attack", s.handleStop)
	router.Get("/attack-stream", s.handleStream)
	router.Get("/ws", s.handleWebSocket)
	router.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.cfg.StaticDir != "" {
		router.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info(logging.CategoryServer, "server_listening", "", map[string]any{"addr": s.cfg.Listen})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug(logging.CategoryServer, "http_request", "", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
