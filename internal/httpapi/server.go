// Package httpapi exposes the read-only query surface over stored alerts:
// list, filter by symbol/severity, summary stats, manual cleanup trigger,
// health, and Prometheus metrics.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/riftline/confluence-sentinel/internal/alerts"
	"github.com/riftline/confluence-sentinel/internal/persistence"
)

// Config tunes the HTTP server.
type Config struct {
	Port         int
	FrontendURL  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane server timeouts.
func DefaultConfig(port int, frontendURL string) Config {
	return Config{
		Port:         port,
		FrontendURL:  frontendURL,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only query API, plus one write endpoint (/api/cleanup)
// that triggers an out-of-band prune through the Emitter.
type Server struct {
	router  *mux.Router
	server  *http.Server
	repo    persistence.AlertRepo
	emitter *alerts.Emitter
	cfg     Config
}

// New builds a Server reading alert state from repo and triggering manual
// cleanup through emitter.
func New(cfg Config, repo persistence.AlertRepo, emitter *alerts.Emitter) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, repo: repo, emitter: emitter, cfg: cfg}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts", s.handleAlerts).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts/severity/{severity}", s.handleAlertsBySeverity).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts/{symbol}", s.handleAlertsBySymbol).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/cleanup", s.handleCleanup).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("elapsed", time.Since(start)).
			Msg("httpapi: request")
	})
}

// corsMiddleware allows any origin to read alert data — this surface is
// intentionally public-read, unlike the teacher's localhost-only policy.
// Unrecognized origins are logged, not rejected.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if s.cfg.FrontendURL != "" && !strings.EqualFold(origin, s.cfg.FrontendURL) {
				log.Debug().Str("origin", origin).Msg("httpapi: request from unrecognized origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWrapper struct {
	http.ResponseWriter
	status int
}

func (w *statusWrapper) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start blocks serving until the listener errors or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Int("port", s.cfg.Port).Msg("httpapi: listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
