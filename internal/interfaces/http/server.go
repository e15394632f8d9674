// Package http serves the read-only API over the stored shortlists,
// runs and opportunities, plus the pipeline trigger endpoint. The
// server never computes scores; it only reads what runs persisted.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/smartacus/smartacus/internal/budget"
	"github.com/smartacus/smartacus/internal/config"
	"github.com/smartacus/smartacus/internal/metrics"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/pipeline"
)

// Trigger starts pipeline runs. Implemented by the run coordinator in
// cmd; the server never blocks a request on a run.
type Trigger interface {
	// StartRun launches a run in the background and returns its run id.
	// Returns false when a run is already in flight.
	StartRun(opts pipeline.Options) (string, bool)
	// Running reports whether a run is currently in flight.
	Running() bool
}

// Server is the read API.
type Server struct {
	cfg     config.ServerConfig
	router  *mux.Router
	server  *http.Server
	repo    persistence.Repository
	trigger Trigger
	budget  *budget.Manager
	cache   *ResponseCache
	metrics *metrics.Set
	limiter *rate.Limiter
}

// NewServer wires routes and middleware. trigger, mgr, cache and m may
// each be nil; the matching endpoints then degrade gracefully.
func NewServer(cfg config.ServerConfig, repo persistence.Repository, trigger Trigger, mgr *budget.Manager, cache *ResponseCache, m *metrics.Set) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		repo:    repo,
		trigger: trigger,
		budget:  mgr,
		cache:   cache,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)*2+1),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/shortlist", s.handleShortlist).Methods(http.MethodGet)
	s.router.HandleFunc("/shortlist/export", s.handleShortlistExport).Methods(http.MethodGet)
	s.router.HandleFunc("/opportunities", s.handleOpportunities).Methods(http.MethodGet)
	s.router.HandleFunc("/pipeline/status", s.handlePipelineStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/pipeline/run", s.handlePipelineRun).Methods(http.MethodPost)
	s.router.HandleFunc("/budget", s.handleBudget).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// ListenAndServe blocks until the context is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("read API listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		log.Debug().Str("method", r.Method).Str("path", route).
			Int("status", rec.status).Dur("elapsed", elapsed).Msg("request")
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, http.StatusText(rec.status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
