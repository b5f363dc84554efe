// Package httpapi is the thin operator-status HTTP surface spec.md §7
// requires: structured error counts per kind, a last-successful-poll
// timestamp per underlying, and a last-successful-analytics-calc timestamp.
// There is no downstream query or visualization API — that stays out of
// scope per §1. Grounded on the teacher's internal/server package (chi
// router, middleware stack, writeJSON helper, gopsutil-backed stats), scaled
// down to the handful of routes this system actually needs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aristath/optionpulse/internal/ingestion"
	"github.com/aristath/optionpulse/internal/stats"
)

// IngestionStatus is the slice of ingestion.Engine the status endpoint
// reads.
type IngestionStatus interface {
	State() ingestion.State
	LastSuccessfulPoll() time.Time
}

// AnalyticsStatus is the slice of analytics.Engine the status endpoint
// reads.
type AnalyticsStatus interface {
	LastSuccessfulTick() time.Time
}

// Config wires an Engine's dependencies.
type Config struct {
	Underlying    string
	Ingestion     IngestionStatus
	Analytics     AnalyticsStatus
	IngestionErrs *stats.ErrorCounters
	AnalyticsErrs *stats.ErrorCounters
	Log           zerolog.Logger
}

// Server hosts the operator status surface over HTTP.
type Server struct {
	cfg    Config
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server listening on addr (e.g. ":8090"). The process handle
// used for RSS reporting is resolved lazily on each /status call so it
// tolerates being constructed before the process is fully up.
func New(cfg Config, addr string) *Server {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "httpapi").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
}

// Start runs the HTTP server until it's shut down; callers typically invoke
// this in its own goroutine.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("operator status endpoint starting")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is exactly what spec.md §7 says operators must see, plus
// the process RSS/goroutine count the teacher's gopsutil-backed health
// surface always carries alongside it.
type statusResponse struct {
	Underlying              string           `json:"underlying"`
	IngestionState          string           `json:"ingestion_state"`
	LastSuccessfulPoll      *time.Time       `json:"last_successful_poll,omitempty"`
	LastSuccessfulAnalytics *time.Time       `json:"last_successful_analytics_calc,omitempty"`
	IngestionErrors         map[string]int64 `json:"ingestion_errors"`
	AnalyticsErrors         map[string]int64 `json:"analytics_errors"`
	Goroutines              int              `json:"goroutines"`
	RSSBytes                uint64           `json:"rss_bytes,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Underlying:      s.cfg.Underlying,
		IngestionErrors: map[string]int64{},
		AnalyticsErrors: map[string]int64{},
		Goroutines:      runtime.NumGoroutine(),
	}

	if s.cfg.Ingestion != nil {
		resp.IngestionState = string(s.cfg.Ingestion.State())
		if lp := s.cfg.Ingestion.LastSuccessfulPoll(); !lp.IsZero() {
			resp.LastSuccessfulPoll = &lp
		}
	}
	if s.cfg.Analytics != nil {
		if lt := s.cfg.Analytics.LastSuccessfulTick(); !lt.IsZero() {
			resp.LastSuccessfulAnalytics = &lt
		}
	}
	if s.cfg.IngestionErrs != nil {
		resp.IngestionErrors = s.cfg.IngestionErrs.Snapshot()
	}
	if s.cfg.AnalyticsErrs != nil {
		resp.AnalyticsErrors = s.cfg.AnalyticsErrs.Snapshot()
	}

	if rss, err := s.processRSS(); err == nil {
		resp.RSSBytes = rss
	} else {
		s.log.Debug().Err(err).Msg("could not read process RSS")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
