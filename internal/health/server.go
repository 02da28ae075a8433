// Package health exposes the health check and stats HTTP endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/store"
)

const (
	mongoPingTimeout  = 2 * time.Second
	statsTimeout      = 3 * time.Second
	readHeaderTimeout = 2 * time.Second
)

// MongoChecker pings the database.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// StatsSource reports collection counts.
type StatsSource interface {
	Snapshot(ctx context.Context) (store.Stats, error)
}

// FlowGauge reports how many conversations are in progress.
type FlowGauge interface {
	ActiveFlows() int
}

// Server hosts /healthz and /stats.
type Server struct {
	server *http.Server
	logger *logrus.Entry

	mongo MongoChecker
	stats StatsSource
	flows FlowGauge
	start time.Time
}

// Option configures optional endpoints.
type Option func(*Server)

// WithStats enables GET /stats.
func WithStats(stats StatsSource) Option {
	return func(s *Server) { s.stats = stats }
}

// WithFlowGauge adds the active flow count to /stats.
func WithFlowGauge(flows FlowGauge) Option {
	return func(s *Server) { s.flows = flows }
}

// WithProcessStart sets the time uptime is measured from.
func WithProcessStart(start time.Time) Option {
	return func(s *Server) {
		if !start.IsZero() {
			s.start = start
		}
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo,omitempty"`
}

type statsResponse struct {
	store.Stats
	ActiveFlows   *int   `json:"active_flows,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Error         string `json:"error,omitempty"`
}

// NewServer builds the server listening on port.
func NewServer(port int, mongo MongoChecker, logger *logrus.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logger,
		mongo:  mongo,
		start:  time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return srv
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	if s.stats != nil {
		r.Get("/stats", s.handleStats)
	}
	return r
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if err := s.pingMongo(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Mongo = "error"
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pingMongo(ctx context.Context) error {
	if s.mongo == nil {
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
		return errors.New("mongo checker missing")
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()

	if err := s.mongo.Ping(pingCtx); err != nil {
		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		return err
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	resp := statsResponse{UptimeSeconds: int64(time.Since(s.start).Seconds())}
	if s.flows != nil {
		n := s.flows.ActiveFlows()
		resp.ActiveFlows = &n
	}

	stats, err := s.stats.Snapshot(ctx)
	if err != nil {
		s.logger.WithField("event", "health_stats_error").WithError(err).Warn("stats snapshot failed")
		resp.Error = "stats unavailable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Stats = stats
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode response")
	}
}
