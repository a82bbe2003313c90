// Package server exposes the run trigger over HTTP and, optionally, on a
// cron schedule.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"meetcost/internal/syncer"
)

// ErrRunInProgress is returned when a trigger arrives while a run is still
// executing. Runs are idempotent, so the caller simply tries again later.
var ErrRunInProgress = errors.New("a run is already in progress")

// Runner executes one annotation cycle. Satisfied by *syncer.Syncer.
type Runner interface {
	Run(ctx context.Context) (*syncer.Report, error)
}

// Server serves the /cron trigger endpoint.
type Server struct {
	logger   *slog.Logger
	runner   Runner
	addr     string
	apiKey   string // empty disables authentication
	schedule string // cron expression; empty disables the internal scheduler

	running atomic.Bool
}

// New creates a Server.
func New(logger *slog.Logger, runner Runner, addr, apiKey, schedule string) *Server {
	return &Server{
		logger:   logger,
		runner:   runner,
		addr:     addr,
		apiKey:   apiKey,
		schedule: schedule,
	}
}

// Start blocks serving HTTP until ctx is cancelled or the listener fails.
// When a schedule is configured, runs also fire on it without an external
// trigger.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/cron", s.authMiddleware(s.handleCron))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if s.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.schedule, func() {
			if _, err := s.runOnce(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
				s.logger.Error("Scheduled run failed", "error", err)
			}
		}); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
		s.logger.Info("Scheduler started", "schedule", s.schedule)
	}

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// runOnce executes a cycle unless one is already running. Overlap would be
// harmless (annotation is idempotent) but wastes API quota.
func (s *Server) runOnce(ctx context.Context) (*syncer.Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.runner.Run(ctx)
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	report, err := s.runOnce(r.Context())
	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, ErrRunInProgress):
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.Error("Run failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	default:
		_ = json.NewEncoder(w).Encode(report)
	}
}
