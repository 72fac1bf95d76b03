package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// RunLister returns recently recorded runs, newest first.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// Server exposes health, readiness, metrics and run-history HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and, when
// runs is non-nil, /runs. Readiness requires every checker to pass.
func NewServer(addr string, runs RunLister, logger *slog.Logger, checkers ...sharedobs.ReadinessChecker) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(allReady(checkers)))
	mux.Handle("GET /metrics", promhttp.Handler())
	if runs != nil {
		mux.HandleFunc("GET /runs", s.handleRuns(runs))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleRuns(runs RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxRunsLimit {
				sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{
					"error": "limit must be between 1 and " + strconv.Itoa(maxRunsLimit),
				})
				return
			}
			limit = n
		}

		records, err := runs.RecentRuns(r.Context(), limit)
		if err != nil {
			s.logger.Error("list runs failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		if records == nil {
			records = []domain.RunRecord{}
		}
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"runs": records})
	}
}

// readiness combines several checkers into one.
type readiness []sharedobs.ReadinessChecker

func allReady(checkers []sharedobs.ReadinessChecker) readiness {
	return readiness(checkers)
}

func (rs readiness) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range rs {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
