package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const dateLayout = "2006-01-02"

// Server exposes health, readiness, metrics and series lookup endpoints.
type Server struct {
	httpServer *http.Server
	series     domain.SeriesReader
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics
// routes. When series is non-nil it also serves GET /series.
func NewServer(addr string, ready sharedobs.ReadinessChecker, series domain.SeriesReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		series: series,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if series != nil {
		mux.HandleFunc("GET /series", s.handleSeries)
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

// handleSeries serves GET /series?pathname=&start=&end= with dates as
// YYYY-MM-DD. Omitted dates leave the range open.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pathname := q.Get("pathname")
	if _, err := domain.ParsePathname(pathname); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var tr domain.TimeRange
	var err error
	if tr.Start, err = parseDate(q.Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if tr.End, err = parseDate(q.Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		writeError(w, http.StatusBadRequest, errors.New("end is before start"))
		return
	}

	series, err := s.series.Read(r.Context(), pathname, tr)
	switch {
	case errors.Is(err, domain.ErrSeriesNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.Error("series read failed", "pathname", pathname, "error", err)
		writeError(w, http.StatusBadGateway, errors.New("series source unavailable"))
	default:
		writeJSON(w, http.StatusOK, series)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
