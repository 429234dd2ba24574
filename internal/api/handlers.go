// Package api exposes the optional status server: health, live run state and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadmax/sendbatch/internal/dashboard"
	"github.com/nadmax/sendbatch/internal/middleware"
)

func NewRouter(dash *dashboard.Dashboard) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", dash.GetSummary)
		r.Get("/results", dash.GetResults)
		r.Get("/results/{line}", dash.GetResult)
		r.Get("/runs", dash.GetRecentRuns)
		r.Get("/runs/{runID}/failures", dash.GetRunFailures)
	})

	return r
}

type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Start binds addr and serves in the background. A bind failure is returned
// immediately; later serve errors are only logged.
func Start(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server stopped", "error", err)
		}
	}()

	slog.Info("status server listening", "addr", ln.Addr().String())
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
