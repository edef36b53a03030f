package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server interface {
	Run()
	Shutdown()
}

var _ Server = (*StandardServer)(nil)

type StandardServer struct {
	server *http.Server
}

// Run serves until Shutdown. A failure to bind is logged but never takes the
// replication path down with it.
func (s *StandardServer) Run() {
	slog.Info("health server starting", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("could not start health server", slog.Any("error", err))
	}
}

func (s *StandardServer) Shutdown() {
	if err := s.server.Shutdown(context.Background()); err != nil {
		slog.Error("shutting down health server", slog.Any("error", err))
	}
}

// NewServer builds the health/metrics server. Unregistered paths get the
// mux's default 404.
func NewServer(addr string, registry *prometheus.Registry, controllers ...Controller) *StandardServer {
	router := http.NewServeMux()
	router.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	for _, controller := range controllers {
		controller.AddRoutes(router)
	}

	return &StandardServer{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}
