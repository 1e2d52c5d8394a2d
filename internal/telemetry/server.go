package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// NewMetricsServer exposes the Prometheus scrape endpoint on addr. Request
// contexts derive from ctx, so handlers log through the caller's logger.
func NewMetricsServer(ctx context.Context, addr string, t *Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Use(RequestID, AccessLog)
	r.Method(http.MethodGet, "/metrics", t.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
