package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/ledger"
	"github.com/sparetrack/sparetrack/internal/msl"
	"github.com/sparetrack/sparetrack/internal/observability"
	"github.com/sparetrack/sparetrack/internal/request"
)

// QueueInspector reports background queue depth for the health check.
type QueueInspector interface {
	QueueDepth(ctx context.Context) (int, error)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	BucketHandler  *bucket.Handler
	LedgerHandler  *ledger.Handler
	RequestHandler *request.Handler
	MSLHandler     *msl.Handler
	Pool           *pgxpool.Pool
	Queue          QueueInspector
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		if params.Queue != nil {
			depth, err := params.Queue.QueueDepth(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","queue_depth":%d}`, depth)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.BucketHandler != nil {
			r.Route("/buckets", params.BucketHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/movements", params.LedgerHandler.MountRoutes)
		}
		if params.RequestHandler != nil {
			r.Route("/requests", params.RequestHandler.MountRoutes)
		}
		if params.MSLHandler != nil {
			r.Route("/msl", params.MSLHandler.MountRoutes)
		}
	})

	return r
}
