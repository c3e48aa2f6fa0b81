package ops

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redislib "github.com/redis/go-redis/v9"

	"github.com/iho/billsync/internal/infrastructure/config"
)

// NewServer builds the operational HTTP server: health and readiness probes
// plus the Prometheus scrape endpoint. redisClient may be nil when
// checkpoints are disabled.
func NewServer(cfg *config.Config, pool *pgxpool.Pool, redisClient *redislib.Client) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if err := pool.Ping(ctx); err != nil {
			writeUnavailable(w, "postgres: "+err.Error())
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				writeUnavailable(w, "redis: "+err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
}

func writeUnavailable(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(msg))
}