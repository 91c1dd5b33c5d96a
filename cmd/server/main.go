package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"overlaycore/src/authz"
	"overlaycore/src/broadcast"
	"overlaycore/src/config"
	"overlaycore/src/control"
	"overlaycore/src/livestate"
	"overlaycore/src/logging"
	"overlaycore/src/metrics"
	"overlaycore/src/middleware"
	"overlaycore/src/overlay"
	"overlaycore/src/persistence"
	"overlaycore/src/timer"
	"overlaycore/src/utils"
)

func main() {
	cfg := config.Load()
	logging.Configure()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := mustAdapter(ctx, cfg)
	store := livestate.New()
	gate := authz.New(cfg.JWTSecretKey, adapter)
	registry := broadcast.NewRegistry()

	replicator := maybeReplicator(ctx, cfg, registry)
	wsServer := broadcast.NewServer(registry, gate, replicator)

	tick := timer.New(store, wsServer, adapter)
	tick.Start(ctx)

	r := chi.NewRouter()
	middleware.Setup(r, cfg.BehindProxy, cfg.AllowedOrigins, cfg.ControlRPS)

	controlAPI := control.New(adapter, gate, store, wsServer)
	controlAPI.Routes(r)

	overlayHandler := overlay.New(adapter, store)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(cfg.OverlayRPS, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP)))
		overlayHandler.Routes(r)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/socket", wsServer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"code": "not_found", "message": "route does not exist"},
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsSrv := newMetricsServer(cfg.MetricsPort)

	go func() {
		logging.Log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()
	go func() {
		logging.Log.WithField("addr", metricsSrv.Addr).Info("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("metrics server error")
		}
	}()

	waitForShutdown(srv, metricsSrv, cancel)
}

// newMetricsServer serves /metrics and /debug/latency on their own port, so
// Prometheus scraping and request-latency introspection never share a
// listener (and its rate limits) with the control/overlay surface.
func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/latency", metrics.LatencyHandler())
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func mustAdapter(ctx context.Context, cfg config.Config) persistence.Adapter {
	if cfg.DatabaseURL == "" {
		logging.Log.Warn("DATABASE_URL not set, running against an in-memory persistence adapter")
		return persistence.NewMemoryAdapter()
	}
	adapter, err := persistence.NewPostgresAdapter(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	return adapter
}

// maybeReplicator wires a Redis-backed cross-replica broadcaster when
// REDIS_URL is configured; otherwise every replica only ever sees its own
// in-process room membership.
func maybeReplicator(ctx context.Context, cfg config.Config, registry *broadcast.Registry) broadcast.Replicator {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logging.Log.WithError(err).Fatal("invalid REDIS_URL")
	}
	client := redis.NewClient(opts)
	replicator := broadcast.NewRedisReplicator(client, "overlaycore:broadcast", registry)
	replicator.Start(ctx)
	return replicator
}

func waitForShutdown(srv, metricsSrv *http.Server, cancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	cancel()
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
}
