package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blast/internal/config"
	"blast/internal/dispatch"
	"blast/internal/httpapi"
	"blast/internal/ledger"
	"blast/internal/logging"
	"blast/internal/observability"
	"blast/internal/relay"
	"blast/internal/session"
	"blast/internal/store"
	"blast/internal/store/mem"
	"blast/internal/store/pg"
	"blast/internal/transport"
	"blast/internal/transport/sim"
)

// serverStore is the full persistence surface the server wires together.
type serverStore interface {
	session.Store
	dispatch.Store
	ledger.Store
	httpapi.MessageStore
	CreateTenant(ctx context.Context, t store.Tenant) error
	Ping(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg := config.LoadServer()
	logging.Init("server", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st serverStore
	switch cfg.StoreMode {
	case "mem":
		slog.Warn("running with in-memory store, nothing will survive a restart")
		st = mem.New()
	default:
		if cfg.DBDSN == "" {
			slog.Error("DB_DSN is required when STORE_MODE=pg")
			os.Exit(1)
		}
		db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
		if err != nil {
			slog.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pgStore := pg.New(db)
		if err := pgStore.InitSchema(ctx); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pgStore
	}

	observability.Register(prometheus.DefaultRegisterer)

	hub := relay.NewHub()

	queue := dispatch.New(ctx, st, hub, dispatch.Options{
		DelayBase:     cfg.SendDelayBase,
		DelayJitter:   cfg.SendDelayJitter,
		RatePerTenant: cfg.SendRatePerTenant,
		Burst:         cfg.SendBurst,
	})

	var factory transport.Factory
	switch cfg.TransportMode {
	case "sim":
		factory = sim.Factory(sim.DefaultOptions())
	default:
		slog.Error("unknown transport mode", "mode", cfg.TransportMode)
		os.Exit(1)
	}

	registry := session.New(ctx, st, hub, factory, queue)
	queue.BindSessions(registry)

	svc := ledger.New(st, queue)

	s := httpapi.New()
	api := &httpapi.API{
		Sessions:  registry,
		Ledger:    svc,
		Store:     st,
		Events:    &relay.WebSocketHandler{Hub: hub, AllowedOrigin: cfg.WSAllowedOrigin},
		UploadDir: cfg.UploadDir,
	}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpapi.Healthz())
	s.Mux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, func(ctx context.Context) error {
		return st.Ping(ctx)
	}))
	s.Mux.Use(httpapi.Metrics(observability.APIRequests))

	if err := registry.Recover(ctx); err != nil {
		slog.Error("session recovery failed", "err", err)
	}

	handler := httpapi.Logging(s.Mux)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("server shutdown", "signal", sig.String())
		case err := <-metricsErrCh:
			if err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "err", err)
			}
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}

	registry.Shutdown()
	queue.Wait()
}
