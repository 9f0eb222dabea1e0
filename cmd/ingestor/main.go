// Command ingestor runs the multi-chain fee-event ingestion engine: it
// loads configuration, connects to the document store, starts a worker
// per enabled chain, and serves a minimal ops HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lifi-labs/fee-ingestion-engine/internal/cache"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainclient"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainregistry"
	"github.com/lifi-labs/fee-ingestion-engine/internal/config"
	"github.com/lifi-labs/fee-ingestion-engine/internal/controlplane"
	"github.com/lifi-labs/fee-ingestion-engine/internal/eventprocessor"
	"github.com/lifi-labs/fee-ingestion-engine/internal/eventstore"
	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/metrics"
	"github.com/lifi-labs/fee-ingestion-engine/internal/supervisor"
)

func main() {
	log := logging.NewFromEnv("ingestor")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.WithError(err).Fatal("connect to document store")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := client.Ping(pingCtx, nil); err != nil {
		log.WithError(err).Warn("initial document store ping failed, continuing")
	}
	cancel()

	db := client.Database(cfg.MongoDB)

	registry, err := chainregistry.New(ctx, db)
	if err != nil {
		log.WithError(err).Fatal("wire chain registry")
	}
	store, err := eventstore.New(ctx, db)
	if err != nil {
		log.WithError(err).Fatal("wire event store")
	}

	registerer := prometheus.NewRegistry()
	m := metrics.New(registerer)

	pool := chainclient.New()
	processor := eventprocessor.New(pool, store, registry, m, log, cfg.TimestampBatchSize, cfg.TimestampBatchDelay())
	sup := supervisor.New(pool, registry, processor, m, log)
	invalidator := cache.New(cfg.RedisAddr, "")
	defer invalidator.Close()

	cp := controlplane.New(registry, sup, invalidator, log, controlplane.Defaults{
		StartingBlock:  cfg.DefaultStartingBlock,
		ScanIntervalMS: cfg.DefaultScanIntervalMS,
		MaxBlockRange:  cfg.DefaultMaxBlockRange,
		RetryAttempts:  cfg.DefaultRetryAttempts,
	})

	if err := startEnabledChains(ctx, registry, sup, log); err != nil {
		log.WithError(err).Fatal("start enabled chains")
	}
	if err := sup.StartReconciliation(ctx); err != nil {
		log.WithError(err).Fatal("start reconciliation")
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: opsRouter(registerer, cp),
	}
	go func() {
		log.Logger.Info("ops http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("ops http server stopped")
		}
	}()

	<-ctx.Done()
	log.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown())
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	sup.GracefulShutdown(cfg.GracefulShutdown())
}

// startEnabledChains launches a worker for every chain already marked
// enabled in the registry.
func startEnabledChains(ctx context.Context, registry *chainregistry.Registry, sup *supervisor.Supervisor, log *logging.Logger) error {
	configs, err := registry.ListChainConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if !cfg.IsEnabled {
			continue
		}
		if err := sup.Start(ctx, cfg); err != nil {
			log.Chain(cfg.ChainID).WithError(err).Error("could not start chain at boot")
		}
	}
	return nil
}

// opsRouter is the minimal ops HTTP surface: health, metrics and the
// per-chain status snapshot only, never the FeeEvent read API.
func opsRouter(registerer *prometheus.Registry, cp *controlplane.ControlPlane) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		statuses, err := cp.ListStatuses(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = writeJSON(w, statuses)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}
