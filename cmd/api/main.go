package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthmetrics/internal/api"
	"example.com/healthmetrics/internal/config"
	"example.com/healthmetrics/internal/domain"
	"example.com/healthmetrics/internal/outbox"
	"example.com/healthmetrics/internal/persistence/memory"
	persistence "example.com/healthmetrics/internal/persistence/postgres"
	httptransport "example.com/healthmetrics/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       domain.MetricRepository
		dispatcher *outbox.Dispatcher
	)

	switch cfg.StorageBackend {
	case config.StorageMemory:
		log.Printf("using in-memory storage; data is lost on restart")
		repo = memory.NewRepository()
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		pgRepo := persistence.NewRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		repo = pgRepo

		if cfg.OutboxEnabled {
			publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers)
			defer publisher.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, publisher, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		}
	}

	service := domain.NewService(repo)

	handler := api.NewHandler(service, api.WithMaxBodyBytes(cfg.MaxBodyBytes))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.LogRequests(log.Default(), mux),
	)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("prometheus metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("health-metrics api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
