package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthmetrics/internal/config"
	"example.com/healthmetrics/internal/outbox"
	persistence "example.com/healthmetrics/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("dlq manager stopped: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := persistence.NewRepository(pool).EnsureSchema(ctx); err != nil {
		return err
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
	log.Printf("dlq manager polling every %s (max retries %d, base delay %s)", cfg.DLQPollInterval, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()

	for {
		requeued, err := manager.RunOnce(ctx, cfg.DLQBatchSize)
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			log.Printf("dlq pass failed: %v", err)
		case requeued > 0:
			log.Printf("requeued %d dead-lettered events", requeued)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
