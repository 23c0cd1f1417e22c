package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/internal/ingest"
	"github.com/berth-dev/berth/internal/repository/postgres"
	"github.com/berth-dev/berth/pkg/config"
	"github.com/berth-dev/berth/pkg/logger"
)

func main() {
	cfg := config.LoadIngestConfig()
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	log := logger.New("ingest", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := postgres.New(pool)

	redisClient, err := bus.NewClient(ctx, cfg.Bus)
	if err != nil {
		log.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	consumerName := cfg.ConsumerName
	if consumerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "ingest"
		}
		consumerName = hostname
	}

	metrics := ingest.NewMetrics(prometheus.DefaultRegisterer)

	// One worker per partition. Stalled partitions are reclaimed from dead
	// group members through the claim ticker inside each worker.
	var wg sync.WaitGroup
	for partition := 0; partition < cfg.Bus.Partitions; partition++ {
		consumer, err := bus.NewConsumer(ctx, redisClient, cfg.Bus, cfg.Group, fmt.Sprintf("%s-%d", consumerName, partition), partition)
		if err != nil {
			log.Error("failed to join consumer group", "partition", partition, "error", err)
			os.Exit(1)
		}
		worker := ingest.NewWorker(consumer, repo, log.With("partition", partition), cfg, metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}
	log.Info("ingest workers started",
		"partitions", cfg.Bus.Partitions,
		"group", cfg.Group,
		"consumer", consumerName,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("ingest admin server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	wg.Wait()
	log.Info("ingest stopped")
}
