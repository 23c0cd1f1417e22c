package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/berth-dev/berth/internal/app/migrate"
	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/internal/dispatch"
	"github.com/berth-dev/berth/internal/gateway"
	httpx "github.com/berth-dev/berth/internal/http"
	"github.com/berth-dev/berth/internal/repository/postgres"
	"github.com/berth-dev/berth/internal/service/deploy"
	"github.com/berth-dev/berth/internal/service/logs"
	"github.com/berth-dev/berth/internal/service/project"
	"github.com/berth-dev/berth/internal/ws"
	"github.com/berth-dev/berth/pkg/config"
	"github.com/berth-dev/berth/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	log := logger.New("api", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = runner.Ping(pingCtx)
	cancelPing()
	if err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	redisClient, err := bus.NewClient(ctx, cfg.Bus)
	if err != nil {
		log.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	hub := ws.NewHub(cfg.WSWriteBuffer)
	feed := bus.NewLiveFeed(ctx, redisClient, cfg.Bus, log)
	defer feed.Close()
	relay := gateway.NewRelay(feed, hub, log)
	go relay.Run(ctx)

	dockerClient, err := dispatch.NewDockerClient(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable at startup", "error", err)
	}

	dispatcher := dispatch.New(dockerClient, cfg.BuilderImage, log)
	defer dispatcher.Close()

	projectSvc := project.New(repo, log)
	deploySvc := deploy.New(repo, repo, dispatcher, log)
	dispatcher.Bind(deploySvc)
	logSvc := logs.New(repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projectSvc, deploySvc, logSvc, hub, limiter, cfg, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
