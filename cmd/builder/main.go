package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/berth-dev/berth/internal/artifact"
	"github.com/berth-dev/berth/internal/build"
	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/pkg/buildlog"
	"github.com/berth-dev/berth/pkg/config"
	"github.com/berth-dev/berth/pkg/logger"
)

// The builder runs once per deployment inside its own container. The process
// exit code reports the outcome to the dispatcher; the log stream carries it
// to everyone else.
func main() {
	cfg := config.LoadBuilderConfig()
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	log := logger.New("builder", level)

	if strings.TrimSpace(cfg.DeploymentID) == "" || strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.RepoURL) == "" {
		log.Error("DEPLOYMENT_ID, PROJECT_ID and REPO_URL are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := bus.NewClient(ctx, cfg.Bus)
	if err != nil {
		log.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	publisher := bus.NewPublisher(redisClient, cfg.Bus)
	producer := buildlog.New(publisher, cfg.DeploymentID, cfg.ProjectID, log)

	store, err := artifact.New(cfg.Artifact)
	if err != nil {
		log.Error("failed to create artifact store", "error", err)
		producer.Failed(ctx)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Error("failed to ensure artifact bucket", "error", err)
		producer.Failed(ctx)
		os.Exit(1)
	}

	pipeline := build.NewPipeline(cfg, store, producer, log)
	if err := pipeline.Run(ctx); err != nil {
		log.Error("build failed",
			"deployment_id", cfg.DeploymentID,
			"project_id", cfg.ProjectID,
			"error", err,
		)
		os.Exit(1)
	}
	log.Info("build succeeded", "deployment_id", cfg.DeploymentID)
}
