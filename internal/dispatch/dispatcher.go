// Package dispatch launches build workloads as one-shot Docker containers
// and supervises them to completion, reporting lifecycle transitions back to
// the deployment state machine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/berth-dev/berth/internal/domain"
)

// ContainerRunner is the container lifecycle surface the dispatcher needs.
type ContainerRunner interface {
	StartJob(ctx context.Context, name, image string, env []string) (string, error)
	WaitForStop(ctx context.Context, containerID string) (int64, error)
	RemoveContainer(ctx context.Context, name string) error
}

// Lifecycle receives deployment status transitions observed by supervision.
type Lifecycle interface {
	MarkStarted(ctx context.Context, deploymentID string) error
	MarkFinished(ctx context.Context, deploymentID, outcome string) error
}

// Dispatcher runs build workloads on Docker.
type Dispatcher struct {
	runner    ContainerRunner
	image     string
	logger    *slog.Logger
	lifecycle Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a dispatcher launching the given builder image.
func New(runner ContainerRunner, image string, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner: runner,
		image:  image,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind attaches the lifecycle sink. Called once during wiring; the deployment
// service depends on the dispatcher, so the reverse edge is set afterwards.
func (d *Dispatcher) Bind(lifecycle Lifecycle) {
	d.lifecycle = lifecycle
}

// Launch starts the build container for a deployment and supervises it in
// the background. The caller only learns whether the workload started; the
// outcome is reported through the lifecycle sink when the container exits.
func (d *Dispatcher) Launch(ctx context.Context, deploymentID, projectID, sourceURL string) error {
	name := containerName(deploymentID)
	env := []string{
		"DEPLOYMENT_ID=" + deploymentID,
		"PROJECT_ID=" + projectID,
		"REPO_URL=" + sourceURL,
	}
	containerID, err := d.runner.StartJob(ctx, name, d.image, env)
	if err != nil {
		return fmt.Errorf("start build container: %w", err)
	}
	d.logger.Info("build container started",
		"deployment_id", deploymentID,
		"container_id", containerID,
	)

	d.wg.Add(1)
	go d.supervise(deploymentID, containerID, name)
	return nil
}

// supervise waits for the container to exit and resolves the deployment.
// Exit code zero means the build published its artifact; anything else is a
// failed deployment.
func (d *Dispatcher) supervise(deploymentID, containerID, name string) {
	defer d.wg.Done()

	if err := d.lifecycle.MarkStarted(d.ctx, deploymentID); err != nil {
		d.logger.Error("mark deployment started", "deployment_id", deploymentID, "error", err)
	}

	exitCode, err := d.runner.WaitForStop(d.ctx, containerID)
	if err != nil {
		d.logger.Error("wait for build container", "deployment_id", deploymentID, "error", err)
		if ferr := d.lifecycle.MarkFinished(d.ctx, deploymentID, domain.StatusFailed); ferr != nil {
			d.logger.Error("mark deployment failed", "deployment_id", deploymentID, "error", ferr)
		}
		return
	}

	outcome := domain.StatusReady
	if exitCode != 0 {
		outcome = domain.StatusFailed
	}
	if err := d.lifecycle.MarkFinished(d.ctx, deploymentID, outcome); err != nil {
		d.logger.Error("mark deployment finished",
			"deployment_id", deploymentID,
			"outcome", outcome,
			"error", err,
		)
	}
	d.logger.Info("build container exited",
		"deployment_id", deploymentID,
		"exit_code", exitCode,
		"outcome", outcome,
	)

	if err := d.runner.RemoveContainer(d.ctx, name); err != nil {
		d.logger.Warn("remove build container", "container", name, "error", err)
	}
}

// Close stops supervision and waits for in-flight supervisors to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func containerName(deploymentID string) string {
	return "berth-build-" + deploymentID
}
