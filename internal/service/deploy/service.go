// Package deploy owns the per-project deployment lifecycle:
//
//	queued -> in_progress -> ready | failed
//
// Every transition is a store-level conditional update, never an in-process
// lock, because multiple API instances may run concurrently.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
)

// ErrConflict is returned when a request would give a project a second
// active deployment, or when a finished deployment is re-finished with a
// different outcome.
var ErrConflict = errors.New("deploy: conflicting deployment state")

// ErrInvalidTransition indicates a caller ordering bug: the deployment is
// not in the expected predecessor status.
var ErrInvalidTransition = errors.New("deploy: invalid status transition")

// maximum attempts to find a free subdomain before giving up.
const subdomainAttempts = 3

// Dispatcher launches the isolated build workload for a deployment.
type Dispatcher interface {
	Launch(ctx context.Context, deploymentID, projectID, sourceURL string) error
}

// Service is the deployment state machine.
type Service struct {
	projects     repository.ProjectRepository
	deployments  repository.DeploymentRepository
	dispatcher   Dispatcher
	logger       *slog.Logger
	newSubdomain func() string
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		projects:     projects,
		deployments:  deployments,
		dispatcher:   dispatcher,
		logger:       logger,
		newSubdomain: newSubdomain,
	}
}

// Request admits a new deployment for the project. At most one deployment
// per project may be queued or in progress; a concurrent duplicate request
// loses on the store's conditional insert and surfaces ErrConflict. On
// successful admission the build workload is dispatched with the deployment
// identity and source URL; a dispatch failure immediately fails the fresh
// deployment so the project's active slot is released.
func (s *Service) Request(ctx context.Context, projectID string) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var deployment *domain.Deployment
	for attempt := 0; attempt < subdomainAttempts; attempt++ {
		candidate := &domain.Deployment{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Status:    domain.StatusQueued,
			Subdomain: s.newSubdomain(),
			CreatedAt: time.Now().UTC(),
		}
		err = s.deployments.CreateDeployment(ctx, candidate)
		if err == nil {
			deployment = candidate
			break
		}
		if errors.Is(err, repository.ErrSubdomainTaken) {
			continue
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: project %s already has an active deployment", ErrConflict, project.ID)
		}
		return nil, err
	}
	if deployment == nil {
		return nil, fmt.Errorf("allocate subdomain: %w", err)
	}

	if err := s.dispatcher.Launch(ctx, deployment.ID, project.ID, project.RepoURL); err != nil {
		s.logger.Error("workload dispatch failed", "deployment_id", deployment.ID, "error", err)
		if ferr := s.MarkFinished(ctx, deployment.ID, domain.StatusFailed); ferr != nil {
			s.logger.Error("failed to fail undispatched deployment", "deployment_id", deployment.ID, "error", ferr)
		}
		return nil, fmt.Errorf("dispatch build: %w", err)
	}

	s.logger.Info("deployment queued",
		"deployment_id", deployment.ID,
		"project_id", project.ID,
		"subdomain", deployment.Subdomain,
	)
	return deployment, nil
}

// MarkStarted moves a queued deployment into progress.
func (s *Service) MarkStarted(ctx context.Context, deploymentID string) error {
	moved, err := s.deployments.TransitionDeployment(ctx, deploymentID, domain.StatusQueued, domain.StatusInProgress)
	if err != nil {
		return err
	}
	if moved {
		s.logger.Info("deployment started", "deployment_id", deploymentID)
		return nil
	}
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot start deployment in status %q", ErrInvalidTransition, deployment.Status)
}

// MarkFinished resolves a deployment to a terminal outcome. Repeating the
// same outcome is a no-op; a conflicting outcome returns ErrConflict. A
// queued deployment may resolve straight to failed, which covers dispatch
// failures and workloads that die before reporting started.
func (s *Service) MarkFinished(ctx context.Context, deploymentID, outcome string) error {
	if outcome != domain.StatusReady && outcome != domain.StatusFailed {
		return fmt.Errorf("%w: outcome %q is not terminal", ErrInvalidTransition, outcome)
	}

	moved, err := s.deployments.TransitionDeployment(ctx, deploymentID, domain.StatusInProgress, outcome)
	if err != nil {
		return err
	}
	if moved {
		s.logger.Info("deployment finished", "deployment_id", deploymentID, "outcome", outcome)
		return nil
	}

	if outcome == domain.StatusFailed {
		moved, err = s.deployments.TransitionDeployment(ctx, deploymentID, domain.StatusQueued, domain.StatusFailed)
		if err != nil {
			return err
		}
		if moved {
			s.logger.Info("deployment failed before start", "deployment_id", deploymentID)
			return nil
		}
	}

	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if deployment.Status == outcome {
		return nil
	}
	if deployment.Terminal() {
		return fmt.Errorf("%w: deployment already %s, refusing %s", ErrConflict, deployment.Status, outcome)
	}
	return fmt.Errorf("%w: cannot finish deployment in status %q", ErrInvalidTransition, deployment.Status)
}

// Get fetches a deployment.
func (s *Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ListByProject returns recent deployments for a project.
func (s *Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}
