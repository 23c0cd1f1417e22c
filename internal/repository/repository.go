package repository

import (
	"context"

	"github.com/berth-dev/berth/internal/domain"
)

// ProjectRepository persists project metadata.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	RenameProject(ctx context.Context, projectID, name string) error
	ListProjects(ctx context.Context, limit int) ([]domain.Project, error)
}

// DeploymentRepository stores deployment rows and performs the conditional
// updates the state machine relies on. CreateDeployment returns ErrConflict
// when the project already holds an active deployment or the subdomain is
// taken; TransitionDeployment reports whether the row moved, returning false
// without error when the current status did not match the expected
// predecessor.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	TransitionDeployment(ctx context.Context, deploymentID, from, to string) (bool, error)
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// EventStore is the durable log store. InsertEvents must be idempotent on
// event id so redelivered batches collapse to one stored row per event; it
// returns the number of rows actually written, excluding collapsed
// duplicates.
type EventStore interface {
	InsertEvents(ctx context.Context, events []domain.LogEvent) (int, error)
	ListEventsByDeployment(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.LogEvent, error)
}
