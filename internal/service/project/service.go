package project

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name    string
	RepoURL string
}

var (
	errInvalidProjectName = errors.New("project name is required")
	errInvalidRepoURL     = errors.New("repository URL is required")
	errMissingProjectID   = errors.New("project id required")
)

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// Create registers a new project.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	repoURL := strings.TrimSpace(input.RepoURL)
	if repoURL == "" {
		return nil, errInvalidRepoURL
	}
	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		RepoURL:   repoURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "name", project.Name)
	return project, nil
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// Rename updates the project's display name.
func (s Service) Rename(ctx context.Context, projectID, name string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errMissingProjectID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errInvalidProjectName
	}
	return s.projects.RenameProject(ctx, projectID, name)
}

// List returns recently created projects.
func (s Service) List(ctx context.Context, limit int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.projects.ListProjects(ctx, limit)
}
