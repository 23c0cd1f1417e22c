package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.EventStore           = (*Repository)(nil)
)

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, repo_url, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.RepoURL, project.CreatedAt)
	return mapError(err)
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, name, repo_url, created_at FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RepoURL, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// RenameProject updates the project name, the only mutable project field.
func (r *Repository) RenameProject(ctx context.Context, projectID, name string) error {
	const query = `UPDATE projects SET name = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, name)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListProjects returns recently created projects.
func (r *Repository) ListProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, name, repo_url, created_at FROM projects ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RepoURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CreateDeployment inserts a deployment row in its initial status. The
// one-active-per-project invariant is enforced by a partial unique index, so
// a concurrent request for the same project loses here with ErrConflict
// rather than racing an application-level check.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, status, subdomain, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.Status,
		deployment.Subdomain,
		deployment.CreatedAt,
		deployment.CompletedAt,
	)
	return mapError(err)
}

// TransitionDeployment performs the optimistic conditional update backing
// every state transition. Terminal transitions also stamp completed_at.
func (r *Repository) TransitionDeployment(ctx context.Context, deploymentID, from, to string) (bool, error) {
	const query = `UPDATE deployments
		SET status = $3,
			completed_at = CASE WHEN $3 IN ('ready','failed') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, query, deploymentID, from, to)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, status, subdomain, created_at, completed_at
		FROM deployments WHERE id = $1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// GetDeploymentBySubdomain resolves the deployment owning a subdomain.
func (r *Repository) GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, status, subdomain, created_at, completed_at
		FROM deployments WHERE subdomain = $1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, subdomain))
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_id, status, subdomain, created_at, completed_at
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Subdomain, &d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *Repository) scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Subdomain, &d.CreatedAt, &d.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == "deployments_subdomain_key" {
				return repository.ErrSubdomainTaken
			}
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}
