package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
)

type fakeProjectRepo struct {
	projects map[string]*domain.Project
}

func (f *fakeProjectRepo) CreateProject(ctx context.Context, p *domain.Project) error {
	f.projects[p.ID] = p
	return nil
}

func (f *fakeProjectRepo) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjectRepo) RenameProject(ctx context.Context, id, name string) error { return nil }

func (f *fakeProjectRepo) ListProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	return nil, nil
}

// fakeDeploymentRepo emulates the store's conditional semantics: the partial
// unique active index and compare-and-swap transitions.
type fakeDeploymentRepo struct {
	mu          sync.Mutex
	rows        map[string]*domain.Deployment
	subdomains  map[string]bool
	takenBursts int
}

func newFakeDeploymentRepo() *fakeDeploymentRepo {
	return &fakeDeploymentRepo{
		rows:       make(map[string]*domain.Deployment),
		subdomains: make(map[string]bool),
	}
}

func (f *fakeDeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.takenBursts > 0 {
		f.takenBursts--
		return repository.ErrSubdomainTaken
	}
	if f.subdomains[d.Subdomain] {
		return repository.ErrSubdomainTaken
	}
	for _, row := range f.rows {
		if row.ProjectID == d.ProjectID && row.Active() {
			return repository.ErrConflict
		}
	}
	clone := *d
	f.rows[d.ID] = &clone
	f.subdomains[d.Subdomain] = true
	return nil
}

func (f *fakeDeploymentRepo) TransitionDeployment(ctx context.Context, id, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	if to == domain.StatusReady || to == domain.StatusFailed {
		now := time.Now().UTC()
		row.CompletedAt = &now
	}
	return true, nil
}

func (f *fakeDeploymentRepo) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (f *fakeDeploymentRepo) GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Subdomain == subdomain {
			clone := *row
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeploymentRepo) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, row := range f.rows {
		if row.ProjectID == projectID {
			out = append(out, *row)
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	launches []string
	repoURLs []string
	err      error
}

func (f *fakeDispatcher) Launch(ctx context.Context, deploymentID, projectID, sourceURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launches = append(f.launches, deploymentID)
	f.repoURLs = append(f.repoURLs, sourceURL)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeProjectRepo, *fakeDeploymentRepo, *fakeDispatcher, string) {
	t.Helper()
	projects := &fakeProjectRepo{projects: make(map[string]*domain.Project)}
	deployments := newFakeDeploymentRepo()
	dispatcher := &fakeDispatcher{}
	svc := New(projects, deployments, dispatcher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	projectID := uuid.NewString()
	projects.projects[projectID] = &domain.Project{
		ID:      projectID,
		Name:    "demo",
		RepoURL: "https://example.com/demo.git",
	}
	return svc, projects, deployments, dispatcher, projectID
}

func TestRequestAdmitsAndDispatches(t *testing.T) {
	svc, _, _, dispatcher, projectID := newTestService(t)

	deployment, err := svc.Request(context.Background(), projectID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if deployment.Status != domain.StatusQueued {
		t.Fatalf("expected queued, got %s", deployment.Status)
	}
	if deployment.Subdomain == "" {
		t.Fatal("expected subdomain assigned at creation")
	}
	if len(dispatcher.launches) != 1 || dispatcher.launches[0] != deployment.ID {
		t.Fatalf("dispatcher not invoked with deployment id: %v", dispatcher.launches)
	}
	if dispatcher.repoURLs[0] != "https://example.com/demo.git" {
		t.Fatalf("dispatcher got wrong source url: %s", dispatcher.repoURLs[0])
	}
}

func TestRequestRejectsSecondActiveDeployment(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)

	if _, err := svc.Request(context.Background(), projectID); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := svc.Request(context.Background(), projectID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestConcurrentRequestsAdmitExactlyOne(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Request(context.Background(), projectID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var admitted, conflicted int
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 1 || conflicted != n-1 {
		t.Fatalf("expected 1 admitted / %d conflicted, got %d / %d", n-1, admitted, conflicted)
	}
}

func TestRequestDispatchFailureReleasesActiveSlot(t *testing.T) {
	svc, _, deployments, dispatcher, projectID := newTestService(t)
	dispatcher.err = errors.New("scheduler unavailable")

	_, err := svc.Request(context.Background(), projectID)
	if err == nil {
		t.Fatal("expected dispatch error")
	}

	for _, row := range deployments.rows {
		if row.Status != domain.StatusFailed {
			t.Fatalf("expected failed deployment, got %s", row.Status)
		}
	}

	// The slot is free again.
	dispatcher.err = nil
	if _, err := svc.Request(context.Background(), projectID); err != nil {
		t.Fatalf("request after released slot: %v", err)
	}
}

func TestRequestRetriesSubdomainCollision(t *testing.T) {
	svc, _, deployments, _, projectID := newTestService(t)
	deployments.takenBursts = 2

	deployment, err := svc.Request(context.Background(), projectID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if deployment.Subdomain == "" {
		t.Fatal("expected subdomain after collision retries")
	}
}

func TestMarkStartedRequiresQueued(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)
	deployment, err := svc.Request(context.Background(), projectID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.MarkStarted(context.Background(), deployment.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	err = svc.MarkStarted(context.Background(), deployment.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMarkFinishedIdempotentRepeat(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)
	deployment, _ := svc.Request(context.Background(), projectID)
	_ = svc.MarkStarted(context.Background(), deployment.ID)

	if err := svc.MarkFinished(context.Background(), deployment.ID, domain.StatusReady); err != nil {
		t.Fatalf("finish: %v", err)
	}
	// Same outcome again is a no-op.
	if err := svc.MarkFinished(context.Background(), deployment.ID, domain.StatusReady); err != nil {
		t.Fatalf("repeated finish: %v", err)
	}
	// A conflicting outcome is surfaced.
	err := svc.MarkFinished(context.Background(), deployment.ID, domain.StatusFailed)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMarkFinishedFailsQueuedDeployment(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)
	deployment, _ := svc.Request(context.Background(), projectID)

	// The workload died before reporting started.
	if err := svc.MarkFinished(context.Background(), deployment.ID, domain.StatusFailed); err != nil {
		t.Fatalf("fail queued deployment: %v", err)
	}

	got, _ := svc.Get(context.Background(), deployment.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
}

func TestMarkFinishedRejectsReadyFromQueued(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)
	deployment, _ := svc.Request(context.Background(), projectID)

	err := svc.MarkFinished(context.Background(), deployment.ID, domain.StatusReady)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSecondDeploymentAllowedAfterTerminal(t *testing.T) {
	svc, _, _, _, projectID := newTestService(t)
	first, _ := svc.Request(context.Background(), projectID)
	_ = svc.MarkStarted(context.Background(), first.ID)
	_ = svc.MarkFinished(context.Background(), first.ID, domain.StatusReady)

	second, err := svc.Request(context.Background(), projectID)
	if err != nil {
		t.Fatalf("second request after terminal: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new deployment row")
	}
}
