package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
	"github.com/berth-dev/berth/internal/service/deploy"
	"github.com/berth-dev/berth/internal/service/logs"
	"github.com/berth-dev/berth/internal/service/project"
	"github.com/berth-dev/berth/internal/ws"
	"github.com/berth-dev/berth/pkg/config"
)

type memProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{projects: make(map[string]*domain.Project)}
}

func (m *memProjectRepo) CreateProject(ctx context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.projects[p.ID] = &clone
	return nil
}

func (m *memProjectRepo) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memProjectRepo) RenameProject(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Name = name
	return nil
}

func (m *memProjectRepo) ListProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Project
	for _, p := range m.projects {
		out = append(out, *p)
	}
	return out, nil
}

type memDeploymentRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Deployment
}

func newMemDeploymentRepo() *memDeploymentRepo {
	return &memDeploymentRepo{rows: make(map[string]*domain.Deployment)}
}

func (m *memDeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ProjectID == d.ProjectID && row.Active() {
			return repository.ErrConflict
		}
		if row.Subdomain == d.Subdomain {
			return repository.ErrSubdomainTaken
		}
	}
	clone := *d
	m.rows[d.ID] = &clone
	return nil
}

func (m *memDeploymentRepo) TransitionDeployment(ctx context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

func (m *memDeploymentRepo) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memDeploymentRepo) GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Subdomain == subdomain {
			clone := *row
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memDeploymentRepo) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for _, row := range m.rows {
		if row.ProjectID == projectID {
			out = append(out, *row)
		}
	}
	return out, nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []domain.LogEvent
}

func (m *memEventStore) InsertEvents(ctx context.Context, events []domain.LogEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return len(events), nil
}

func (m *memEventStore) ListEventsByDeployment(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEvent
	for _, e := range m.events {
		if e.DeploymentID == deploymentID && e.Seq > afterSeq {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Launch(ctx context.Context, deploymentID, projectID, sourceURL string) error {
	return nil
}

type testEnv struct {
	router   *Router
	server   *httptest.Server
	projects *memProjectRepo
	store    *memEventStore
	hub      *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projects := newMemProjectRepo()
	deployments := newMemDeploymentRepo()
	store := &memEventStore{}
	hub := ws.NewHub(0)

	cfg := config.APIConfig{
		BaseDomain:     "berth.local",
		WSPingInterval: time.Minute,
		SSEHeartbeat:   time.Minute,
	}
	router := NewRouter(
		logger,
		project.New(projects, logger),
		deploy.New(projects, deployments, noopDispatcher{}, logger),
		logs.New(store, logger),
		hub,
		NewMemoryRateLimiter(),
		cfg,
		nil,
	)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		router.Close()
	})
	return &testEnv{router: router, server: server, projects: projects, store: store, hub: hub}
}

func (env *testEnv) createProject(t *testing.T) string {
	t.Helper()
	body := bytes.NewBufferString(`{"name":"site","repo_url":"https://example.com/site.git"}`)
	resp, err := http.Post(env.server.URL+"/projects", "application/json", body)
	if err != nil {
		t.Fatalf("post project: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return payload.ID
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/projects", "application/json", strings.NewReader(`{"name":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDeploymentSubmission(t *testing.T) {
	env := newTestEnv(t)
	projectID := env.createProject(t)

	resp, err := http.Post(env.server.URL+"/projects/"+projectID+"/deployments", "application/json", nil)
	if err != nil {
		t.Fatalf("post deployment: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var payload struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Subdomain string `json:"subdomain"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != domain.StatusQueued {
		t.Fatalf("expected queued, got %q", payload.Status)
	}
	if !strings.HasSuffix(payload.URL, ".berth.local") {
		t.Fatalf("expected site url under base domain, got %q", payload.URL)
	}
}

func TestSecondDeploymentConflicts(t *testing.T) {
	env := newTestEnv(t)
	projectID := env.createProject(t)

	first, err := http.Post(env.server.URL+"/projects/"+projectID+"/deployments", "application/json", nil)
	if err != nil {
		t.Fatalf("first deployment: %v", err)
	}
	first.Body.Close()

	second, err := http.Post(env.server.URL+"/projects/"+projectID+"/deployments", "application/json", nil)
	if err != nil {
		t.Fatalf("second deployment: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.StatusCode)
	}
}

func TestDeploymentForUnknownProjectIs404(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/projects/missing/deployments", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeploymentLogsPagination(t *testing.T) {
	env := newTestEnv(t)
	env.store.events = []domain.LogEvent{
		{ID: "e1", DeploymentID: "dep-1", Seq: 1, Kind: domain.EventKindLine, Message: "one", EmittedAt: time.Now()},
		{ID: "e2", DeploymentID: "dep-1", Seq: 2, Kind: domain.EventKindLine, Message: "two", EmittedAt: time.Now()},
		{ID: "e3", DeploymentID: "dep-2", Seq: 1, Kind: domain.EventKindLine, Message: "other", EmittedAt: time.Now()},
	}

	resp, err := http.Get(env.server.URL + "/deployments/dep-1/logs?after_seq=1")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Events  []map[string]any `json:"events"`
		NextSeq uint64           `json:"next_seq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Events) != 1 || payload.Events[0]["id"] != "e2" {
		t.Fatalf("expected only e2, got %v", payload.Events)
	}
	if payload.NextSeq != 2 {
		t.Fatalf("expected next_seq 2, got %d", payload.NextSeq)
	}
}

func TestWebsocketSubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/logs?deployment_id=dep-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var ackPayload map[string]string
	if err := json.Unmarshal(ack, &ackPayload); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackPayload["type"] != "subscribed" || ackPayload["channel"] != "dep-1" {
		t.Fatalf("unexpected ack %v", ackPayload)
	}

	// Broadcasts on the channel reach the session.
	deadline := time.Now().Add(2 * time.Second)
	go func() {
		for time.Now().Before(deadline) {
			env.hub.Broadcast("dep-1", []byte(`{"seq":1,"message":"hello"}`))
			time.Sleep(20 * time.Millisecond)
		}
	}()
	_, event, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.Contains(string(event), "hello") {
		t.Fatalf("unexpected event payload %s", event)
	}
}

func TestMemoryRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if d := rl.Allow("ip:1.2.3.4", 3, time.Minute); !d.allowed {
			t.Fatalf("request %d unexpectedly blocked", i)
		}
	}
	if d := rl.Allow("ip:1.2.3.4", 3, time.Minute); d.allowed {
		t.Fatal("expected rate limit to block fourth request")
	}
	// Other keys are unaffected.
	if d := rl.Allow("ip:5.6.7.8", 3, time.Minute); !d.allowed {
		t.Fatal("other key should be allowed")
	}
}

func TestRouteLabelCollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/projects":                 "/projects",
		"/projects/abc":             "/projects/{id}",
		"/projects/abc/deployments": "/projects/{id}/deployments",
		"/deployments/def":          "/deployments/{id}",
		"/deployments/def/logs":     "/deployments/{id}/logs",
		"/healthz":                  "/healthz",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
