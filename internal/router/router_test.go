package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
	"github.com/berth-dev/berth/pkg/config"
)

type stubResolver struct {
	mu          sync.Mutex
	deployments map[string]*domain.Deployment
	failures    int
	lookups     int
}

func (s *stubResolver) GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("store unavailable")
	}
	d, ok := s.deployments[subdomain]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (s *stubResolver) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func testConfig(endpoint string) config.RouterConfig {
	return config.RouterConfig{
		BaseDomain:      "berth.local",
		DefaultDocument: "index.html",
		CacheTTL:        10 * time.Second,
		NegativeTTL:     2 * time.Second,
		Artifact: config.ArtifactConfig{
			Endpoint:       "minio:9000",
			AccessKey:      "k",
			SecretKey:      "s",
			Bucket:         "artifacts",
			Root:           "__outputs",
			PublicEndpoint: endpoint,
		},
	}
}

func newTestHandler(t *testing.T, resolver Resolver, endpoint string) *Handler {
	t.Helper()
	h, err := New(resolver, testConfig(endpoint), slog.New(slog.NewTextHandler(io.Discard, nil)), NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestNewMetricsAdoptsExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	second := NewMetrics(reg)

	second.Requests.WithLabelValues("proxied").Inc()
	second.CacheHits.Inc()

	if got := testutil.ToFloat64(first.Requests.WithLabelValues("proxied")); got != 1 {
		t.Fatalf("expected shared request counter, got %v", got)
	}
	if got := testutil.ToFloat64(first.CacheHits); got != 1 {
		t.Fatalf("expected shared cache counter, got %v", got)
	}
}

func TestHostSubdomain(t *testing.T) {
	cases := []struct {
		host, want string
	}{
		{"calm-reef-0042.berth.local", "calm-reef-0042"},
		{"calm-reef-0042.berth.local:8000", "calm-reef-0042"},
		{"berth.local", "berth"},
		{"localhost", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := hostSubdomain(tc.host); got != tc.want {
			t.Errorf("hostSubdomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestProxiesReadyDeploymentToArtifactKey(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	resolver := &stubResolver{deployments: map[string]*domain.Deployment{
		"calm-reef-0042": {ID: "dep-1", Status: domain.StatusReady, Subdomain: "calm-reef-0042"},
	}}
	h := newTestHandler(t, resolver, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/assets/app.js", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotPath != "/artifacts/__outputs/dep-1/assets/app.js" {
		t.Fatalf("unexpected upstream path %q", gotPath)
	}
}

func TestRootPathServesDefaultDocument(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer backend.Close()

	resolver := &stubResolver{deployments: map[string]*domain.Deployment{
		"calm-reef-0042": {ID: "dep-1", Status: domain.StatusReady},
	}}
	h := newTestHandler(t, resolver, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotPath != "/artifacts/__outputs/dep-1/index.html" {
		t.Fatalf("unexpected upstream path %q", gotPath)
	}
}

func TestUnknownSubdomainIs404(t *testing.T) {
	resolver := &stubResolver{deployments: map[string]*domain.Deployment{}}
	h := newTestHandler(t, resolver, "http://minio:9000")

	req := httptest.NewRequest(http.MethodGet, "http://nope.berth.local/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUnreadyDeploymentIs404(t *testing.T) {
	resolver := &stubResolver{deployments: map[string]*domain.Deployment{
		"calm-reef-0042": {ID: "dep-1", Status: domain.StatusInProgress},
	}}
	h := newTestHandler(t, resolver, "http://minio:9000")

	req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransientLookupErrorRetriesThen502(t *testing.T) {
	resolver := &stubResolver{
		deployments: map[string]*domain.Deployment{},
		failures:    2,
	}
	h := newTestHandler(t, resolver, "http://minio:9000")

	req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := resolver.lookupCount(); got != 2 {
		t.Fatalf("expected one retry (2 lookups), got %d", got)
	}
}

func TestTransientLookupErrorRecoversOnRetry(t *testing.T) {
	resolver := &stubResolver{
		deployments: map[string]*domain.Deployment{
			"calm-reef-0042": {ID: "dep-1", Status: domain.StatusReady},
		},
		failures: 1,
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	h := newTestHandler(t, resolver, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", rec.Code)
	}
}

func TestResolutionIsCached(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	resolver := &stubResolver{deployments: map[string]*domain.Deployment{
		"calm-reef-0042": {ID: "dep-1", Status: domain.StatusReady},
	}}
	h := newTestHandler(t, resolver, backend.URL)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "http://calm-reef-0042.berth.local/", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if got := resolver.lookupCount(); got != 1 {
		t.Fatalf("expected 1 lookup, got %d", got)
	}
}

func TestNegativeResultIsCachedBriefly(t *testing.T) {
	resolver := &stubResolver{deployments: map[string]*domain.Deployment{}}
	h := newTestHandler(t, resolver, "http://minio:9000")
	now := time.Now()
	h.cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "http://nope.berth.local/", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if got := resolver.lookupCount(); got != 1 {
		t.Fatalf("expected 1 lookup while negative entry valid, got %d", got)
	}

	// Negative entries expire faster than positive ones.
	now = now.Add(3 * time.Second)
	req := httptest.NewRequest(http.MethodGet, "http://nope.berth.local/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got := resolver.lookupCount(); got != 2 {
		t.Fatalf("expected re-lookup after negative ttl, got %d", got)
	}
}
