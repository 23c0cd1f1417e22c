// Package router serves deployed sites. The leftmost label of the request
// host names the deployment subdomain; the handler resolves it to a ready
// deployment and proxies the request to the artifact object store, rewriting
// the path onto the deployment's key prefix.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"log/slog"

	"github.com/berth-dev/berth/internal/artifact"
	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
	"github.com/berth-dev/berth/pkg/config"
)

// Resolver looks up deployments by subdomain.
type Resolver interface {
	GetDeploymentBySubdomain(ctx context.Context, subdomain string) (*domain.Deployment, error)
}

// Handler is the edge HTTP handler.
type Handler struct {
	resolver Resolver
	cache    *cache
	proxy    *httputil.ReverseProxy
	upstream *url.URL
	cfg      config.RouterConfig
	logger   *slog.Logger
	metrics  *Metrics
}

// New constructs the edge handler proxying to the artifact store's public
// endpoint.
func New(resolver Resolver, cfg config.RouterConfig, logger *slog.Logger, metrics *Metrics) (*Handler, error) {
	upstream, err := url.Parse(cfg.Artifact.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse artifact endpoint: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid artifact endpoint: %q", cfg.Artifact.PublicEndpoint)
	}

	h := &Handler{
		resolver: resolver,
		cache:    newCache(cfg.CacheTTL, cfg.NegativeTTL),
		upstream: upstream,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.Error("artifact proxy error", "host", r.Host, "path", r.URL.Path, "error", err)
		h.metrics.Requests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	h.proxy = proxy
	return h, nil
}

// ServeHTTP resolves the subdomain and proxies to the artifact store.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain := hostSubdomain(r.Host)
	if subdomain == "" {
		h.metrics.Requests.WithLabelValues("bad_host").Inc()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	deploymentID, ok, err := h.resolve(r.Context(), subdomain)
	if err != nil {
		h.metrics.Requests.WithLabelValues("lookup_error").Inc()
		http.Error(w, "temporarily unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		h.metrics.Requests.WithLabelValues("unknown_subdomain").Inc()
		http.Error(w, "deployment not found", http.StatusNotFound)
		return
	}

	r.URL.Path = h.rewritePath(deploymentID, r.URL.Path)
	r.Host = h.upstream.Host
	h.metrics.Requests.WithLabelValues("proxied").Inc()
	h.proxy.ServeHTTP(w, r)
}

// resolve returns the ready deployment id for a subdomain, consulting the
// cache first. Deployments that exist but are not ready resolve negatively;
// the site appears only once its artifact is fully published. A transient
// store error is retried once and never cached.
func (h *Handler) resolve(ctx context.Context, subdomain string) (string, bool, error) {
	if entry, ok := h.cache.get(subdomain); ok {
		h.metrics.CacheHits.Inc()
		return entry.deploymentID, entry.found, nil
	}

	deployment, err := h.resolver.GetDeploymentBySubdomain(ctx, subdomain)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		deployment, err = h.resolver.GetDeploymentBySubdomain(ctx, subdomain)
	}
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			h.logger.Error("subdomain lookup failed", "subdomain", subdomain, "error", err)
			return "", false, err
		}
		h.cache.put(subdomain, "", false)
		return "", false, nil
	}
	if deployment.Status != domain.StatusReady {
		h.cache.put(subdomain, "", false)
		return "", false, nil
	}
	h.cache.put(subdomain, deployment.ID, true)
	return deployment.ID, true, nil
}

// rewritePath maps a site-relative request path onto the deployment's
// object key. Directory requests get the default document appended.
func (h *Handler) rewritePath(deploymentID, requestPath string) string {
	if requestPath == "" || strings.HasSuffix(requestPath, "/") {
		requestPath += h.cfg.DefaultDocument
	}
	key := artifact.ObjectKey(h.cfg.Artifact.Root, deploymentID, requestPath)
	return "/" + path.Join(h.cfg.Artifact.Bucket, key)
}

// hostSubdomain extracts the leftmost label of the request host.
func hostSubdomain(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, rest, found := strings.Cut(host, ".")
	if !found || rest == "" {
		return ""
	}
	return label
}
