// Package httpx wires the control-plane HTTP endpoints to services: project
// management, deployment submission and the two log streaming surfaces
// (WebSocket and SSE).
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/gateway"
	"github.com/berth-dev/berth/internal/repository"
	"github.com/berth-dev/berth/internal/service/deploy"
	"github.com/berth-dev/berth/internal/service/logs"
	"github.com/berth-dev/berth/internal/service/project"
	"github.com/berth-dev/berth/internal/ws"
	"github.com/berth-dev/berth/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	project  project.Service
	deploy   *deploy.Service
	logs     logs.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	cfg      config.APIConfig
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitRealtime  = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, deploySvc *deploy.Service, logSvc logs.Service, hub *ws.Hub, limiter RateLimiter, cfg config.APIConfig, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		deploy:  deploySvc,
		logs:    logSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		cfg:      cfg,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/projects", r.audit(r.withRateLimit("/projects", rateLimitWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit(r.withRateLimit("/projects/", rateLimitWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/deployments/", r.audit(r.withRateLimit("/deployments/", rateLimitRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/ws/logs", r.audit(r.withRateLimit("/ws/logs", rateLimitRealtime, rateWindowRealtime, r.handleLogsWS)))
	r.mux.HandleFunc("/events/logs", r.audit(r.withRateLimit("/events/logs", rateLimitRealtime, rateWindowRealtime, r.handleLogsSSE)))
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name    string `json:"name"`
			RepoURL string `json:"repo_url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.project.Create(req.Context(), project.CreateInput{
			Name:    payload.Name,
			RepoURL: payload.RepoURL,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, projectPayload(created))
	case http.MethodGet:
		limit := queryInt(req, "limit", 0)
		projects, err := r.project.List(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items := make([]map[string]any, 0, len(projects))
		for i := range projects {
			items = append(items, projectPayload(&projects[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]

	switch {
	case len(parts) == 1:
		r.handleProjectByID(w, req, projectID)
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleProjectDeployments(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		p, err := r.project.Get(req.Context(), projectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, projectPayload(p))
	case http.MethodPatch:
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.project.Rename(req.Context(), projectID, payload.Name); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodPost:
		deployment, err := r.deploy.Request(req.Context(), projectID)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				r.notFound(w)
			case errors.Is(err, deploy.ErrConflict):
				writeError(w, http.StatusConflict, "project already has an active deployment")
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusAccepted, r.deploymentPayload(deployment))
	case http.MethodGet:
		limit := queryInt(req, "limit", 20)
		deployments, err := r.deploy.ListByProject(req.Context(), projectID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items := make([]map[string]any, 0, len(deployments))
		for i := range deployments {
			items = append(items, r.deploymentPayload(&deployments[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"deployments": items})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]

	switch {
	case len(parts) == 1:
		r.handleDeploymentByID(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "logs":
		r.handleDeploymentLogs(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployment, err := r.deploy.Get(req.Context(), deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, r.deploymentPayload(deployment))
}

func (r *Router) handleDeploymentLogs(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	afterSeq := uint64(0)
	if raw := req.URL.Query().Get("after_seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_seq")
			return
		}
		afterSeq = parsed
	}
	limit := queryInt(req, "limit", 0)
	events, err := r.logs.List(req.Context(), deploymentID, afterSeq, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		payload, err := logs.MarshalEvent(event)
		if err != nil {
			r.logger.Warn("failed to marshal log event", "event_id", event.ID, "error", err)
			continue
		}
		items = append(items, payload)
	}
	next := afterSeq
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   items,
		"next_seq": next,
	})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if err := client.Send(gateway.AckPayload(deploymentID)); err != nil {
		client.Close()
		return
	}
	r.hub.Register(deploymentID, client)

	go r.pingLoop(deploymentID, client)
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pingLoop keeps the websocket alive; a failed ping unregisters the session.
func (r *Router) pingLoop(deploymentID string, client *ws.Client) {
	interval := r.cfg.WSPingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := client.Ping(10 * time.Second); err != nil {
			r.hub.Unregister(deploymentID, client)
			return
		}
	}
}

func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	if err := client.Send(gateway.AckPayload(deploymentID)); err != nil {
		return
	}
	r.hub.Register(deploymentID, client)
	defer r.hub.Unregister(deploymentID, client)

	// Run returns when the client disconnects or the hub drops the session.
	client.Run(req.Context(), r.cfg.SSEHeartbeat)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses identifier segments so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "projects":
		if len(parts) == 1 {
			return "/projects"
		}
		if len(parts) >= 3 && parts[2] == "deployments" {
			return "/projects/{id}/deployments"
		}
		return "/projects/{id}"
	case "deployments":
		if len(parts) == 1 {
			return "/deployments"
		}
		if len(parts) >= 3 && parts[2] == "logs" {
			return "/deployments/{id}/logs"
		}
		return "/deployments/{id}"
	}
	return "/" + parts[0]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func projectPayload(p *domain.Project) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"repo_url":   p.RepoURL,
		"created_at": p.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (r *Router) deploymentPayload(d *domain.Deployment) map[string]any {
	payload := map[string]any{
		"id":         d.ID,
		"project_id": d.ProjectID,
		"status":     d.Status,
		"subdomain":  d.Subdomain,
		"url":        fmt.Sprintf("http://%s.%s", d.Subdomain, r.cfg.BaseDomain),
		"created_at": d.CreatedAt.Format(time.RFC3339Nano),
	}
	if d.CompletedAt != nil {
		payload["completed_at"] = d.CompletedAt.Format(time.RFC3339Nano)
	}
	return payload
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
