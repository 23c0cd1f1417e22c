package logs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
)

// default and maximum page sizes for history reads.
const (
	defaultPageSize = 200
	maxPageSize     = 1000
)

var errMissingDeploymentID = errors.New("deployment id required")

// Service reads back the durable log history for a deployment.
type Service struct {
	store  repository.EventStore
	logger *slog.Logger
}

// New constructs a log service.
func New(store repository.EventStore, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

// List returns stored events for a deployment ordered by sequence number.
// afterSeq pages through history: pass the last seen sequence to fetch the
// next page, zero for the beginning.
func (s Service) List(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.LogEvent, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, errMissingDeploymentID
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.store.ListEventsByDeployment(ctx, deploymentID, afterSeq, limit)
}

// MarshalEvent formats a stored event the same way live stream payloads are
// framed, so clients can merge history and tail without translation.
func MarshalEvent(event domain.LogEvent) ([]byte, error) {
	payload := map[string]any{
		"id":            event.ID,
		"deployment_id": event.DeploymentID,
		"project_id":    event.ProjectID,
		"seq":           event.Seq,
		"kind":          event.Kind,
		"message":       event.Message,
		"emitted_at":    event.EmittedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
