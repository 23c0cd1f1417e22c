// Package buildlog emits the ordered log event stream for one deployment's
// build. Sequence numbers are assigned here, monotonically from 1, so the
// durable store and every consumer can rely on per-deployment ordering
// regardless of transport timing.
package buildlog

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/internal/domain"
)

// Sink accepts published events. Satisfied by the bus publisher.
type Sink interface {
	Publish(ctx context.Context, event bus.Event) error
}

// Producer emits log events for a single deployment.
type Producer struct {
	sink         Sink
	deploymentID string
	projectID    string
	logger       *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// New returns a producer bound to one deployment.
func New(sink Sink, deploymentID, projectID string, logger *slog.Logger) *Producer {
	return &Producer{
		sink:         sink,
		deploymentID: deploymentID,
		projectID:    projectID,
		logger:       logger,
	}
}

// Line publishes one build output line. Publishing is fire and forget: a
// bus failure must never abort the build, so errors are logged and dropped.
func (p *Producer) Line(ctx context.Context, message string) {
	p.emit(ctx, domain.EventKindLine, message)
}

// Succeeded publishes the terminal success sentinel.
func (p *Producer) Succeeded(ctx context.Context) {
	p.emit(ctx, domain.EventKindSentinel, domain.SentinelSucceeded)
}

// Failed publishes the terminal failure sentinel.
func (p *Producer) Failed(ctx context.Context) {
	p.emit(ctx, domain.EventKindSentinel, domain.SentinelFailed)
}

// Seq returns the sequence number of the last emitted event.
func (p *Producer) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Producer) emit(ctx context.Context, kind, message string) {
	p.mu.Lock()
	p.seq++
	event := bus.Event{
		ID:           uuid.NewString(),
		DeploymentID: p.deploymentID,
		ProjectID:    p.projectID,
		Seq:          p.seq,
		Kind:         kind,
		Message:      message,
		EmittedAt:    time.Now().UTC(),
	}
	p.mu.Unlock()

	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.Warn("drop log event",
			"deployment_id", p.deploymentID,
			"seq", event.Seq,
			"error", err,
		)
	}
}
