// Package gateway bridges the bus's live broadcast feed to connected
// subscribers. It is a convenience stream alongside the durable pipeline:
// events reach sessions with low latency, but a session that connects late
// backfills history from the log store instead.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/internal/ws"
)

// Feed is the live event source, satisfied by bus.LiveFeed.
type Feed interface {
	Events() <-chan bus.Event
}

// Relay fans live events out to hub subscribers keyed by deployment id.
type Relay struct {
	feed   Feed
	hub    *ws.Hub
	logger *slog.Logger
}

// NewRelay wires a live feed to a hub.
func NewRelay(feed Feed, hub *ws.Hub, logger *slog.Logger) *Relay {
	return &Relay{feed: feed, hub: hub, logger: logger}
}

// Run forwards events until the context is cancelled or the feed closes.
// Payloads are pushed verbatim; the hub's per-session queues keep one slow
// session from delaying the rest.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.feed.Events():
			if !ok {
				r.logger.Info("live feed closed, relay stopping")
				return
			}
			payload, err := event.EncodeJSON()
			if err != nil {
				r.logger.Warn("failed to encode live event", "deployment_id", event.DeploymentID, "error", err)
				continue
			}
			r.hub.Broadcast(event.DeploymentID, payload)
		}
	}
}

// AckPayload is the acknowledgement sent to a session right after it
// subscribes to a channel.
func AckPayload(channel string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"type":    "subscribed",
		"channel": channel,
	})
	return payload
}
