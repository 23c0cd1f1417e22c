package bus

import (
	"context"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/berth-dev/berth/pkg/config"
)

// LiveFeed is the broadcast-style subscription over every deployment's live
// channel. It is independent of the consumer group: events flow here the
// moment they are published, and a subscriber that was not connected at
// publish time simply never sees them.
type LiveFeed struct {
	pubsub *redis.PubSub
	events chan Event
	logger *slog.Logger
}

// NewLiveFeed subscribes to the live channel pattern and starts decoding
// events into a buffered channel. When the buffer is full events are dropped;
// this path is a convenience stream, not the durability source of truth.
func NewLiveFeed(ctx context.Context, client *redis.Client, cfg config.BusConfig, logger *slog.Logger) *LiveFeed {
	feed := &LiveFeed{
		pubsub: client.PSubscribe(ctx, cfg.LivePrefix+"*"),
		events: make(chan Event, 1024),
		logger: logger,
	}
	go feed.pump()
	return feed
}

// Events returns the decoded live event stream. The channel closes when the
// feed is closed.
func (f *LiveFeed) Events() <-chan Event {
	return f.events
}

// Close tears down the subscription.
func (f *LiveFeed) Close() error {
	return f.pubsub.Close()
}

func (f *LiveFeed) pump() {
	defer close(f.events)
	for msg := range f.pubsub.Channel() {
		event, err := DecodeJSON([]byte(msg.Payload))
		if err != nil {
			f.logger.Warn("dropping undecodable live event", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case f.events <- event:
		default:
			f.logger.Warn("live feed buffer full, dropping event", "deployment_id", event.DeploymentID)
		}
	}
}
