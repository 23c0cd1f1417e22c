package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/berth-dev/berth/pkg/config"
)

// NewClient builds a Redis client from bus configuration and verifies
// connectivity.
func NewClient(ctx context.Context, cfg config.BusConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping bus: %w", err)
	}
	return client, nil
}

// Publisher appends events to the partitioned topic and mirrors each one
// onto the per-deployment live channel.
type Publisher struct {
	client *redis.Client
	cfg    config.BusConfig
}

// NewPublisher constructs a Publisher on an existing client.
func NewPublisher(client *redis.Client, cfg config.BusConfig) *Publisher {
	return &Publisher{client: client, cfg: cfg}
}

// Publish appends the event to its deployment's partition and broadcasts it
// to live subscribers. The stream append and the broadcast share one round
// trip; a pub/sub delivery failure never blocks the append.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	partition := Partition(event.DeploymentID, p.cfg.Partitions)
	stream := StreamKey(p.cfg.Topic, partition)
	payload, err := event.EncodeJSON()
	if err != nil {
		return err
	}
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: streamValues(event),
		})
		pipe.Publish(ctx, p.cfg.LivePrefix+event.DeploymentID, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Batch is one pulled unit of work plus the ack handles needed to advance
// the commit position past it.
type Batch struct {
	Partition int
	Events    []Event
	ids       []string
}

// IDs exposes the bus-assigned entry ids, mainly for logging.
func (b *Batch) IDs() []string {
	return b.ids
}

// PartitionConsumer pulls and commits batches for one partition on behalf of
// a consumer group. Poll returns nil when the block timeout elapses with no
// entries.
type PartitionConsumer interface {
	Poll(ctx context.Context, max int, block time.Duration) (*Batch, error)
	Claim(ctx context.Context, minIdle time.Duration, max int) (*Batch, error)
	Commit(ctx context.Context, batch *Batch) error
}

// Consumer implements PartitionConsumer on a Redis Streams consumer group.
type Consumer struct {
	client    *redis.Client
	group     string
	name      string
	stream    string
	partition int
}

// NewConsumer binds a consumer-group member to one partition, creating the
// group at the start of the stream when it does not exist yet.
func NewConsumer(ctx context.Context, client *redis.Client, cfg config.BusConfig, group, name string, partition int) (*Consumer, error) {
	stream := StreamKey(cfg.Topic, partition)
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Consumer{
		client:    client,
		group:     group,
		name:      name,
		stream:    stream,
		partition: partition,
	}, nil
}

// Poll pulls the next batch of undelivered entries for this partition.
func (c *Consumer) Poll(ctx context.Context, max int, block time.Duration) (*Batch, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream %s: %w", c.stream, err)
	}
	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return c.batchFromMessages(messages), nil
}

// Claim takes over entries another group member pulled but never acked,
// after they have sat idle for at least minIdle. Re-inserting them is safe
// because the log store deduplicates on event id.
func (c *Consumer) Claim(ctx context.Context, minIdle time.Duration, max int) (*Batch, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim pending on %s: %w", c.stream, err)
	}
	return c.batchFromMessages(messages), nil
}

// Commit acknowledges every entry in the batch, advancing this group's
// commit position past it. Callers invoke this only after the batch is
// durably stored.
func (c *Consumer) Commit(ctx context.Context, batch *Batch) error {
	if batch == nil || len(batch.ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, batch.ids...).Err(); err != nil {
		return fmt.Errorf("ack batch on %s: %w", c.stream, err)
	}
	return nil
}

func (c *Consumer) batchFromMessages(messages []redis.XMessage) *Batch {
	if len(messages) == 0 {
		return nil
	}
	batch := &Batch{Partition: c.partition}
	for _, msg := range messages {
		batch.ids = append(batch.ids, msg.ID)
		event, err := eventFromValues(msg.Values)
		if err != nil {
			// Malformed entries are acked with the batch but never stored;
			// leaving them pending would wedge the partition.
			continue
		}
		batch.Events = append(batch.Events, event)
	}
	return batch
}
