// Package bus carries build log events between the producer, the durable
// ingestion pipeline and the live fan-out gateway.
//
// The transport is Redis Streams: one stream key per partition, with events
// for a deployment always hashed onto the same partition so per-deployment
// ordering survives the bus hop. Consumers pull batches through a consumer
// group and advance their commit position with an explicit ack, only after
// the batch is durably persisted. Each published event is additionally
// broadcast on a pub/sub channel per deployment; that feed is the gateway's
// best-effort live path and carries no durability guarantee.
package bus

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/berth-dev/berth/internal/domain"
)

// Event is the wire form of a log event.
type Event struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	ProjectID    string    `json:"project_id"`
	Seq          uint64    `json:"seq"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// FromDomain converts a stored-form event to its wire form.
func FromDomain(event domain.LogEvent) Event {
	return Event{
		ID:           event.ID,
		DeploymentID: event.DeploymentID,
		ProjectID:    event.ProjectID,
		Seq:          event.Seq,
		Kind:         event.Kind,
		Message:      event.Message,
		EmittedAt:    event.EmittedAt,
	}
}

// ToDomain converts a wire event to its stored form.
func (e Event) ToDomain() domain.LogEvent {
	return domain.LogEvent{
		ID:           e.ID,
		DeploymentID: e.DeploymentID,
		ProjectID:    e.ProjectID,
		Seq:          e.Seq,
		Kind:         e.Kind,
		Message:      e.Message,
		EmittedAt:    e.EmittedAt,
	}
}

// EncodeJSON renders the event for the pub/sub live feed.
func (e Event) EncodeJSON() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeJSON parses a live feed payload.
func DecodeJSON(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode live event: %w", err)
	}
	return e, nil
}

// Partition maps a deployment id onto one of n partitions. Every process
// publishing or consuming a topic must agree on n.
func Partition(deploymentID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(deploymentID))
	return int(h.Sum32() % uint32(n))
}

// StreamKey names the Redis stream backing one partition of a topic.
func StreamKey(topic string, partition int) string {
	return topic + ":" + strconv.Itoa(partition)
}

// streamValues flattens an event into stream fields.
func streamValues(e Event) map[string]interface{} {
	return map[string]interface{}{
		"event_id":      e.ID,
		"deployment_id": e.DeploymentID,
		"project_id":    e.ProjectID,
		"seq":           strconv.FormatUint(e.Seq, 10),
		"kind":          e.Kind,
		"message":       e.Message,
		"emitted_at":    e.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

// eventFromValues rebuilds an event from stream fields.
func eventFromValues(values map[string]interface{}) (Event, error) {
	e := Event{
		ID:           stringValue(values["event_id"]),
		DeploymentID: stringValue(values["deployment_id"]),
		ProjectID:    stringValue(values["project_id"]),
		Kind:         stringValue(values["kind"]),
		Message:      stringValue(values["message"]),
	}
	if e.ID == "" || e.DeploymentID == "" {
		return Event{}, fmt.Errorf("stream entry missing identifiers")
	}
	seq, err := strconv.ParseUint(stringValue(values["seq"]), 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("parse seq: %w", err)
	}
	e.Seq = seq
	if raw := stringValue(values["emitted_at"]); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Event{}, fmt.Errorf("parse emitted_at: %w", err)
		}
		e.EmittedAt = ts
	}
	if e.Kind == "" {
		e.Kind = domain.EventKindLine
	}
	return e, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
