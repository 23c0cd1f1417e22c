package domain

import "time"

// LogEvent kinds. Sentinel events mark build completion for stream consumers;
// the authoritative completion signal is the dispatcher's exit watch.
const (
	EventKindLine     = "line"
	EventKindSentinel = "sentinel"
)

// Sentinel payloads.
const (
	SentinelSucceeded = "succeeded"
	SentinelFailed    = "failed"
)

// LogEvent is one line of build output. The event id is assigned at emission
// time and is globally unique; the transport may deliver an event more than
// once, but storage collapses duplicates on that id. Seq is monotonic per
// deployment, assigned by the producer starting at 1.
type LogEvent struct {
	ID           string
	DeploymentID string
	ProjectID    string
	Seq          uint64
	Kind         string
	Message      string
	EmittedAt    time.Time
}
