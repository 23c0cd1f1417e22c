package logs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/berth-dev/berth/internal/domain"
)

type stubEventStore struct {
	events    []domain.LogEvent
	lastAfter uint64
	lastLimit int
}

func (s *stubEventStore) InsertEvents(ctx context.Context, events []domain.LogEvent) (int, error) {
	s.events = append(s.events, events...)
	return len(events), nil
}

func (s *stubEventStore) ListEventsByDeployment(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.LogEvent, error) {
	s.lastAfter = afterSeq
	s.lastLimit = limit
	var out []domain.LogEvent
	for _, e := range s.events {
		if e.DeploymentID == deploymentID && e.Seq > afterSeq {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestListRequiresDeploymentID(t *testing.T) {
	svc := New(&stubEventStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := svc.List(context.Background(), "  ", 0, 0); err == nil {
		t.Fatal("expected error for blank deployment id")
	}
}

func TestListClampsLimit(t *testing.T) {
	store := &stubEventStore{}
	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := svc.List(context.Background(), "d1", 0, 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastLimit != defaultPageSize {
		t.Fatalf("expected default page size, got %d", store.lastLimit)
	}

	if _, err := svc.List(context.Background(), "d1", 0, 5000); err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastLimit != maxPageSize {
		t.Fatalf("expected max page size, got %d", store.lastLimit)
	}
}

func TestListPagesBySequence(t *testing.T) {
	store := &stubEventStore{events: []domain.LogEvent{
		{ID: "e1", DeploymentID: "d1", Seq: 1, Message: "cloning"},
		{ID: "e2", DeploymentID: "d1", Seq: 2, Message: "building"},
		{ID: "e3", DeploymentID: "d2", Seq: 1, Message: "other deployment"},
	}}
	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	events, err := svc.List(context.Background(), "d1", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e2" {
		t.Fatalf("expected only e2 after seq 1, got %+v", events)
	}
}

func TestMarshalEventShape(t *testing.T) {
	emitted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	data, err := MarshalEvent(domain.LogEvent{
		ID:           "e1",
		DeploymentID: "d1",
		ProjectID:    "p1",
		Seq:          7,
		Kind:         domain.EventKindLine,
		Message:      "npm install",
		EmittedAt:    emitted,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["deployment_id"] != "d1" || decoded["seq"] != float64(7) {
		t.Fatalf("unexpected payload: %v", decoded)
	}
	if decoded["emitted_at"] != emitted.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp framing: %v", decoded["emitted_at"])
	}
}
