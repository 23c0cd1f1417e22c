package bus

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPartitionIsStablePerDeployment(t *testing.T) {
	id := uuid.NewString()
	first := Partition(id, 4)
	for i := 0; i < 100; i++ {
		if got := Partition(id, 4); got != first {
			t.Fatalf("partition changed between calls: %d vs %d", got, first)
		}
	}
	if first < 0 || first >= 4 {
		t.Fatalf("partition out of range: %d", first)
	}
}

func TestPartitionSingle(t *testing.T) {
	if got := Partition(uuid.NewString(), 1); got != 0 {
		t.Fatalf("expected partition 0 for n=1, got %d", got)
	}
	if got := Partition(uuid.NewString(), 0); got != 0 {
		t.Fatalf("expected partition 0 for n=0, got %d", got)
	}
}

func TestStreamValuesRoundTrip(t *testing.T) {
	event := Event{
		ID:           uuid.NewString(),
		DeploymentID: uuid.NewString(),
		ProjectID:    uuid.NewString(),
		Seq:          42,
		Kind:         "line",
		Message:      "installing dependencies",
		EmittedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	decoded, err := eventFromValues(streamValues(event))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != event {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, event)
	}
}

func TestEventFromValuesRejectsMissingIdentifiers(t *testing.T) {
	_, err := eventFromValues(map[string]interface{}{"seq": "1", "message": "hi"})
	if err == nil {
		t.Fatal("expected error for entry without identifiers")
	}
}
