package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gooclaim/coding-engine/internal/infrastructure/redpanda"
)

func TestTopicForRoutesJobEvents(t *testing.T) {
	jobEvents := []string{
		"CodingJobReceived",
		"CodingJobCoded",
		"CodingJobExported",
		"CodingJobFailed",
	}
	for _, eventType := range jobEvents {
		if got := TopicFor(eventType); got != redpanda.TopicCodingEvents {
			t.Errorf("TopicFor(%s) = %s, want %s", eventType, got, redpanda.TopicCodingEvents)
		}
	}

	if got := TopicFor("SomethingElse"); got != redpanda.TopicAuditTrail {
		t.Errorf("unknown event type routed to %s, want %s", got, redpanda.TopicAuditTrail)
	}
}

func TestDeadLetterPayload(t *testing.T) {
	lastErr := "broker unreachable"
	entry := &OutboxEntry{
		ID:          7,
		AggregateID: "job-1",
		EventType:   "CodingJobCoded",
		Payload:     json.RawMessage(`{"job_id":"job-1"}`),
		KafkaTopic:  redpanda.TopicCodingEvents,
		RetryCount:  5,
		LastError:   &lastErr,
		CreatedAt:   time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC),
	}

	payload, err := deadLetterPayload(entry)
	if err != nil {
		t.Fatalf("deadLetterPayload: %v", err)
	}

	var dl deadLetter
	if err := json.Unmarshal(payload, &dl); err != nil {
		t.Fatalf("unmarshal dead letter: %v", err)
	}
	if dl.OriginalTopic != redpanda.TopicCodingEvents {
		t.Errorf("original topic = %s", dl.OriginalTopic)
	}
	if dl.EventType != "CodingJobCoded" || dl.AggregateID != "job-1" {
		t.Errorf("identity fields wrong: %+v", dl)
	}
	if dl.Retries != 5 || dl.LastError != "broker unreachable" {
		t.Errorf("failure fields wrong: %+v", dl)
	}
	if string(dl.Payload) != `{"job_id":"job-1"}` {
		t.Errorf("payload not carried verbatim: %s", dl.Payload)
	}
}

func TestRelayLockIDIsStable(t *testing.T) {
	if relayLockID() != relayLockID() {
		t.Error("advisory lock key must be deterministic")
	}
}
