package auditlog

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestComputeIntegritySHA256Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Actor:        "system",
		Action:       "run.succeeded",
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{"from":"RUNNING"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"from":"RUNNING"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b || len(a) != 64 {
		t.Fatalf("unexpected integrity values %q %q", a, b)
	}
	c, err := ComputeIntegritySHA256(event, []byte(`{"from":"QUEUED"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if c == a {
		t.Fatalf("expected payload to change integrity")
	}
}

func TestEventValidate(t *testing.T) {
	if err := (Event{OccurredAt: time.Now(), Actor: "system", Action: "run.failed", ResourceType: "run"}).Validate(); err == nil {
		t.Fatalf("expected missing resource id error")
	}
}

func TestInsertQueryReturnsID(t *testing.T) {
	if !strings.Contains(insertEventQuery, "RETURNING event_id") {
		t.Fatalf("expected RETURNING clause")
	}
}

func sealedRecord(t *testing.T, payload RunTransition) Record {
	t.Helper()
	at := time.Date(2026, 3, 2, 9, 30, 0, 123456789, time.UTC)
	event, payloadJSON, integrity, err := seal(RunTransitionEvent(at, "trainer", "run-1", "run.failed", payload))
	if err != nil {
		t.Fatalf("seal() err=%v", err)
	}
	if got := event.OccurredAt.Nanosecond() % 1000; got != 0 {
		t.Fatalf("OccurredAt not truncated to microseconds: %v", event.OccurredAt)
	}
	return Record{
		ID:              7,
		OccurredAt:      event.OccurredAt,
		Actor:           event.Actor,
		Action:          event.Action,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		PayloadJSON:     payloadJSON,
		IntegritySHA256: integrity,
	}
}

func TestRecordVerifySurvivesJSONBReordering(t *testing.T) {
	msg := "boom"
	rec := sealedRecord(t, RunTransition{From: "RUNNING", To: "FAILED", Error: &msg})
	// jsonb orders keys by length and adds spaces.
	rec.PayloadJSON = []byte(`{"to": "FAILED", "from": "RUNNING", "error": "boom"}`)
	if err := rec.Verify(); err != nil {
		t.Fatalf("Verify() err=%v", err)
	}
	got, err := rec.RunTransition()
	if err != nil {
		t.Fatalf("RunTransition() err=%v", err)
	}
	if got.From != "RUNNING" || got.To != "FAILED" || got.Error == nil || *got.Error != "boom" {
		t.Fatalf("RunTransition()=%+v", got)
	}
}

func TestRecordVerifyDetectsTampering(t *testing.T) {
	rec := sealedRecord(t, RunTransition{From: "QUEUED", To: "RUNNING"})
	rec.PayloadJSON = []byte(`{"from":"QUEUED","to":"SUCCEEDED"}`)
	if err := rec.Verify(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Verify()=%v, want ErrIntegrity", err)
	}

	rec = sealedRecord(t, RunTransition{From: "QUEUED", To: "RUNNING"})
	rec.Actor = "someone-else"
	if err := rec.Verify(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("Verify()=%v, want ErrIntegrity", err)
	}
}

func TestRecordRunTransitionRejectsOtherResources(t *testing.T) {
	rec := Record{ID: 1, ResourceType: "dataset", PayloadJSON: []byte(`{}`)}
	if _, err := rec.RunTransition(); err == nil {
		t.Fatalf("expected error for non-run event")
	}
}
