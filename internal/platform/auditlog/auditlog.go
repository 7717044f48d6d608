// Package auditlog appends tamper-evident lifecycle events to audit_events.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResourceRun is the resource type of run lifecycle events.
const ResourceRun = "run"

// ErrIntegrity reports a stored event whose hash no longer matches its fields.
var ErrIntegrity = errors.New("audit event integrity mismatch")

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	Payload      any
}

// RunTransition is the payload of a run lifecycle event.
type RunTransition struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Error *string `json:"error,omitempty"`
}

// RunTransitionEvent builds the event recorded when a run moves between states.
func RunTransitionEvent(at time.Time, actor, runID, action string, payload RunTransition) Event {
	return Event{
		OccurredAt:   at,
		Actor:        actor,
		Action:       action,
		ResourceType: ResourceRun,
		ResourceID:   runID,
		Payload:      payload,
	}
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at,
	actor,
	action,
	resource_type,
	resource_id,
	request_id,
	payload,
	integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING event_id`

// Insert writes one event. Pass a *sql.Tx to make the event part of the
// caller's state change.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	event, payloadJSON, integrity, err := seal(event)
	if err != nil {
		return 0, err
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt,
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		requestID,
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// seal normalizes event and returns the payload and hash Insert stores.
func seal(event Event) (Event, []byte, string, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	// timestamptz keeps microseconds; hash what will be read back.
	event.OccurredAt = event.OccurredAt.UTC().Truncate(time.Microsecond)
	if err := event.Validate(); err != nil {
		return Event{}, nil, "", err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	payloadJSON, err := canonicalJSON(raw)
	if err != nil {
		return Event{}, nil, "", err
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return Event{}, nil, "", err
	}
	return event, payloadJSON, integrity, nil
}

// Record is an event read back from audit_events.
type Record struct {
	ID              int64
	OccurredAt      time.Time
	Actor           string
	Action          string
	ResourceType    string
	ResourceID      string
	RequestID       string
	PayloadJSON     []byte
	IntegritySHA256 string
}

// Verify recomputes the integrity hash. jsonb may reorder keys, so the
// payload is canonicalized first.
func (r Record) Verify() error {
	payloadJSON, err := canonicalJSON(r.PayloadJSON)
	if err != nil {
		return err
	}
	want, err := ComputeIntegritySHA256(Event{
		OccurredAt:   r.OccurredAt,
		Actor:        r.Actor,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		RequestID:    r.RequestID,
	}, payloadJSON)
	if err != nil {
		return err
	}
	if want != r.IntegritySHA256 {
		return fmt.Errorf("event %d: %w", r.ID, ErrIntegrity)
	}
	return nil
}

// RunTransition decodes the payload of a run lifecycle event.
func (r Record) RunTransition() (RunTransition, error) {
	if r.ResourceType != ResourceRun {
		return RunTransition{}, fmt.Errorf("event %d is a %s event", r.ID, r.ResourceType)
	}
	var out RunTransition
	if err := json.Unmarshal(r.PayloadJSON, &out); err != nil {
		return RunTransition{}, fmt.Errorf("decode event %d: %w", r.ID, err)
	}
	return out, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		RequestID    string          `json:"request_id,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}

	blob, err := json.Marshal(integrityInput{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		Payload:      payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-encodes raw with sorted object keys and no insignificant
// whitespace.
func canonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
