// Package relay consumes serialized event batches from NSQ and hands each one
// to the events sender.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/tracing"
)

var ErrEmptyPayload = errors.New("task payload is empty")

// Task is one batch as published by an SDK-side producer. Payload is the
// already serialized JSON array of events and is sent byte for byte.
type Task struct {
	Kind         events.Kind       `json:"kind"`
	Payload      json.RawMessage   `json:"payload"`
	EventCount   int               `json:"event_count"`
	BaseURI      string            `json:"base_uri,omitempty"`      // overrides the relay's configured base
	PublishedAt  string            `json:"published_at"`            // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// NewTask stamps the publish time and the caller's trace context.
func NewTask(ctx context.Context, kind events.Kind, payload []byte, eventCount int, baseURI string) Task {
	return Task{
		Kind:         kind,
		Payload:      json.RawMessage(payload),
		EventCount:   eventCount,
		BaseURI:      baseURI,
		PublishedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		TraceHeaders: tracing.InjectTaskHeaders(ctx),
	}
}

// DecodeTask parses an NSQ message body and normalizes its kind.
func DecodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	kind, err := events.ParseKind(string(t.Kind))
	if err != nil {
		return Task{}, err
	}
	t.Kind = kind
	if len(t.Payload) == 0 || string(t.Payload) == "null" {
		return Task{}, ErrEmptyPayload
	}
	return t, nil
}
