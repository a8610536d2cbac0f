package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/austindbirch/event_relay/internal/events"
)

func TestNewTask(t *testing.T) {
	before := time.Now().UTC()
	task := NewTask(context.Background(), events.KindAnalytics, []byte(`[{"kind":"identify"}]`), 1, "https://events.example.com")

	assert.Equal(t, events.KindAnalytics, task.Kind)
	assert.Equal(t, 1, task.EventCount)
	assert.Equal(t, "https://events.example.com", task.BaseURI)

	published, err := time.Parse(time.RFC3339Nano, task.PublishedAt)
	require.NoError(t, err)
	assert.False(t, published.Before(before.Truncate(time.Second)))
}

func TestNewTask_CarriesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	task := NewTask(ctx, events.KindDiagnostics, []byte(`{}`), 1, "")
	assert.Contains(t, task.TraceHeaders, "traceparent")
	assert.Contains(t, task.TraceHeaders["traceparent"], span.SpanContext().TraceID().String())
}

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind events.Kind
		wantErr  bool
	}{
		{name: "analytics", body: `{"kind":"analytics","payload":[{"kind":"feature"}],"event_count":1}`, wantKind: events.KindAnalytics},
		{name: "bulk alias", body: `{"kind":"bulk","payload":[],"event_count":0}`, wantKind: events.KindAnalytics},
		{name: "diagnostic alias", body: `{"kind":"diagnostic","payload":{"id":{}},"event_count":1}`, wantKind: events.KindDiagnostics},
		{name: "unknown kind", body: `{"kind":"summary","payload":[]}`, wantErr: true},
		{name: "null payload", body: `{"kind":"analytics","payload":null}`, wantErr: true},
		{name: "not json", body: `kind=analytics`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := DecodeTask([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, task.Kind)
			assert.NotEmpty(t, task.Payload)
		})
	}
}

func TestNewDeadLetter(t *testing.T) {
	task := NewTask(context.Background(), events.KindAnalytics, []byte(`[1,2,3]`), 3, "")
	res := events.Result{Failure: events.FailureFatal, MustShutDown: true, StatusCode: 403, Attempts: 1, PayloadID: "p-9"}

	before := time.Now()
	dl := NewDeadLetter(task, res, "http_403")
	after := time.Now()

	assert.Equal(t, DLQType, dl.Type)
	assert.Equal(t, "v1", dl.Version)
	assert.Equal(t, "http_403", dl.Reason)
	assert.Equal(t, "fatal", dl.Failure)
	assert.Equal(t, 403, dl.HTTPStatus)
	assert.Equal(t, 1, dl.Attempts)
	assert.Equal(t, "p-9", dl.PayloadID)

	at, err := time.Parse(time.RFC3339Nano, dl.At)
	require.NoError(t, err)
	assert.False(t, at.Before(before.Add(-time.Second)))
	assert.False(t, at.After(after.Add(time.Second)))

	b, err := json.Marshal(dl)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"payload":[1,2,3]`)
	assert.Contains(t, string(b), `"type":"event_batch.dlq"`)
}
