package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/logging"
	"github.com/austindbirch/event_relay/internal/metrics"
)

type sendCall struct {
	kind    events.Kind
	data    []byte
	count   int
	baseURI string
}

type fakeSender struct {
	mu      sync.Mutex
	results []events.Result
	calls   []sendCall
}

func (f *fakeSender) SendEventData(ctx context.Context, kind events.Kind, data []byte, eventCount int, baseURI string) events.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{kind: kind, data: data, count: eventCount, baseURI: baseURI})
	if len(f.results) == 0 {
		return events.Result{Success: true, Attempts: 1, StatusCode: 202}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeSender) Close() error { return nil }

type recorded struct {
	kind  events.Kind
	count int
	res   events.Result
}

type fakeRecorder struct {
	rows []recorded
	err  error
}

func (f *fakeRecorder) Record(ctx context.Context, kind events.Kind, eventCount int, res events.Result) error {
	f.rows = append(f.rows, recorded{kind: kind, count: eventCount, res: res})
	return f.err
}

type published struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, body: body})
	return nil
}

func taskBody(t *testing.T, task Task) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func analyticsTask() Task {
	return NewTask(context.Background(), events.KindAnalytics, []byte(`[{"kind":"feature","key":"flag-a"}]`), 1, "")
}

func decodeDeadLetter(t *testing.T, p published) DeadLetter {
	t.Helper()
	var dl DeadLetter
	require.NoError(t, json.Unmarshal(p.body, &dl))
	return dl
}

func TestProcess_Delivered(t *testing.T) {
	sender := &fakeSender{}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	h := NewHandler(sender, "https://events.example.com",
		WithRecorder(rec),
		WithDeadLetters(pub, "event_batches_dlq"),
		WithHandlerLogger(logging.Discard()),
	)

	before := testutil.ToFloat64(metrics.BatchesConsumedTotal.WithLabelValues("delivered"))
	out := h.Process(context.Background(), taskBody(t, analyticsTask()))

	assert.Equal(t, OutcomeDelivered, out)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, events.KindAnalytics, sender.calls[0].kind)
	assert.Equal(t, "https://events.example.com", sender.calls[0].baseURI)
	assert.JSONEq(t, `[{"kind":"feature","key":"flag-a"}]`, string(sender.calls[0].data))
	assert.Equal(t, 1, sender.calls[0].count)

	require.Len(t, rec.rows, 1)
	assert.True(t, rec.rows[0].res.Success)
	assert.Empty(t, pub.msgs)
	assert.False(t, h.Halted())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BatchesConsumedTotal.WithLabelValues("delivered")))
}

func TestProcess_TaskBaseURIOverrides(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, "https://events.example.com", WithHandlerLogger(logging.Discard()))

	task := NewTask(context.Background(), events.KindDiagnostics, []byte(`{"kind":"diagnostic"}`), 1, "http://localhost:8081/proxy")
	out := h.Process(context.Background(), taskBody(t, task))

	assert.Equal(t, OutcomeDelivered, out)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, events.KindDiagnostics, sender.calls[0].kind)
	assert.Equal(t, "http://localhost:8081/proxy", sender.calls[0].baseURI)
}

func TestProcess_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "definitely not json"},
		{name: "unknown kind", body: `{"kind":"custom","payload":[1],"event_count":1}`},
		{name: "missing payload", body: `{"kind":"analytics","event_count":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			rec := &fakeRecorder{}
			pub := &fakePublisher{}
			h := NewHandler(sender, "https://events.example.com",
				WithRecorder(rec),
				WithDeadLetters(pub, "dlq"),
				WithHandlerLogger(logging.Discard()),
			)

			before := testutil.ToFloat64(metrics.BatchesConsumedTotal.WithLabelValues("malformed"))
			out := h.Process(context.Background(), []byte(tt.body))

			assert.Equal(t, OutcomeDropped, out)
			assert.Empty(t, sender.calls)
			assert.Empty(t, rec.rows)
			assert.Empty(t, pub.msgs)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.BatchesConsumedTotal.WithLabelValues("malformed")))
		})
	}
}

func TestProcess_FailureDeadLettered(t *testing.T) {
	sender := &fakeSender{results: []events.Result{{
		Failure:    events.FailureTransient,
		StatusCode: 503,
		Attempts:   2,
		PayloadID:  "payload-1",
	}}}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	h := NewHandler(sender, "https://events.example.com",
		WithRecorder(rec),
		WithDeadLetters(pub, "event_batches_dlq"),
		WithHandlerLogger(logging.Discard()),
	)

	task := analyticsTask()
	out := h.Process(context.Background(), taskBody(t, task))

	assert.Equal(t, OutcomeFailed, out)
	assert.False(t, h.Halted())
	require.Len(t, rec.rows, 1)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "event_batches_dlq", pub.msgs[0].topic)

	dl := decodeDeadLetter(t, pub.msgs[0])
	assert.Equal(t, DLQType, dl.Type)
	assert.Equal(t, "v1", dl.Version)
	assert.Equal(t, "transient", dl.Reason)
	assert.Equal(t, "transient", dl.Failure)
	assert.Equal(t, 2, dl.Attempts)
	assert.Equal(t, 503, dl.HTTPStatus)
	assert.Equal(t, "payload-1", dl.PayloadID)
	assert.Equal(t, events.KindAnalytics, dl.Task.Kind)
	assert.JSONEq(t, string(task.Payload), string(dl.Task.Payload))
}

func TestProcess_FailureWithoutPublisher(t *testing.T) {
	sender := &fakeSender{results: []events.Result{{Failure: events.FailureConnectivity, Attempts: 1}}}
	h := NewHandler(sender, "https://events.example.com", WithHandlerLogger(logging.Discard()))

	out := h.Process(context.Background(), taskBody(t, analyticsTask()))
	assert.Equal(t, OutcomeFailed, out)
}

func TestProcess_MustShutDownHaltsOnce(t *testing.T) {
	sender := &fakeSender{results: []events.Result{{
		MustShutDown: true,
		Failure:      events.FailureFatal,
		StatusCode:   401,
		Attempts:     1,
	}}}
	pub := &fakePublisher{}
	var halts []string
	h := NewHandler(sender, "https://events.example.com",
		WithDeadLetters(pub, "dlq"),
		WithHaltFunc(func(reason string) { halts = append(halts, reason) }),
		WithHandlerLogger(logging.Discard()),
	)

	out := h.Process(context.Background(), taskBody(t, analyticsTask()))
	assert.Equal(t, OutcomeShutdown, out)
	assert.True(t, h.Halted())
	assert.Equal(t, []string{"http_401"}, halts)

	// Later batches never reach the sender
	for i := 0; i < 3; i++ {
		out = h.Process(context.Background(), taskBody(t, analyticsTask()))
		assert.Equal(t, OutcomeHalted, out)
	}
	assert.Len(t, sender.calls, 1)
	assert.Equal(t, []string{"http_401"}, halts)

	require.Len(t, pub.msgs, 4)
	assert.Equal(t, "http_401", decodeDeadLetter(t, pub.msgs[0]).Reason)
	for _, m := range pub.msgs[1:] {
		assert.Equal(t, "halted", decodeDeadLetter(t, m).Reason)
	}
}

func TestProcess_RecorderAndPublisherErrorsDoNotChangeOutcome(t *testing.T) {
	sender := &fakeSender{results: []events.Result{{Failure: events.FailureTransient, StatusCode: 500, Attempts: 2}}}
	rec := &fakeRecorder{err: errors.New("db down")}
	pub := &fakePublisher{err: errors.New("nsqd down")}
	h := NewHandler(sender, "https://events.example.com",
		WithRecorder(rec),
		WithDeadLetters(pub, "dlq"),
		WithHandlerLogger(logging.Discard()),
	)

	out := h.Process(context.Background(), taskBody(t, analyticsTask()))
	assert.Equal(t, OutcomeFailed, out)
	assert.Len(t, rec.rows, 1)
}

func TestHandleMessage(t *testing.T) {
	sender := &fakeSender{results: []events.Result{{Failure: events.FailureTransient, StatusCode: 500, Attempts: 2}}}
	h := NewHandler(sender, "https://events.example.com", WithHandlerLogger(logging.Discard()))

	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")

	assert.NoError(t, h.HandleMessage(nsq.NewMessage(id, taskBody(t, analyticsTask()))))
	assert.NoError(t, h.HandleMessage(nsq.NewMessage(id, []byte("garbage"))))
	assert.NoError(t, h.HandleMessage(nsq.NewMessage(id, nil)))
	assert.Len(t, sender.calls, 1)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "shutdown", OutcomeShutdown.String())
	assert.Equal(t, "halted", OutcomeHalted.String())
	assert.Equal(t, "malformed", OutcomeDropped.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

// End to end through a real sender: 401 halts, so the second batch is never posted.
func TestProcess_WithDefaultSender(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := events.NewSender(srv.Client(),
		events.WithRetryDelay(10*time.Millisecond),
		events.WithLogger(logging.Discard()),
	)
	halted := make(chan string, 1)
	h := NewHandler(sender, srv.URL,
		WithHaltFunc(func(reason string) { halted <- reason }),
		WithHandlerLogger(logging.Discard()),
	)

	assert.Equal(t, OutcomeDelivered, h.Process(context.Background(), taskBody(t, analyticsTask())))
	assert.Equal(t, OutcomeShutdown, h.Process(context.Background(), taskBody(t, analyticsTask())))
	assert.Equal(t, OutcomeHalted, h.Process(context.Background(), taskBody(t, analyticsTask())))

	select {
	case reason := <-halted:
		assert.Equal(t, "http_401", reason)
	default:
		t.Fatal("halt callback not called")
	}
	assert.Equal(t, int32(2), hits.Load())
}
