package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/logging"
	"github.com/austindbirch/event_relay/internal/metrics"
	"github.com/austindbirch/event_relay/internal/tracing"
)

// Recorder persists the outcome of one batch. db.PGRecorder satisfies it.
type Recorder interface {
	Record(ctx context.Context, kind events.Kind, eventCount int, res events.Result) error
}

// Publisher is satisfied by *nsq.Producer
type Publisher interface {
	Publish(topic string, body []byte) error
}

type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
	OutcomeShutdown // unrecoverable response, delivery halted
	OutcomeHalted   // skipped because delivery was already halted
	OutcomeDropped  // malformed task
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeHalted:
		return "halted"
	case OutcomeDropped:
		return "malformed"
	default:
		return "unknown"
	}
}

type Handler struct {
	sender    events.Sender
	baseURI   string
	recorder  Recorder
	publisher Publisher
	dlqTopic  string
	onHalt    func(reason string)
	logger    *logging.Logger

	halted   atomic.Bool
	haltOnce sync.Once
}

type HandlerOption func(*Handler)

// WithRecorder writes every processed batch to r
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

// WithDeadLetters publishes undeliverable batches to topic
func WithDeadLetters(p Publisher, topic string) HandlerOption {
	return func(h *Handler) {
		h.publisher = p
		h.dlqTopic = topic
	}
}

// WithHaltFunc is called once, on the first unrecoverable response.
func WithHaltFunc(fn func(reason string)) HandlerOption {
	return func(h *Handler) { h.onHalt = fn }
}

func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler relays batches through sender. Tasks without their own base URI
// are sent under baseURI.
func NewHandler(sender events.Sender, baseURI string, opts ...HandlerOption) *Handler {
	h := &Handler{
		sender:  sender,
		baseURI: baseURI,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Halted reports whether an unrecoverable response has stopped delivery
func (h *Handler) Halted() bool {
	return h.halted.Load()
}

// HandleMessage implements nsq.Handler. Every message is finished: the sender
// already retried, and failures go to the dead letter topic instead of a requeue.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	h.Process(context.Background(), m.Body)
	return nil
}

func (h *Handler) Process(ctx context.Context, body []byte) Outcome {
	t, err := DecodeTask(body)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("bad task payload")
		metrics.RecordBatchConsumed(OutcomeDropped.String())
		return OutcomeDropped
	}

	ctx = tracing.ExtractTaskHeaders(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "relay.process",
		attribute.String("event.kind", t.Kind.String()),
		attribute.Int("event.count", t.EventCount),
	)
	defer span.End()
	log := h.logger.WithContext(ctx).WithKind(t.Kind.String())

	if h.halted.Load() {
		h.deadLetter(ctx, t, events.Result{}, OutcomeHalted.String())
		metrics.RecordBatchConsumed(OutcomeHalted.String())
		log.WithField("event_count", t.EventCount).Warn("event delivery halted; batch not sent")
		return OutcomeHalted
	}

	base := t.BaseURI
	if base == "" {
		base = h.baseURI
	}
	res := h.sender.SendEventData(ctx, t.Kind, t.Payload, t.EventCount, base)
	log = log.WithPayloadID(res.PayloadID)

	if h.recorder != nil {
		tracing.AddSpanEvent(ctx, "db.record_delivery")
		if err := h.recorder.Record(ctx, t.Kind, t.EventCount, res); err != nil {
			tracing.SetSpanError(ctx, err)
			log.WithError(err).Error("record delivery failed")
		}
	}

	var out Outcome
	switch {
	case res.Success:
		out = OutcomeDelivered
		log.WithFields(map[string]any{
			"event_count": t.EventCount,
			"attempts":    res.Attempts,
			"status":      res.StatusCode,
		}).Info("batch delivered")
	case res.MustShutDown:
		out = OutcomeShutdown
		reason := fmt.Sprintf("http_%d", res.StatusCode)
		h.deadLetter(ctx, t, res, reason)
		h.halt(ctx, reason)
	default:
		out = OutcomeFailed
		h.deadLetter(ctx, t, res, res.Failure.String())
		log.WithFields(map[string]any{
			"failure":  res.Failure.String(),
			"attempts": res.Attempts,
			"status":   res.StatusCode,
		}).Warn("batch not delivered")
	}

	span.SetAttributes(attribute.String("relay.outcome", out.String()))
	metrics.RecordBatchConsumed(out.String())
	return out
}

func (h *Handler) halt(ctx context.Context, reason string) {
	h.haltOnce.Do(func() {
		h.halted.Store(true)
		tracing.AddSpanEvent(ctx, "relay.halted", attribute.String("reason", reason))
		h.logger.WithContext(ctx).WithField("reason", reason).Error("collection service rejected credentials or payload; halting event delivery")
		if h.onHalt != nil {
			h.onHalt(reason)
		}
	})
}

func (h *Handler) deadLetter(ctx context.Context, t Task, res events.Result, reason string) {
	if h.publisher == nil {
		return
	}
	b, err := json.Marshal(NewDeadLetter(t, res, reason))
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("dlq encode failed")
		return
	}
	if err := h.publisher.Publish(h.dlqTopic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		h.logger.WithContext(ctx).WithError(err).Error("dlq publish failed")
		return
	}
	metrics.RecordDLQ(reason)
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", h.dlqTopic))
	h.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  h.dlqTopic,
		"reason": reason,
	}).Info("dlq published")
}
