// Package events delivers serialized analytics and diagnostic event payloads
// to the collection service, retrying transient failures once.
package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/event_relay/internal/logging"
	"github.com/austindbirch/event_relay/internal/metrics"
	"github.com/austindbirch/event_relay/internal/tracing"
	"github.com/austindbirch/event_relay/internal/transport"
)

const (
	// DefaultRetryDelay is the pause before the single retry of a recoverable failure.
	DefaultRetryDelay = time.Second

	ContentType        = "application/json; charset=utf-8"
	EventSchemaHeader  = "X-LaunchDarkly-Event-Schema"
	PayloadIDHeader    = "X-LaunchDarkly-Payload-ID"
	CurrentEventSchema = "3"

	maxAttempts = 2
)

// HTTPDoer is the shared transport. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender delivers one payload per call.
type Sender interface {
	SendEventData(ctx context.Context, kind Kind, data []byte, eventCount int, baseURI string) Result
	Close() error
}

// DefaultSender is safe for concurrent use. It keeps no state between calls.
type DefaultSender struct {
	client     HTTPDoer
	ownsClient bool
	headers    http.Header
	retryDelay time.Duration
	logger     *logging.Logger

	closeOnce sync.Once
}

type Option func(*DefaultSender)

// WithRetryDelay overrides DefaultRetryDelay. Non-positive values keep the default.
func WithRetryDelay(d time.Duration) Option {
	return func(s *DefaultSender) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithDefaultHeaders sets the headers copied onto every request.
func WithDefaultHeaders(h http.Header) Option {
	return func(s *DefaultSender) {
		s.headers = h.Clone()
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *DefaultSender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSender wraps a transport owned by the caller. Close does not touch it.
func NewSender(client HTTPDoer, opts ...Option) *DefaultSender {
	if client == nil {
		client = http.DefaultClient
	}
	s := &DefaultSender{
		client:     client,
		headers:    make(http.Header),
		retryDelay: DefaultRetryDelay,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSenderFromConfig builds its own transport and default headers from cfg.
// Options are applied after the config, so WithDefaultHeaders replaces the generated set.
func NewSenderFromConfig(cfg transport.Config, opts ...Option) (*DefaultSender, error) {
	client, err := transport.NewHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build event transport: %w", err)
	}
	all := append([]Option{WithDefaultHeaders(transport.DefaultHeaders(cfg))}, opts...)
	s := NewSender(client, all...)
	s.ownsClient = true
	return s, nil
}

// RetryDelay reports the configured delay before a retry
func (s *DefaultSender) RetryDelay() time.Duration {
	return s.retryDelay
}

// Close releases idle connections of a transport this sender built itself.
func (s *DefaultSender) Close() error {
	s.closeOnce.Do(func() {
		if !s.ownsClient {
			return
		}
		if c, ok := s.client.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
	})
	return nil
}

// SendEventData posts data to the kind-specific endpoint under baseURI.
// An empty payload is a successful no-op.
func (s *DefaultSender) SendEventData(ctx context.Context, kind Kind, data []byte, eventCount int, baseURI string) Result {
	if len(data) == 0 {
		return Result{Success: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "events.send",
		attribute.String("event.kind", kind.String()),
		attribute.Int("event.count", eventCount),
		attribute.Int("event.bytes", len(data)),
	)
	defer span.End()
	start := time.Now()

	var res Result
	if kind.isAnalytics() {
		res.PayloadID = uuid.NewString()
	}
	log := func() *logging.LogEntry {
		return s.logger.WithContext(ctx).WithKind(kind.String()).WithPayloadID(res.PayloadID)
	}

	target, err := resolveURI(baseURI, kind)
	if err != nil {
		res.Failure = FailureConnectivity
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Error("invalid event endpoint")
		s.finish(ctx, kind, &res, eventCount, start)
		return res
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx); err != nil {
				log().WithError(err).Warn("retry abandoned")
				break
			}
		}
		res.Attempts = attempt

		status, serverTime, err := s.attempt(ctx, kind, target, data, res.PayloadID)
		metrics.RecordAttempt(kind.String(), status)
		tracing.AddSpanEvent(ctx, "http.attempt",
			attribute.Int("attempt", attempt),
			attribute.Int("http.status_code", status),
		)
		if !serverTime.IsZero() {
			res.ServerTime = serverTime
		}
		if err != nil {
			res.StatusCode = 0
			res.Failure = FailureConnectivity
			reason := connectivityReason(err)
			tracing.SetSpanError(ctx, err)
			tracing.AddSpanEvent(ctx, "http.connectivity_error", attribute.String("reason", reason))
			log().WithFields(map[string]any{
				"attempt": attempt,
				"reason":  reason,
			}).WithError(err).Error("unable to reach event endpoint")
			break
		}
		res.StatusCode = status

		class := classifyStatus(status)
		if class == classSuccess {
			res.Success = true
			res.Failure = FailureNone
			break
		}
		if class == classUnrecoverable && attempt == 1 {
			res.MustShutDown = true
			res.Failure = FailureFatal
			log().WithField("status", status).Error("unrecoverable response from event endpoint; event delivery must stop")
			break
		}

		res.Failure = FailureTransient
		if attempt < maxAttempts {
			metrics.RecordRetry(kind.String(), retryReason(status))
			log().WithFields(map[string]any{
				"status": status,
				"delay":  s.retryDelay.String(),
			}).Warn("recoverable response from event endpoint; will retry")
		} else {
			log().WithField("status", status).Error("event delivery failed after retry")
		}
	}

	s.finish(ctx, kind, &res, eventCount, start)
	return res
}

func (s *DefaultSender) finish(ctx context.Context, kind Kind, res *Result, eventCount int, start time.Time) {
	result := "success"
	if !res.Success {
		result = res.Failure.String()
	}
	metrics.RecordDelivery(kind.String(), result, time.Since(start), eventCount)
	if res.HasServerTime() {
		metrics.RecordServerClockSkew(time.Since(res.ServerTime))
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("delivery.success", res.Success),
		attribute.Bool("delivery.must_shut_down", res.MustShutDown),
		attribute.String("delivery.failure", res.Failure.String()),
		attribute.Int("delivery.attempts", res.Attempts),
		attribute.Int("http.status_code", res.StatusCode),
	}
	if res.PayloadID != "" {
		attrs = append(attrs, attribute.String("event.payload_id", res.PayloadID))
	}
	tracing.AddSpanEvent(ctx, "delivery.finished", attrs...)
}

// attempt performs one POST. A non-nil error means no HTTP response was received.
func (s *DefaultSender) attempt(ctx context.Context, kind Kind, target string, data []byte, payloadID string) (int, time.Time, error) {
	req, err := s.newRequest(ctx, kind, target, data, payloadID)
	if err != nil {
		return 0, time.Time{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, time.Time{}, err
	}
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return resp.StatusCode, parseServerTime(resp.Header), nil
}

func (s *DefaultSender) newRequest(ctx context.Context, kind Kind, target string, data []byte, payloadID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build event request: %w", err)
	}
	if h := s.headers.Clone(); h != nil {
		req.Header = h
	}
	req.Header.Set("Content-Type", ContentType)
	if kind.isAnalytics() {
		req.Header.Set(EventSchemaHeader, CurrentEventSchema)
		req.Header.Set(PayloadIDHeader, payloadID)
	}
	return req, nil
}

func (s *DefaultSender) wait(ctx context.Context) error {
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resolveURI appends the kind's path to base, keeping any path prefix.
func resolveURI(base string, kind Kind) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse event endpoint %q: %w", base, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("event endpoint %q is not an absolute http(s) URL", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + kind.path()
	u.RawPath = ""
	return u.String(), nil
}
