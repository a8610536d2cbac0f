package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/event_relay/internal/config"
	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/logging"
)

const maxBodyBytes = 10 << 20

// collector stands in for the event collection service.
type collector struct {
	failFirstN    int
	failStatus    int
	responseDelay time.Duration
	clockOffset   time.Duration
	sdkKey        string
	now           func() time.Time
	logger        *logging.Logger

	mu       sync.Mutex
	reqCount int
	seen     map[string]int // payload id -> times received
}

func newCollector(cfg config.Collector, logger *logging.Logger) *collector {
	status := cfg.FailStatus
	if status < 100 || status > 599 {
		status = http.StatusServiceUnavailable
	}
	return &collector{
		failFirstN:    cfg.FailFirstN,
		failStatus:    status,
		responseDelay: cfg.ResponseDelay,
		clockOffset:   cfg.ClockOffset,
		sdkKey:        cfg.SDKKey,
		now:           time.Now,
		logger:        logger,
		seen:          make(map[string]int),
	}
}

func (c *collector) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/", c.handleEvents)
	return mux
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-collector")
	c := newCollector(cfg.Collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	srv := &http.Server{Addr: cfg.Collector.Port, Handler: c.routes()}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":         srv.Addr,
			"fail_first_n": c.failFirstN,
			"fail_status":  c.failStatus,
		}).Info("fake-collector listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("fake-collector HTTP server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Plain().Info("fake-collector stopped")
}

func kindForPath(path string) (events.Kind, bool) {
	switch {
	case strings.HasSuffix(path, "/bulk"):
		return events.KindAnalytics, true
	case strings.HasSuffix(path, "/diagnostic"):
		return events.KindDiagnostics, true
	default:
		return "", false
	}
}

func (c *collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindForPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.reqCount++
	n := c.reqCount
	payloadID := r.Header.Get(events.PayloadIDHeader)
	if payloadID != "" {
		c.seen[payloadID]++
	}
	repeats := c.seen[payloadID]
	c.mu.Unlock()

	if c.responseDelay > 0 {
		time.Sleep(c.responseDelay)
	}
	w.Header().Set("Date", c.now().Add(c.clockOffset).UTC().Format(http.TimeFormat))

	log := c.logger.WithContext(r.Context()).WithKind(kind.String()).WithPayloadID(payloadID).WithFields(map[string]any{
		"request": n,
		"path":    r.URL.Path,
		"bytes":   len(body),
	})
	if payloadID != "" && repeats > 1 {
		log = log.WithField("retry_of_payload", repeats-1)
	}

	if c.sdkKey != "" && r.Header.Get("Authorization") != c.sdkKey {
		log.Warn("rejecting request with wrong sdk key")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if msg := validate(kind, r.Header, body); msg != "" {
		log.WithField("reason", msg).Warn("rejecting invalid event payload")
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	// Simulate flakiness: first N requests fail
	if n <= c.failFirstN {
		log.WithField("status", c.failStatus).Warnf("FAILING (%d/%d)", n, c.failFirstN)
		http.Error(w, "temporary failure", c.failStatus)
		return
	}

	log.Info("events accepted")
	w.WriteHeader(http.StatusAccepted)
}

// validate returns a non-empty message describing the first problem found
func validate(kind events.Kind, h http.Header, body []byte) string {
	if ct := h.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return fmt.Sprintf("unsupported content type %q", ct)
	}
	if !json.Valid(body) {
		return "body is not valid JSON"
	}
	if kind != events.KindAnalytics {
		return ""
	}
	if v := h.Get(events.EventSchemaHeader); v != events.CurrentEventSchema {
		return fmt.Sprintf("unexpected event schema %q", v)
	}
	if _, err := uuid.Parse(h.Get(events.PayloadIDHeader)); err != nil {
		return "missing or invalid payload id"
	}
	return ""
}

func (c *collector) requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqCount
}
