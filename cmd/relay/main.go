package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/event_relay/internal/config"
	"github.com/austindbirch/event_relay/internal/db"
	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/health"
	"github.com/austindbirch/event_relay/internal/logging"
	"github.com/austindbirch/event_relay/internal/metrics"
	"github.com/austindbirch/event_relay/internal/relay"
	"github.com/austindbirch/event_relay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize structured logging
	logger := logging.New(cfg.AppName)
	logging.SetDefaultService(cfg.AppName)

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect, optional
	var pinger health.Pinger
	var opts []relay.HandlerOption
	if cfg.Relay.RecordOutcomes {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Plain().WithError(err).Fatal("db schema setup failed")
		}
		pinger = pool
		opts = append(opts, relay.WithRecorder(db.NewPGRecorder(pool)))
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	state := health.NewState()
	httpSrv := &http.Server{
		Addr:              cfg.Relay.HTTPPort,
		Handler:           newMux(reg, pinger, state),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("relay HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("relay HTTP server failed")
		}
	}()

	sender, err := events.NewSenderFromConfig(cfg.Transport(),
		events.WithRetryDelay(cfg.Events.RetryDelay),
		events.WithLogger(logger),
	)
	if err != nil {
		logger.Plain().WithError(err).Fatal("event sender creation failed")
	}
	defer sender.Close()

	// DLQ producer
	if cfg.Relay.PublishDLQ {
		dlqProducer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
		opts = append(opts, relay.WithDeadLetters(dlqProducer, cfg.NSQ.DLQTopic))
	}

	halted := make(chan string, 1)
	opts = append(opts,
		relay.WithHaltFunc(haltNotifier(state, halted)),
		relay.WithHandlerLogger(logger),
	)
	handler := relay.NewHandler(sender, cfg.Events.BaseURI, opts...)

	// NSQ consumer
	consumer, err := nsq.NewConsumer(cfg.NSQ.BatchesTopic, cfg.NSQ.RelayChannel, consumerConfig(cfg.Relay))
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.AddConcurrentHandlers(handler, concurrency(cfg.Relay))

	go relay.NewBacklogMonitor(cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.BatchesTopic, cfg.NSQ.RelayChannel,
		cfg.Relay.BacklogPoll, logger).Run(ctx)

	// Connecting directly to NSQD forces channel creation, instead of the channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().WithFields(map[string]any{
		"topic":    cfg.NSQ.BatchesTopic,
		"channel":  cfg.NSQ.RelayChannel,
		"base_uri": cfg.Events.BaseURI,
	}).Info("relay service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-stop:
	case reason := <-halted:
		// Stop consuming but keep /healthz up so the halt is visible
		logger.Plain().WithField("reason", reason).Error("event delivery halted; consumer stopping")
		consumer.Stop()
		<-consumer.StopChan
		<-stop
	}

	logger.Plain().Info("Shutting down relay service")
	consumer.Stop()
	<-consumer.StopChan
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("relay service stopped")
}

func newMux(reg *prometheus.Registry, pinger health.Pinger, state *health.State) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pinger, state))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// haltNotifier marks the relay unhealthy and wakes main. It never blocks the
// handler goroutine.
func haltNotifier(state *health.State, halted chan<- string) func(string) {
	return func(reason string) {
		state.Halt(reason)
		select {
		case halted <- reason:
		default:
		}
	}
}

func concurrency(cfg config.Relay) int {
	if cfg.MaxInFlight < 1 {
		return 1
	}
	return cfg.MaxInFlight
}

func consumerConfig(cfg config.Relay) *nsq.Config {
	conf := nsq.NewConfig()
	conf.MaxInFlight = concurrency(cfg)
	// The sender owns the single retry; NSQ never redelivers a batch
	conf.MaxAttempts = 1
	return conf
}
