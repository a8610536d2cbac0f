package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_deliveries_total",
			Help: "Total number of event payload deliveries by kind and result.",
		},
		[]string{"kind", "result"}, // result: success, transient, fatal, connectivity
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_delivery_attempts_total",
			Help: "Total number of HTTP attempts by kind and status code.",
		},
		[]string{"kind", "status_code"}, // status_code "error" for transport failures
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_retries_total",
			Help: "Total number of delivery retries by kind and reason.",
		},
		[]string{"kind", "reason"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventrelay_delivery_latency_seconds",
			Help:    "Wall time of a delivery including its retry.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	EventsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_events_delivered_total",
			Help: "Total number of individual events in successfully delivered payloads.",
		},
		[]string{"kind"},
	)

	ServerClockSkewSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventrelay_server_clock_skew_seconds",
			Help: "Local clock minus the collection service Date header at the last response.",
		},
	)

	BatchesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_batches_consumed_total",
			Help: "Total number of queued batches handled by the relay by result.",
		},
		[]string{"result"},
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_dlq_total",
			Help: "Total number of batches dead-lettered by reason.",
		},
		[]string{"reason"},
	)

	RelayBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventrelay_relay_backlog",
			Help: "Messages waiting on the relay channel.",
		},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventrelay_nsq_topic_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DeliveriesTotal,
		DeliveryAttemptsTotal,
		RetriesTotal,
		DeliveryLatencySeconds,
		EventsDeliveredTotal,
		ServerClockSkewSeconds,
		BatchesConsumedTotal,
		DLQTotal,
		RelayBacklog,
		NSQTopicDepth,
	)
}

// RecordAttempt counts one HTTP attempt. status 0 means the request never got a response.
func RecordAttempt(kind string, status int) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	DeliveryAttemptsTotal.WithLabelValues(kind, code).Inc()
}

func RecordRetry(kind, reason string) {
	RetriesTotal.WithLabelValues(kind, reason).Inc()
}

// RecordDelivery records the final outcome of one send call.
func RecordDelivery(kind, result string, latency time.Duration, eventCount int) {
	DeliveriesTotal.WithLabelValues(kind, result).Inc()
	DeliveryLatencySeconds.WithLabelValues(kind).Observe(latency.Seconds())
	if result == "success" && eventCount > 0 {
		EventsDeliveredTotal.WithLabelValues(kind).Add(float64(eventCount))
	}
}

func RecordServerClockSkew(skew time.Duration) {
	ServerClockSkewSeconds.Set(skew.Seconds())
}

func RecordBatchConsumed(result string) {
	BatchesConsumedTotal.WithLabelValues(result).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func UpdateRelayBacklog(depth float64) {
	RelayBacklog.Set(depth)
}

func UpdateNSQTopicDepth(topic, channel string, depth float64) {
	NSQTopicDepth.WithLabelValues(topic, channel).Set(depth)
}
