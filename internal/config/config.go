package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/austindbirch/event_relay/internal/transport"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, used for backlog stats
	LookupHTTPAddr string // e.g. nsqlookupd:4161
	BatchesTopic   string // NSQ topic carrying serialized event batches
	DLQTopic       string // Dead letter topic for batches that could not be delivered
	RelayChannel   string // NSQ channel name for relays
}

type Events struct {
	BaseURI    string        // collection service base, e.g. https://events.launchdarkly.com
	SDKKey     string        // sent verbatim as the Authorization header
	RetryDelay time.Duration // pause before the single retry
	UserAgent  string
	Wrapper    string
}

type HTTP struct {
	ConnectTimeout     time.Duration
	Timeout            time.Duration
	ProxyURL           string
	CAFile             string
	InsecureSkipVerify bool
}

type Relay struct {
	HTTPPort       string        // metrics/health listen address
	MaxInFlight    int           // NSQ max in flight
	PublishDLQ     bool          // whether failed batches are published to the DLQ topic
	RecordOutcomes bool          // whether outcomes are written to Postgres
	BacklogPoll    time.Duration // nsqd stats poll interval
}

type Collector struct {
	Port          string        // fake collector listen address
	FailFirstN    int           // Number of requests to fail initially
	FailStatus    int           // status returned while failing
	ResponseDelay time.Duration // Simulated response delay
	ClockOffset   time.Duration // added to the Date header
	SDKKey        string        // when set, requests must carry it as Authorization
}

type Config struct {
	AppName   string
	Events    Events
	HTTP      HTTP
	DB        DB
	NSQ       NSQ
	Relay     Relay
	Collector Collector
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// listenAddr accepts either "8083" or ":8083"
func listenAddr(v string) string {
	if v == "" || v[0] == ':' {
		return v
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "event-relay"),
		Events: Events{
			BaseURI:    getenv("EVENTS_BASE_URI", "https://events.launchdarkly.com"),
			SDKKey:     getenv("SDK_KEY", ""),
			RetryDelay: getenvDuration("EVENTS_RETRY_DELAY", time.Second),
			UserAgent:  getenv("EVENTS_USER_AGENT", ""),
			Wrapper:    getenv("EVENTS_WRAPPER", ""),
		},
		HTTP: HTTP{
			ConnectTimeout:     getenvDuration("HTTP_CONNECT_TIMEOUT", transport.DefaultConnectTimeout),
			Timeout:            getenvDuration("HTTP_TIMEOUT", transport.DefaultTimeout),
			ProxyURL:           getenv("HTTP_PROXY_URL", ""),
			CAFile:             getenv("HTTP_CA_FILE", ""),
			InsecureSkipVerify: getenvBool("HTTP_INSECURE_SKIP_VERIFY", false),
		},
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "eventrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "nsqlookupd:4161"),
			BatchesTopic:   getenv("NSQ_BATCHES_TOPIC", "event_batches"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "event_batches_dlq"),
			RelayChannel:   getenv("NSQ_RELAY_CHANNEL", "relay"),
		},
		Relay: Relay{
			HTTPPort:       listenAddr(getenv("RELAY_HTTP_PORT", "8083")),
			MaxInFlight:    getenvInt("RELAY_MAX_IN_FLIGHT", 8),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
			RecordOutcomes: getenvBool("RELAY_RECORD_OUTCOMES", true),
			BacklogPoll:    getenvDuration("RELAY_BACKLOG_POLL", 15*time.Second),
		},
		Collector: Collector{
			Port:          listenAddr(getenv("COLLECTOR_PORT", "8081")),
			FailFirstN:    getenvInt("FAIL_FIRST_N", 0),
			FailStatus:    getenvInt("FAIL_STATUS", 503),
			ResponseDelay: getenvDuration("RESPONSE_DELAY", 0),
			ClockOffset:   getenvDuration("COLLECTOR_CLOCK_OFFSET", 0),
			SDKKey:        getenv("COLLECTOR_SDK_KEY", ""),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Transport returns the settings for the shared event transport
func (c Config) Transport() transport.Config {
	return transport.Config{
		SDKKey:             c.Events.SDKKey,
		UserAgent:          c.Events.UserAgent,
		Wrapper:            c.Events.Wrapper,
		ConnectTimeout:     c.HTTP.ConnectTimeout,
		Timeout:            c.HTTP.Timeout,
		ProxyURL:           c.HTTP.ProxyURL,
		CAFile:             c.HTTP.CAFile,
		InsecureSkipVerify: c.HTTP.InsecureSkipVerify,
	}
}
