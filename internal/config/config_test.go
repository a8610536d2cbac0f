package config

import (
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is empty",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		expected int
	}{
		{name: "valid integer", envValue: "42", def: 10, expected: 42},
		{name: "invalid integer", envValue: "forty-two", def: 10, expected: 10},
		{name: "unset", envValue: "", def: 10, expected: 10},
		{name: "negative", envValue: "-3", def: 10, expected: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getenvInt("TEST_INT", tt.def); got != tt.expected {
				t.Errorf("getenvInt() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{name: "true", envValue: "true", def: false, expected: true},
		{name: "one", envValue: "1", def: false, expected: true},
		{name: "false", envValue: "false", def: true, expected: false},
		{name: "invalid", envValue: "maybe", def: true, expected: true},
		{name: "unset", envValue: "", def: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getenvBool("TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("getenvBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      time.Duration
		expected time.Duration
	}{
		{name: "milliseconds", envValue: "50ms", def: time.Second, expected: 50 * time.Millisecond},
		{name: "minutes", envValue: "2m", def: time.Second, expected: 2 * time.Minute},
		{name: "bare number is invalid", envValue: "5", def: time.Second, expected: time.Second},
		{name: "unset", envValue: "", def: time.Second, expected: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			if got := getenvDuration("TEST_DURATION", tt.def); got != tt.expected {
				t.Errorf("getenvDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"8083", ":8083"},
		{":8083", ":8083"},
		{"0.0.0.0:9000", "0.0.0.0:9000"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := listenAddr(tt.in); got != tt.want {
			t.Errorf("listenAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"APP_NAME", "EVENTS_BASE_URI", "SDK_KEY", "EVENTS_RETRY_DELAY",
		"NSQ_BATCHES_TOPIC", "RELAY_HTTP_PORT", "FAIL_STATUS", "COLLECTOR_PORT",
	} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	if cfg.AppName != "event-relay" {
		t.Errorf("AppName = %q", cfg.AppName)
	}
	if cfg.Events.BaseURI != "https://events.launchdarkly.com" {
		t.Errorf("Events.BaseURI = %q", cfg.Events.BaseURI)
	}
	if cfg.Events.RetryDelay != time.Second {
		t.Errorf("Events.RetryDelay = %v, want 1s", cfg.Events.RetryDelay)
	}
	if cfg.NSQ.BatchesTopic != "event_batches" || cfg.NSQ.DLQTopic != "event_batches_dlq" {
		t.Errorf("NSQ topics = %q/%q", cfg.NSQ.BatchesTopic, cfg.NSQ.DLQTopic)
	}
	if cfg.Relay.HTTPPort != ":8083" {
		t.Errorf("Relay.HTTPPort = %q, want :8083", cfg.Relay.HTTPPort)
	}
	if cfg.Collector.FailStatus != 503 {
		t.Errorf("Collector.FailStatus = %d, want 503", cfg.Collector.FailStatus)
	}
	if cfg.Collector.Port != ":8081" {
		t.Errorf("Collector.Port = %q, want :8081", cfg.Collector.Port)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("EVENTS_BASE_URI", "http://localhost:8081/ld")
	t.Setenv("SDK_KEY", "sdk-123")
	t.Setenv("EVENTS_RETRY_DELAY", "50ms")
	t.Setenv("EVENTS_WRAPPER", "relay/2.0")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("HTTP_CA_FILE", "/etc/ssl/collector.pem")
	t.Setenv("PUBLISH_DLQ_TOPIC", "true")
	t.Setenv("RELAY_MAX_IN_FLIGHT", "32")

	cfg := FromEnv()

	if cfg.Events.BaseURI != "http://localhost:8081/ld" {
		t.Errorf("Events.BaseURI = %q", cfg.Events.BaseURI)
	}
	if cfg.Events.RetryDelay != 50*time.Millisecond {
		t.Errorf("Events.RetryDelay = %v", cfg.Events.RetryDelay)
	}
	if !cfg.Relay.PublishDLQ {
		t.Error("Relay.PublishDLQ = false, want true")
	}
	if cfg.Relay.MaxInFlight != 32 {
		t.Errorf("Relay.MaxInFlight = %d, want 32", cfg.Relay.MaxInFlight)
	}

	tc := cfg.Transport()
	if tc.SDKKey != "sdk-123" || tc.Wrapper != "relay/2.0" {
		t.Errorf("Transport() identity = %q/%q", tc.SDKKey, tc.Wrapper)
	}
	if tc.Timeout != 5*time.Second {
		t.Errorf("Transport().Timeout = %v", tc.Timeout)
	}
	if tc.CAFile != "/etc/ssl/collector.pem" {
		t.Errorf("Transport().CAFile = %q", tc.CAFile)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "relay", Pass: "secret", Host: "db", Port: "5433", Name: "events"}}
	want := "postgres://relay:secret@db:5433/events?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
