package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Failure tags why a delivery did not succeed.
type Failure int

const (
	FailureNone Failure = iota
	// FailureTransient is a recoverable HTTP status that was still failing after the retry.
	FailureTransient
	// FailureFatal is a status that will not resolve by itself; the caller must stop delivering.
	FailureFatal
	// FailureConnectivity is an error below the HTTP layer (TLS, DNS, refused connection).
	FailureConnectivity
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailureFatal:
		return "fatal"
	case FailureConnectivity:
		return "connectivity"
	}
	return "unknown"
}

// Result is what a caller gets back from SendEventData.
type Result struct {
	Success      bool
	MustShutDown bool
	// ServerTime is the collection service's Date header; zero when absent or unparseable.
	ServerTime time.Time

	StatusCode int // last HTTP status observed, 0 if none
	Attempts   int
	PayloadID  string
	Failure    Failure
}

// HasServerTime reports whether the response carried a usable Date header
func (r Result) HasServerTime() bool {
	return !r.ServerTime.IsZero()
}

type statusClass int

const (
	classSuccess statusClass = iota
	classRecoverable
	classUnrecoverable
)

// classifyStatus maps an HTTP status onto the retry policy.
// 400, 408, 429 and 5xx are retried once. Any other 4xx is fatal.
// Statuses outside 2xx/4xx/5xx are treated as recoverable.
func classifyStatus(status int) statusClass {
	switch {
	case status >= 200 && status < 300:
		return classSuccess
	case status == http.StatusBadRequest,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return classRecoverable
	case status >= 400 && status < 500:
		return classUnrecoverable
	default:
		return classRecoverable
	}
}

// retryReason labels a recoverable status for metrics.
func retryReason(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "http_429"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_" + strconv.Itoa(status)
	}
	return "http_other"
}

// parseServerTime reads the Date header. Unparseable values are ignored.
func parseServerTime(h http.Header) time.Time {
	v := h.Get("Date")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// connectivityReason labels a transport error for logs and traces.
func connectivityReason(err error) string {
	var netErr net.Error
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns_error"
	case errors.As(err, &certErr), errors.As(err, &unknownAuth):
		return "tls"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return "connection_refused"
	}
	return "network"
}
