// Package transport builds the shared HTTP client and the default header set
// used for every request to the event collection service.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultTimeout        = 30 * time.Second

	AuthorizationHeader = "Authorization"
	UserAgentHeader     = "User-Agent"
	WrapperHeader       = "X-LaunchDarkly-Wrapper"
)

// Version is stamped into the default User-Agent. Overridden by ldflags.
var Version = "dev"

var (
	ErrNoCertificates = errors.New("no PEM certificates found")
	ErrInvalidProxy   = errors.New("invalid proxy URL")
)

// Config describes the shared transport. Zero values fall back to defaults.
type Config struct {
	SDKKey    string
	UserAgent string
	// Wrapper identifies a wrapper library, e.g. "react-native/3.1.0".
	Wrapper string

	ConnectTimeout time.Duration
	Timeout        time.Duration
	ProxyURL       string

	// RootCAs replaces the system trust store when set. CAFile is read when RootCAs is nil.
	RootCAs            *x509.CertPool
	CAFile             string
	InsecureSkipVerify bool
}

// NewHTTPClient returns a client suitable for sharing across senders.
func NewHTTPClient(cfg Config) (*http.Client, error) {
	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}

	proxy := http.ProxyFromEnvironment
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, cfg.ProxyURL)
		}
		proxy = http.ProxyURL(u)
	}

	dialer := &net.Dialer{
		Timeout:   orDefault(cfg.ConnectTimeout, DefaultConnectTimeout),
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: tr,
		Timeout:   orDefault(cfg.Timeout, DefaultTimeout),
	}, nil
}

// DefaultHeaders returns the headers copied onto every outgoing event request.
func DefaultHeaders(cfg Config) http.Header {
	h := make(http.Header)
	if cfg.SDKKey != "" {
		h.Set(AuthorizationHeader, cfg.SDKKey)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "EventRelay/" + Version
	}
	h.Set(UserAgentHeader, ua)
	if cfg.Wrapper != "" {
		h.Set(WrapperHeader, cfg.Wrapper)
	}
	return h
}

func tlsConfig(cfg Config) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit opt-in for local collectors
	}
	switch {
	case cfg.RootCAs != nil:
		tc.RootCAs = cfg.RootCAs
	case cfg.CAFile != "":
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: %w", cfg.CAFile, ErrNoCertificates)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
