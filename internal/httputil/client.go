// Package httputil builds the pooled HTTP clients used by the vendor
// adapters. Hosted APIs and local inference servers want different
// timeout shapes, so each adapter picks the profile that fits it.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig carries the knobs the adapters actually vary. Timeout
// caps the whole exchange; HeaderTimeout bounds how long the vendor may
// sit on a request before the first response byte.
type ClientConfig struct {
	Timeout       time.Duration
	DialTimeout   time.Duration
	HeaderTimeout time.Duration
	MaxPerHost    int
}

// APIConfig suits hosted vendor APIs: generous generation time, but a
// stalled connection should fail fast enough to leave deadline for a
// fallback provider.
func APIConfig() ClientConfig {
	return ClientConfig{
		Timeout:       120 * time.Second,
		DialTimeout:   10 * time.Second,
		HeaderTimeout: 30 * time.Second,
		MaxPerHost:    10,
	}
}

// LocalConfig suits self-hosted inference. Model loading can hold the
// response headers for minutes on first use, so the header timeout is
// the whole budget.
func LocalConfig() ClientConfig {
	return ClientConfig{
		Timeout:       300 * time.Second,
		DialTimeout:   2 * time.Second,
		HeaderTimeout: 300 * time.Second,
		MaxPerHost:    4,
	}
}

func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxPerHost,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// APIClient is the client for hosted vendor adapters.
func APIClient() *http.Client {
	return NewClient(APIConfig())
}

// LocalClient is the client for local inference adapters.
func LocalClient() *http.Client {
	return NewClient(LocalConfig())
}
