package httpclient

import (
	"net/http"
	"time"
)

const (
	responseHeaderTimeout = 15 * time.Second
	expectContinueTimeout = 5 * time.Second
)

// Default returns an HTTP client with timeouts so a dead upstream doesn't
// hang a session slot or a materialize call forever. Use for provider API
// calls, probing, and materialization.
func Default() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: responseHeaderTimeout,
			ExpectContinueTimeout: expectContinueTimeout,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// ForStreaming returns a client with no overall timeout (a stream may be
// long-lived) but keeps ResponseHeaderTimeout so failover can trigger when
// an upstream never responds at all.
func ForStreaming() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: responseHeaderTimeout,
			ExpectContinueTimeout: expectContinueTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
