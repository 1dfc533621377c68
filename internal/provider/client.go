// client.go extends the teacher's probe-only provider package into the
// full provider client of spec.md §4.7 (C7): configurable connect-timeout,
// optional outbound proxy, per-provider header policy, connection
// accounting with a hard cap, and retry classification including the
// spec's 400/408/425 additions over the teacher's httpclient defaults.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ivgateway/ivproxy/internal/httpclient"
	"github.com/ivgateway/ivproxy/internal/ptverr"
)

// HeaderPolicy controls which headers are stripped from outbound
// requests. DropReferer and DropXHeaders cover the common cases; Custom
// lists arbitrary additional header names to drop, matching spec.md
// §4.7's "arbitrary custom list".
type HeaderPolicy struct {
	DropReferer     bool
	DropXHeaders    bool
	DropCloudflare  bool
	Custom          []string
}

func (p HeaderPolicy) apply(h http.Header) {
	if p.DropReferer {
		h.Del("Referer")
	}
	if p.DropXHeaders {
		for k := range h {
			if strings.HasPrefix(strings.ToUpper(k), "X-") {
				h.Del(k)
			}
		}
	}
	if p.DropCloudflare {
		for _, k := range []string{"CF-Connecting-IP", "CF-IPCountry", "CF-RAY", "CF-Visitor"} {
			h.Del(k)
		}
	}
	for _, k := range p.Custom {
		h.Del(k)
	}
}

// ConnectionAccountant enforces a hard cap on concurrent upstream sockets
// per provider, on top of httpclient.GlobalHostSem's per-host throttling —
// this is a logical per-provider cap (spec.md "hard cap on concurrent
// upstream sockets"), which may span multiple hosts for one provider with
// several base URLs, so it is tracked independently of the host semaphore.
type ConnectionAccountant struct {
	mu      sync.Mutex
	limit   int
	inUse   int
}

// NewConnectionAccountant builds an accountant with limit concurrent
// connections; limit <= 0 means unlimited.
func NewConnectionAccountant(limit int) *ConnectionAccountant {
	return &ConnectionAccountant{limit: limit}
}

// TryAcquire attempts to take a connection slot, returning false if the
// provider's cap is already reached (no grace period here — that lives in
// C8's session admission, which calls TryAcquire and handles the grace
// grant itself).
func (a *ConnectionAccountant) TryAcquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.inUse >= a.limit {
		return false
	}
	a.inUse++
	return true
}

// ForceAcquire takes a slot unconditionally — used for the one-time grace
// grant C8 issues when admission would otherwise fail.
func (a *ConnectionAccountant) ForceAcquire() {
	a.mu.Lock()
	a.inUse++
	a.mu.Unlock()
}

func (a *ConnectionAccountant) Release() {
	a.mu.Lock()
	if a.inUse > 0 {
		a.inUse--
	}
	a.mu.Unlock()
}

func (a *ConnectionAccountant) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Client is one provider's HTTP client: timeouts, proxy, header policy,
// connection accounting, and retry classification.
type Client struct {
	Name            string
	HTTPClient      *http.Client
	HeaderPolicy    HeaderPolicy
	Accountant      *ConnectionAccountant
	MaxAttempts     int
	BackoffMillis   time.Duration
	BackoffMultiplier float64
}

// NewClient builds a provider Client. connectTimeout == 0 means "wait
// indefinitely" (spec.md §4.7); proxyURL == "" means no outbound proxy.
// proxyURL may be http, https, or socks5, matching http.ProxyURL's support
// via net/http's Transport.Proxy hook.
func NewClient(name string, connectTimeout time.Duration, proxyURL string, maxConns int) (*Client, error) {
	transport := &http.Transport{
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("provider: invalid proxy url %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	httpClient := &http.Client{Transport: transport}
	if connectTimeout > 0 {
		httpClient.Timeout = connectTimeout
	}

	return &Client{
		Name:              name,
		HTTPClient:        httpClient,
		Accountant:        NewConnectionAccountant(maxConns),
		MaxAttempts:       3,
		BackoffMillis:     500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}, nil
}

// Get performs a GET with the client's header policy applied and retries
// per spec.md §4.7's retry classification (delegated to
// ptverr.Retriable, which extends the teacher's httpclient policy with
// 400/408/425). Caller must close the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: build request: %w", c.Name, err)
	}
	c.HeaderPolicy.apply(req.Header)

	policy := httpclient.RetryPolicy{
		MaxRetries: maxInt(c.MaxAttempts-1, 0),
		Retry429:   true,
		Max429Wait: 60 * time.Second,
		Retry5xx:   true,
		Backoff5xx: c.BackoffMillis,
		LogHeaders: true,
	}
	resp, err := httpclient.DoWithRetry(ctx, c.HTTPClient, req, policy)
	if err != nil {
		return nil, ptverr.Wrap(ptverr.UpstreamTimeout, fmt.Sprintf("%s: GET %s", c.Name, rawURL), err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotModified &&
		resp.StatusCode != http.StatusPartialContent {
		if !ptverr.Retriable(resp.StatusCode) {
			return resp, ptverr.UpstreamStatus(resp.StatusCode, fmt.Sprintf("%s: GET %s", c.Name, rawURL))
		}
	}
	return resp, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// LooksCloudflareFronted adapts the teacher's CF detection heuristic
// (previously internal/indexer/fetch/cfdetect.go) for use in header
// policy decisions: providers behind Cloudflare typically need the
// Cloudflare-specific request headers dropped to avoid tripping bot
// challenges meant for browser traffic, not server-to-server calls.
func LooksCloudflareFronted(serverHeader string) bool {
	return strings.EqualFold(strings.TrimSpace(serverHeader), "cloudflare")
}
