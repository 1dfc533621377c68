// Package ratelimit implements per-client-IP request throttling
// (spec.md §5: "token bucket with burst_size and period_millis
// replenishment; proxy-forwarded headers supply the identity").
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the token bucket shared by every client IP.
type Config struct {
	BurstSize    int
	PeriodMillis time.Duration // time to replenish one token
}

// Limiter buckets requests by client IP, evicting idle buckets so memory
// doesn't grow unbounded across a long-running process.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	idleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New builds a Limiter. idleTTL of 0 defaults to ten minutes.
func New(cfg Config, idleTTL time.Duration) *Limiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket), idleTTL: idleTTL}
}

// Allow reports whether a request from ip may proceed, consuming one
// token if so.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		ratePerSec := rate.Limit(1)
		if l.cfg.PeriodMillis > 0 {
			ratePerSec = rate.Every(l.cfg.PeriodMillis)
		}
		b = &bucket{limiter: rate.NewLimiter(ratePerSec, l.cfg.BurstSize)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	l.evictIdleLocked()
	l.mu.Unlock()
	return b.limiter.Allow()
}

// evictIdleLocked must be called with l.mu held.
func (l *Limiter) evictIdleLocked() {
	cutoff := time.Now().Add(-l.idleTTL)
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// ClientIP resolves the originating client address, preferring
// X-Forwarded-For (first hop), then X-Real-IP, then the RFC 7239
// Forwarded header, falling back to the TCP peer address (spec.md §5).
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		if ip := parseForwardedFor(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseForwardedFor extracts the for= parameter of the first element of
// an RFC 7239 Forwarded header, e.g. `for=192.0.2.1;proto=http`.
func parseForwardedFor(header string) string {
	first := header
	if i := strings.IndexByte(header, ','); i >= 0 {
		first = header[:i]
	}
	for _, part := range strings.Split(first, ";") {
		part = strings.TrimSpace(part)
		const prefix = "for="
		if strings.HasPrefix(strings.ToLower(part), prefix) {
			v := strings.TrimPrefix(part, part[:len(prefix)])
			v = strings.Trim(v, `"`)
			v = strings.TrimPrefix(v, "[")
			if i := strings.IndexByte(v, ']'); i >= 0 {
				v = v[:i]
			} else if i := strings.IndexByte(v, ':'); i >= 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}

// Middleware wraps h, returning HTTP 429 for requests whose client IP
// has exhausted its token bucket.
func (l *Limiter) Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}
