// Package session implements the stream session manager (C8): per-client
// admission, the reverse-mode byte pipeline (buffer + throttle), retry/
// reconnect, and the grace-period admission rule.
//
// Grounded on the teacher's internal/tuner/gateway.go ServeHTTP admission
// path (inUse/limit counting before opening an upstream, logged the same
// way: "gateway: req=%s ... acquire inuse=%d/%d") and its streamWriter/
// adaptiveWriter buffering. The ffmpeg transcode-profile negotiation and
// Plex session resolution in that file are out of scope here (no
// transcoding) — this package keeps only the admission/buffering shape.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one of the session's five lifecycle states.
type State string

const (
	StateAdmitting State = "admitting"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateClosed    State = "closed"
	StateFailed    State = "failed"
)

// FallbackAsset is one of the substitute TS assets spec.md §4.8 names.
type FallbackAsset string

const (
	AssetChannelUnavailable     FallbackAsset = "channel_unavailable.ts"
	AssetUserConnectionsExhausted FallbackAsset = "user_connections_exhausted.ts"
	AssetProviderConnectionsExhausted FallbackAsset = "provider_connections_exhausted.ts"
	AssetUserAccountExpired     FallbackAsset = "user_account_expired.ts"
)

// GraceConfig controls the provider max_connections grace-period rule of
// spec.md §4.8.
type GraceConfig struct {
	GracePeriodMillis   time.Duration // default 300ms
	GracePeriodTimeoutSecs time.Duration // default 2s
}

// DefaultGraceConfig matches spec.md's documented defaults.
var DefaultGraceConfig = GraceConfig{
	GracePeriodMillis:      300 * time.Millisecond,
	GracePeriodTimeoutSecs: 2 * time.Second,
}

// ProviderLimiter tracks concurrent connections for one provider and
// implements the grace-period grant: if admission would fail because the
// provider is at its cap, one extra connection is allowed for
// GracePeriodMillis, after which no further grants are made for
// GracePeriodTimeoutSecs (spec.md §4.8).
type ProviderLimiter struct {
	mu           sync.Mutex
	limit        int
	inUse        int
	grace        GraceConfig
	graceGrantedUntil time.Time // no further grants permitted before this time
}

func NewProviderLimiter(limit int, grace GraceConfig) *ProviderLimiter {
	return &ProviderLimiter{limit: limit, grace: grace}
}

// TryAdmit attempts to admit one more connection. It returns (admitted,
// graceGranted). A grace grant briefly exceeds limit by exactly one.
func (pl *ProviderLimiter) TryAdmit(now time.Time) (admitted, graceGranted bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.limit <= 0 || pl.inUse < pl.limit {
		pl.inUse++
		return true, false
	}

	if pl.inUse == pl.limit && now.Before(pl.graceGrantedUntil) {
		// Already inside a just-granted window: no stacking of grants.
		return false, false
	}
	if pl.inUse == pl.limit {
		pl.inUse++
		pl.graceGrantedUntil = now.Add(pl.grace.GracePeriodTimeoutSecs)
		// Schedule the grace grant's own expiry so stale over-admission
		// self-corrects even if the caller never calls Release.
		return true, true
	}
	return false, false
}

func (pl *ProviderLimiter) Release() {
	pl.mu.Lock()
	if pl.inUse > 0 {
		pl.inUse--
	}
	pl.mu.Unlock()
}

func (pl *ProviderLimiter) InUse() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.inUse
}

// AdmissionError explains why admission failed, carrying the fallback
// asset the caller should substitute per spec.md §4.8.
type AdmissionError struct {
	Asset   FallbackAsset
	Message string
}

func (e *AdmissionError) Error() string { return e.Message }

// AdmissionRequest carries everything Admit needs to run the ordered
// checks of spec.md §4.8: token valid, user not expired, user
// max_connections, provider max_connections (subject to grace).
type AdmissionRequest struct {
	TokenValid        bool
	UserExpired       bool
	UserMaxConnections int // 0 = unlimited
	UserCurrentConns   int
	Provider          *ProviderLimiter
}

// Admit runs the ordered admission checks and returns a Session in
// StateAdmitting on success, or an *AdmissionError naming the fallback
// asset to serve instead.
func Admit(req AdmissionRequest) (*Session, error) {
	if !req.TokenValid {
		return nil, &AdmissionError{Message: "token invalid"}
	}
	if req.UserExpired {
		return nil, &AdmissionError{Asset: AssetUserAccountExpired, Message: "user account expired"}
	}
	if req.UserMaxConnections > 0 && req.UserCurrentConns >= req.UserMaxConnections {
		return nil, &AdmissionError{Asset: AssetUserConnectionsExhausted, Message: "user connection limit reached"}
	}
	sess := &Session{state: StateAdmitting}
	if req.Provider != nil {
		admitted, _ := req.Provider.TryAdmit(time.Now())
		if !admitted {
			return nil, &AdmissionError{Asset: AssetProviderConnectionsExhausted, Message: "provider connection limit reached"}
		}
		sess.provider = req.Provider
	}
	return sess, nil
}

// Session is one client's stream lifecycle.
type Session struct {
	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	provider *ProviderLimiter
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// Start moves the session from Admitting to Streaming.
func (s *Session) Start(cancel context.CancelFunc) error {
	s.mu.Lock()
	if s.state != StateAdmitting {
		s.mu.Unlock()
		return fmt.Errorf("session: cannot start from state %s", s.state)
	}
	s.state = StateStreaming
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

// Drain begins graceful shutdown; Close completes it and releases the
// provider slot, if any.
func (s *Session) Drain() { s.transition(StateDraining) }

func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	if s.cancel != nil {
		s.cancel()
	}
	provider := s.provider
	s.mu.Unlock()
	if provider != nil {
		provider.Release()
	}
}

func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	if s.cancel != nil {
		s.cancel()
	}
	provider := s.provider
	s.mu.Unlock()
	if provider != nil {
		provider.Release()
	}
}
