package main

import "sync"

// statusTracker implements admin.StatusProvider for the composition root
// without internal/admin importing internal/session or internal/hub
// directly (same cycle-avoidance the teacher's probe/gateway split uses).
type statusTracker struct {
	mu       sync.Mutex
	sessions map[*sessionHandle]struct{}
}

func newStatusTracker() *statusTracker {
	return &statusTracker{sessions: make(map[*sessionHandle]struct{})}
}

func (t *statusTracker) track(h *sessionHandle) {
	t.mu.Lock()
	t.sessions[h] = struct{}{}
	t.mu.Unlock()
}

func (t *statusTracker) untrack(h *sessionHandle) {
	t.mu.Lock()
	delete(t.sessions, h)
	t.mu.Unlock()
}

func (t *statusTracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (a *app) ActiveHubs() int {
	return a.hubs.Len()
}

func (a *app) ProviderConnections() map[string]int {
	out := make(map[string]int, len(a.providerLimiters))
	for name, l := range a.providerLimiters {
		out[name] = l.InUse()
	}
	return out
}

func (a *app) ActiveSessions() int {
	return a.statusTracker.ActiveSessions()
}
