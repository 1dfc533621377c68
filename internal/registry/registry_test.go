package registry

import (
	"testing"
	"time"

	"github.com/ivgateway/ivproxy/internal/rewrite"
)

func openTest(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolveIsStableAcrossCalls(t *testing.T) {
	r := openTest(t)
	a, err := r.Resolve("providerA", "100", rewrite.ClusterLive, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := r.Resolve("providerA", "100", rewrite.ClusterLive, 2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.VirtualID != b.VirtualID {
		t.Fatalf("expected stable virtual id, got %d then %d", a.VirtualID, b.VirtualID)
	}
}

func TestPruneStaleKeepsOneGeneration(t *testing.T) {
	r := openTest(t)
	if _, err := r.Resolve("providerA", "1", rewrite.ClusterLive, 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Identity last seen at run 1; current run is 2: still within the
	// one-generation retention window and must survive.
	if _, err := r.PruneStale(2); err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if _, err := r.Resolve("providerA", "1", rewrite.ClusterLive, 2); err != nil {
		t.Fatalf("Resolve should still find retained identity: %v", err)
	}
	// Current run is 3: identity last touched at run 2 is now stale once
	// run 4 arrives.
	if _, err := r.PruneStale(4); err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	after, err := r.Resolve("providerA", "1", rewrite.ClusterLive, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// A fresh mint after pruning still derives the same virtual ID since
	// DeriveVirtualID is a pure hash of the inputs, not a counter.
	if after.VirtualID == 0 {
		t.Fatal("expected a non-zero re-minted virtual id")
	}
}

func TestUserExpiry(t *testing.T) {
	r := openTest(t)
	past := time.Now().Add(-time.Hour)
	if err := r.PutUser(User{Username: "alice", Password: "x", MaxConnections: 1, ExpiresAt: past, Enabled: true}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	u, ok, err := r.GetUser("alice")
	if err != nil || !ok {
		t.Fatalf("GetUser: ok=%v err=%v", ok, err)
	}
	if !u.Expired(time.Now()) {
		t.Fatal("expected user to be expired")
	}
}

func TestUserNeverExpiresWithZeroExpiry(t *testing.T) {
	r := openTest(t)
	if err := r.PutUser(User{Username: "bob", Password: "x", MaxConnections: 1}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	u, _, err := r.GetUser("bob")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Fatal("zero ExpiresAt must never expire")
	}
}
