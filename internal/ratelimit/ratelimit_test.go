package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestAllowEnforcesBurstThenRefills(t *testing.T) {
	l := New(Config{BurstSize: 2, PeriodMillis: 50 * time.Millisecond}, time.Minute)
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected first request to be allowed")
	}
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected second request (within burst) to be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("expected third request to exceed burst and be refused")
	}
	time.Sleep(70 * time.Millisecond)
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected a token to have replenished after period_millis")
	}
}

func TestAllowTracksBucketsPerIP(t *testing.T) {
	l := New(Config{BurstSize: 1, PeriodMillis: time.Second}, time.Minute)
	if !l.Allow("1.1.1.1") {
		t.Fatal("expected first IP's first request to be allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("expected a different IP to have its own independent bucket")
	}
}

func TestClientIPPrefersXForwardedFor(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:9999"}
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.5" {
		t.Fatalf("ClientIP = %q, want 203.0.113.5", got)
	}
}

func TestClientIPFallsBackToRealIPThenForwardedThenRemoteAddr(t *testing.T) {
	r := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:9999"}
	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Fatalf("ClientIP = %q, want 198.51.100.7", got)
	}

	r2 := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:9999"}
	r2.Header.Set("Forwarded", `for=192.0.2.60;proto=http;by=203.0.113.43`)
	if got := ClientIP(r2); got != "192.0.2.60" {
		t.Fatalf("ClientIP = %q, want 192.0.2.60", got)
	}

	r3 := &http.Request{Header: http.Header{}, RemoteAddr: "10.0.0.1:9999"}
	if got := ClientIP(r3); got != "10.0.0.1" {
		t.Fatalf("ClientIP = %q, want 10.0.0.1", got)
	}
}
