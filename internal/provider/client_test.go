package provider

import (
	"net/http"
	"testing"
)

func TestConnectionAccountantCap(t *testing.T) {
	a := NewConnectionAccountant(2)
	if !a.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !a.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if a.TryAcquire() {
		t.Fatal("expected third acquire to fail at cap")
	}
	a.Release()
	if !a.TryAcquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestConnectionAccountantUnlimited(t *testing.T) {
	a := NewConnectionAccountant(0)
	for i := 0; i < 100; i++ {
		if !a.TryAcquire() {
			t.Fatalf("expected unlimited accountant to always acquire, failed at %d", i)
		}
	}
}

func TestConnectionAccountantForceAcquireExceedsCap(t *testing.T) {
	a := NewConnectionAccountant(1)
	if !a.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	a.ForceAcquire() // grace grant
	if a.InUse() != 2 {
		t.Fatalf("expected InUse=2 after grace grant, got %d", a.InUse())
	}
}

func TestHeaderPolicyDropsConfiguredHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Referer", "http://evil")
	h.Set("X-Forwarded-For", "1.2.3.4")
	h.Set("CF-RAY", "abc")
	h.Set("Authorization", "Bearer x")

	p := HeaderPolicy{DropReferer: true, DropXHeaders: true, DropCloudflare: true}
	p.apply(h)

	if h.Get("Referer") != "" {
		t.Error("expected Referer dropped")
	}
	if h.Get("X-Forwarded-For") != "" {
		t.Error("expected X-* header dropped")
	}
	if h.Get("CF-RAY") != "" {
		t.Error("expected Cloudflare header dropped")
	}
	if h.Get("Authorization") == "" {
		t.Error("expected unrelated header preserved")
	}
}

func TestLooksCloudflareFronted(t *testing.T) {
	if !LooksCloudflareFronted("cloudflare") {
		t.Error("expected exact match to detect cloudflare")
	}
	if LooksCloudflareFronted("nginx") {
		t.Error("expected nginx not to be detected as cloudflare")
	}
}
