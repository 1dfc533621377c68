package rewrite

import (
	"strings"
	"testing"
	"time"
)

func testSecret() []byte {
	return []byte("0123456789abcdef")
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner(testSecret())
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	p := Payload{
		Kind:            KindStream,
		Target:          "http://origin.example/live/123.ts",
		Cluster:         ClusterLive,
		VirtualID:       4242,
		UserFingerprint: 99,
	}
	tok := s.Mint(p)
	if tok == "" {
		t.Fatal("Mint returned empty token")
	}
	got, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	s, err := NewSigner(testSecret())
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	tok := s.Mint(Payload{Kind: KindResource, Target: "http://a/b.png", Cluster: ClusterVOD})
	tampered := tok[:len(tok)-1] + "A"
	if tampered == tok {
		tampered = "A" + tok[1:]
	}
	if _, err := s.Verify(tampered); err == nil {
		t.Fatal("expected error verifying tampered token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s1, _ := NewSigner(testSecret())
	s2, _ := NewSigner([]byte("fedcba9876543210"))
	tok := s1.Mint(Payload{Kind: KindResource, Target: "http://a/b.png", Cluster: ClusterVOD})
	if _, err := s2.Verify(tok); err == nil {
		t.Fatal("expected error verifying with mismatched secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s, _ := NewSigner(testSecret())
	tok := s.Mint(Payload{
		Kind:      KindStream,
		Target:    "http://a/b.ts",
		Cluster:   ClusterLive,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	_, err := s.Verify(tok)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestNewSignerRejectsBadSecretLength(t *testing.T) {
	if _, err := NewSigner([]byte("short")); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestDeriveVirtualIDStableAndDomainSeparated(t *testing.T) {
	a := DeriveVirtualID("provA", "100", ClusterLive)
	b := DeriveVirtualID("provA", "100", ClusterLive)
	if a != b {
		t.Fatal("DeriveVirtualID not stable across calls")
	}
	c := DeriveVirtualID("provA", "100", ClusterVOD)
	if a == c {
		t.Fatal("expected different clusters to produce different virtual IDs")
	}
}
