package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestProviderLimiterGraceGrantLikeS1(t *testing.T) {
	pl := NewProviderLimiter(1, GraceConfig{GracePeriodMillis: 300 * time.Millisecond, GracePeriodTimeoutSecs: 2 * time.Second})
	now := time.Now()

	admitted, grace := pl.TryAdmit(now)
	if !admitted || grace {
		t.Fatalf("first admit: admitted=%v grace=%v, want true,false", admitted, grace)
	}

	admitted, grace = pl.TryAdmit(now)
	if !admitted || !grace {
		t.Fatalf("second admit (at cap): admitted=%v grace=%v, want true,true (grace grant)", admitted, grace)
	}
	if pl.InUse() != 2 {
		t.Fatalf("expected InUse=2 during grace window, got %d", pl.InUse())
	}

	admitted, _ = pl.TryAdmit(now)
	if admitted {
		t.Fatal("expected third admit within the grace window to be refused")
	}

	pl.Release() // first client disconnects
	if pl.InUse() != 1 {
		t.Fatalf("expected InUse=1 after release, got %d", pl.InUse())
	}
}

func TestAdmitOrdersChecks(t *testing.T) {
	_, err := Admit(AdmissionRequest{TokenValid: false})
	if err == nil {
		t.Fatal("expected token-invalid admission to fail")
	}

	_, err = Admit(AdmissionRequest{TokenValid: true, UserExpired: true})
	var ae *AdmissionError
	if !errors.As(err, &ae) || ae.Asset != AssetUserAccountExpired {
		t.Fatalf("expected user-expired fallback asset, got %+v", err)
	}

	_, err = Admit(AdmissionRequest{TokenValid: true, UserMaxConnections: 1, UserCurrentConns: 1})
	if !errors.As(err, &ae) || ae.Asset != AssetUserConnectionsExhausted {
		t.Fatalf("expected user-limit fallback asset, got %+v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	pl := NewProviderLimiter(1, DefaultGraceConfig)
	sess, err := Admit(AdmissionRequest{TokenValid: true, Provider: pl})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if sess.State() != StateAdmitting {
		t.Fatalf("expected StateAdmitting, got %s", sess.State())
	}
	_, cancel := context.WithCancel(context.Background())
	if err := sess.Start(cancel); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != StateStreaming {
		t.Fatalf("expected StateStreaming, got %s", sess.State())
	}
	sess.Close()
	if sess.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", sess.State())
	}
	if pl.InUse() != 0 {
		t.Fatalf("expected provider slot released on Close, got InUse=%d", pl.InUse())
	}
}

func TestParseThrottleRate(t *testing.T) {
	cases := map[string]float64{
		"1000kbps": 1000 * 1000,
		"1mbps":    1 * 1000 * 1000 * 1000,
		"1KB/s":    1000 * 8,
		"1MiB/s":   1024 * 1024 * 8,
	}
	for in, want := range cases {
		got, err := ParseThrottleRate(in)
		if err != nil {
			t.Fatalf("ParseThrottleRate(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseThrottleRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBufferPumpAndDrain(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("x"), ChunkSize*3))
	buf := NewBuffer(8)
	done := make(chan struct{})

	go func() {
		if err := Pump(src, buf, done); err != nil {
			t.Errorf("Pump: %v", err)
		}
	}()

	total := 0
	for {
		chunk, ok := buf.Pop()
		if !ok {
			break
		}
		total += len(chunk)
	}
	if total != ChunkSize*3 {
		t.Fatalf("got %d bytes total, want %d", total, ChunkSize*3)
	}
}

func TestReconnectAdvancesAliasesOnFailure(t *testing.T) {
	attempts := map[string]int{}
	open := func(ctx context.Context, url string) (io.ReadCloser, error) {
		attempts[url]++
		if url == "b" {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, errors.New("boom")
	}
	policy := ReconnectPolicy{Aliases: []string{"a", "b", "c"}, MaxAttempts: 5}
	rc, alias, err := policy.Reconnect(context.Background(), open)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	defer rc.Close()
	if alias != "b" {
		t.Fatalf("expected alias 'b' to succeed, got %q", alias)
	}
	if attempts["a"] != 1 {
		t.Fatalf("expected 'a' tried once before advancing, got %d", attempts["a"])
	}
}
