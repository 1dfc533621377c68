package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ivgateway/ivproxy/internal/session"
)

type fakeUpstream struct {
	r *bytes.Reader
}

func (f *fakeUpstream) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fakeUpstream) Close() error                { return nil }

func TestAttachReplaysBurstBuffer(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), session.ChunkSize*2)
	var opens int32
	open := func(ctx context.Context, url string) (io.ReadCloser, error) {
		atomic.AddInt32(&opens, 1)
		return &fakeUpstream{r: bytes.NewReader(payload)}, nil
	}

	reg := NewRegistry(1<<20, 16, 50*time.Millisecond)
	key := Key{Target: "t1", ChannelVirtualID: 42}

	c1, err := reg.Attach(key, open, []string{"u1"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	var got []byte
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case chunk, ok := <-c1.Chunks():
			if !ok {
				break loop
			}
			got = append(got, chunk...)
			if len(got) >= len(payload) {
				break loop
			}
		case <-deadline:
			t.Fatal("timed out waiting for bytes")
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("client received %d bytes, want %d matching payload", len(got), len(payload))
	}

	// A second attach should replay from the burst buffer without
	// opening a second upstream connection.
	c2, err := reg.Attach(key, open, []string{"u1"})
	if err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	select {
	case chunk, ok := <-c2.Chunks():
		if ok && len(chunk) == 0 {
			t.Fatal("expected replayed chunk to be non-empty")
		}
	case <-time.After(time.Second):
		t.Fatal("second client never received replay")
	}
	if atomic.LoadInt32(&opens) != 1 {
		t.Fatalf("expected exactly one upstream open, got %d", opens)
	}
	reg.Detach(key, c1)
	reg.Detach(key, c2)
}

func TestSlowClientIsDisconnected(t *testing.T) {
	bigPayload := bytes.Repeat([]byte("b"), session.ChunkSize*500)
	open := func(ctx context.Context, url string) (io.ReadCloser, error) {
		return &fakeUpstream{r: bytes.NewReader(bigPayload)}, nil
	}
	reg := NewRegistry(1<<20, 2, 50*time.Millisecond)
	key := Key{Target: "t2", ChannelVirtualID: 1}

	c, err := reg.Attach(key, open, []string{"u1"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// Never drain c.Chunks(): with a queue size of 2 against a much
	// larger payload, the hub must disconnect rather than block on us.
	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-c.Chunks():
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("slow client was never disconnected")
		}
	}
	if !errors.Is(c.Err(), ErrClientTooSlow) {
		t.Fatalf("Err() = %v, want ErrClientTooSlow", c.Err())
	}
}
