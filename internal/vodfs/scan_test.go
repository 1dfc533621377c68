//go:build linux
// +build linux

package vodfs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ivgateway/ivproxy/internal/model"
)

func TestScanPropagatesRescanError(t *testing.T) {
	wantErr := errors.New("pipeline boom")
	s := &Scanner{Rescan: func(ctx context.Context) ([]model.Item, error) {
		return nil, wantErr
	}}

	if err := s.Scan(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Scan() error = %v, want %v", err, wantErr)
	}
	st := s.Status()
	if st.Running {
		t.Fatalf("Status().Running = true after Scan returned")
	}
	if st.LastError != wantErr.Error() {
		t.Fatalf("Status().LastError = %q, want %q", st.LastError, wantErr.Error())
	}
}

func TestScanRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := &Scanner{Rescan: func(ctx context.Context) ([]model.Item, error) {
		close(started)
		<-release
		return nil, errors.New("boom")
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Scan(context.Background())
	}()

	<-started
	if err := s.Scan(context.Background()); err == nil {
		t.Fatalf("expected concurrent Scan to be rejected")
	}
	close(release)
	wg.Wait()
}
