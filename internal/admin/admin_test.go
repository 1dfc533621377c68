package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeStatus struct{}

func (fakeStatus) ActiveSessions() int              { return 3 }
func (fakeStatus) ActiveHubs() int                  { return 1 }
func (fakeStatus) ProviderConnections() map[string]int { return map[string]int{"main": 2} }

type fakeScanner struct {
	scanned bool
	status  ScanStatus
}

func (f *fakeScanner) Scan(ctx context.Context) error {
	f.scanned = true
	f.status = ScanStatus{Running: false, ItemsFound: 42}
	return nil
}

func (f *fakeScanner) Status() ScanStatus { return f.status }

func TestStatusHandlerReportsCounters(t *testing.T) {
	mux := NewMux(fakeStatus{}, nil, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ActiveSessions != 3 || got.ActiveHubs != 1 || got.ProviderConnections["main"] != 2 {
		t.Fatalf("unexpected status response: %+v", got)
	}
}

func TestLibraryScanAcceptsThenReportsStatus(t *testing.T) {
	scanner := &fakeScanner{}
	mux := NewMux(fakeStatus{}, scanner, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/library/scan", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("scan status = %d, want 202", rec.Code)
	}

	deadline := time.After(time.Second)
	for !scanner.scanned {
		select {
		case <-deadline:
			t.Fatal("scan goroutine never ran")
		case <-time.After(time.Millisecond):
		}
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/library/status", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	var status ScanStatus
	if err := json.NewDecoder(rec2.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.ItemsFound != 42 {
		t.Fatalf("ItemsFound = %d, want 42", status.ItemsFound)
	}
}

func TestLibraryScanRejectsConcurrentRuns(t *testing.T) {
	scanner := &fakeScanner{}
	mux := NewMux(fakeStatus{}, scanner, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/library/scan", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET scan status = %d, want 405", rec.Code)
	}
}
