// Package admin implements the internal admin JSON API (spec.md §6):
// process status, active session/hub/provider counters, and the optional
// VOD library scan endpoints. Grounded on the teacher's declared but
// never-imported github.com/prometheus/client_golang dependency.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is implemented by the composition root so internal/admin
// never imports internal/session, internal/hub, or internal/provider
// directly (those packages don't know about the admin API either,
// avoiding a cyclic dependency).
type StatusProvider interface {
	ActiveSessions() int
	ActiveHubs() int
	ProviderConnections() map[string]int // provider name -> in-use count
}

// ScanStatus reports the current state of a library scan.
type ScanStatus struct {
	Running    bool      `json:"running"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	ItemsFound int       `json:"items_found"`
}

// LibraryScanner is implemented by internal/vodfs's bridge between
// pipeline output and the FUSE mount.
type LibraryScanner interface {
	Scan(ctx context.Context) error
	Status() ScanStatus
}

type statusCollector struct {
	provider StatusProvider

	sessionsDesc   *prometheus.Desc
	hubsDesc       *prometheus.Desc
	providerConnDesc *prometheus.Desc
}

func newStatusCollector(p StatusProvider) *statusCollector {
	return &statusCollector{
		provider:         p,
		sessionsDesc:     prometheus.NewDesc("ivproxy_active_sessions", "Number of active client stream sessions.", nil, nil),
		hubsDesc:         prometheus.NewDesc("ivproxy_active_hubs", "Number of active shared-stream hubs.", nil, nil),
		providerConnDesc: prometheus.NewDesc("ivproxy_provider_connections_in_use", "In-use connections per provider.", []string{"provider"}, nil),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.hubsDesc
	ch <- c.providerConnDesc
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.GaugeValue, float64(c.provider.ActiveSessions()))
	ch <- prometheus.MustNewConstMetric(c.hubsDesc, prometheus.GaugeValue, float64(c.provider.ActiveHubs()))
	for name, n := range c.provider.ProviderConnections() {
		ch <- prometheus.MustNewConstMetric(c.providerConnDesc, prometheus.GaugeValue, float64(n), name)
	}
}

// statusResponse is GET /api/v1/status's JSON body.
type statusResponse struct {
	ActiveSessions       int            `json:"active_sessions"`
	ActiveHubs           int            `json:"active_hubs"`
	ProviderConnections  map[string]int `json:"provider_connections"`
	UptimeSeconds        float64        `json:"uptime_seconds"`
}

// NewMux builds the admin API handler, registering a private prometheus
// registry (not the global default, so admin metrics don't collide with
// anything the process embeds elsewhere) served at /metrics.
func NewMux(status StatusProvider, scanner LibraryScanner, startedAt time.Time) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newStatusCollector(status))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			ActiveSessions:      status.ActiveSessions(),
			ActiveHubs:          status.ActiveHubs(),
			ProviderConnections: status.ProviderConnections(),
			UptimeSeconds:       time.Since(startedAt).Seconds(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	if scanner != nil {
		scanState := &scanRunner{scanner: scanner}
		mux.HandleFunc("/api/v1/library/scan", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if !scanState.start(r.Context()) {
				http.Error(w, "scan already running", http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
		mux.HandleFunc("/api/v1/library/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(scanner.Status())
		})
	}

	return mux
}

// scanRunner prevents two concurrent scans and runs each one in its own
// goroutine so POST /api/v1/library/scan returns promptly (202 Accepted,
// poll /api/v1/library/status for completion).
type scanRunner struct {
	scanner LibraryScanner
	mu      sync.Mutex
	running bool
}

func (s *scanRunner) start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.scanner.Scan(context.Background())
	}()
	return true
}
