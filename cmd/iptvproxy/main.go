// Command ivproxy is the IPTV reverse/redirect proxy: it ingests one or
// more upstream playlists, runs the playlist pipeline per configured
// target, and serves Xtream/M3U/STRM/HDHomeRun outputs plus the stream,
// HLS, and resource-cache edges those outputs point at.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ivgateway/ivproxy/internal/admin"
	"github.com/ivgateway/ivproxy/internal/config"
	"github.com/ivgateway/ivproxy/internal/health"
	"github.com/ivgateway/ivproxy/internal/hub"
	"github.com/ivgateway/ivproxy/internal/provider"
	"github.com/ivgateway/ivproxy/internal/ratelimit"
	"github.com/ivgateway/ivproxy/internal/registry"
	"github.com/ivgateway/ivproxy/internal/rescache"
	"github.com/ivgateway/ivproxy/internal/rewrite"
	"github.com/ivgateway/ivproxy/internal/session"
)

// app is the composition root: every long-lived dependency is built once
// in main and handed to the HTTP handlers and refresh loop by reference.
// No package-level globals escape it (spec.md's "no singletons escape the
// root"; hot-reload swaps target state by generation counter via
// targetState.store, never by mutation in place).
type app struct {
	global   *config.GlobalConfig
	apiProxy *config.APIProxyConfig
	signer   *rewrite.Signer
	registry *registry.Registry
	rescache *rescache.Cache
	hubs     *hub.Registry
	limiter  *ratelimit.Limiter
	grace    session.GraceConfig

	inputs           []*inputState
	providerClients  map[string]*provider.Client
	providerLimiters map[string]*session.ProviderLimiter

	targets     map[string]*targetState
	targetOrder []string

	runCounter  int64
	snapshotDir string
	startedAt   time.Time

	statusTracker *statusTracker
	hdhr          *hdhrController
}

func (a *app) snapshotPath(targetName string) string {
	if a.snapshotDir == "" {
		return ""
	}
	return filepath.Join(a.snapshotDir, targetName+".snapshot.json")
}

func main() {
	configDir := flag.String("config-dir", ".", "directory containing config.yml, source.yml, mapping.yml/mapping.d, api-proxy.yml")
	healthcheck := flag.Bool("healthcheck", false, "check the running process's admin endpoint and exit (for container HEALTHCHECK)")
	flag.Parse()

	if *healthcheck {
		runHealthcheck(*configDir)
		return
	}

	a, err := buildApp(*configDir)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.refreshOnce(ctx); err != nil {
		log.Printf("initial refresh: %v", err)
	}
	go a.refreshLoop(ctx)

	a.hdhr = a.buildHDHRController()
	if a.hdhr != nil {
		go a.hdhr.Run(ctx)
	}

	mainMux := a.routes()
	mainSrv := &http.Server{Addr: a.global.ListenAddr, Handler: a.limiter.Middleware(mainMux)}

	adminMux := admin.NewMux(a, a.buildVODScanner(), a.startedAt)
	adminSrv := &http.Server{Addr: a.global.AdminListenAddr, Handler: adminMux}

	go func() {
		log.Printf("listening on %s", a.global.ListenAddr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	go func() {
		log.Printf("admin listening on %s", a.global.AdminListenAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")

	cancel() // stop the refresh loop first: no new pipeline runs mid-shutdown

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = mainSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)

	// Registry locks (in-flight SQLite writes) drop before provider
	// handles are released, per spec.md §4.9's lock-ordering rule: the
	// HTTP servers above have already stopped accepting new sessions by
	// the time we reach here, so no handler holds a registry lock while
	// this runs.
	for _, c := range a.providerClients {
		c.HTTPClient.CloseIdleConnections()
	}
}

// buildApp loads every config file under dir and wires the composition
// root. Any error here is a ConfigInvalid startup failure — fail loudly,
// never start half-configured.
func buildApp(dir string) (*app, error) {
	global, err := config.LoadGlobalConfig(filepath.Join(dir, "config.yml"))
	if err != nil {
		return nil, err
	}
	sources, err := config.LoadSourceConfig(filepath.Join(dir, "source.yml"))
	if err != nil {
		return nil, err
	}

	mappingPath := filepath.Join(dir, "mapping.yml")
	if info, statErr := os.Stat(filepath.Join(dir, "mapping.d")); statErr == nil && info.IsDir() {
		mappingPath = filepath.Join(dir, "mapping.d")
	}
	targetConfigs, err := config.LoadTargets(mappingPath)
	if err != nil {
		return nil, err
	}

	apiProxy, err := config.LoadAPIProxyConfig(filepath.Join(dir, "api-proxy.yml"))
	if err != nil {
		return nil, err
	}

	secret, err := hex.DecodeString(global.RewriteSecret)
	if err != nil {
		return nil, fmt.Errorf("config: rewrite_secret must be hex: %w", err)
	}
	signer, err := rewrite.NewSigner(secret)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(global.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("config: create cache_dir: %w", err)
	}
	reg, err := registry.Open(global.RegistryPath)
	if err != nil {
		return nil, err
	}

	grace := session.GraceConfig{
		GracePeriodMillis:      global.GracePeriodMillis,
		GracePeriodTimeoutSecs: global.GracePeriodTimeoutSecs,
	}

	a := &app{
		global:           global,
		apiProxy:         apiProxy,
		signer:           signer,
		registry:         reg,
		rescache:         rescache.New(int64(global.ResourceCache.MaxBytes), global.ResourceCache.MaxCount),
		hubs:             hub.NewRegistry(global.SharedBurstBufferMB*1024*1024, 0, 0),
		limiter:          ratelimit.New(ratelimit.Config{BurstSize: global.RateLimit.BurstSize, PeriodMillis: global.RateLimit.PeriodMillis}, 0),
		grace:            grace,
		providerClients:  map[string]*provider.Client{},
		providerLimiters: map[string]*session.ProviderLimiter{},
		targets:          map[string]*targetState{},
		snapshotDir:      global.CacheDir,
		startedAt:        time.Now(),
		statusTracker:    newStatusTracker(),
	}

	for _, in := range sources.Inputs {
		client, err := buildProviderClient(in, apiProxy)
		if err != nil {
			return nil, err
		}
		a.providerClients[in.Name] = client
		a.providerLimiters[in.Name] = buildProviderLimiter(in, grace)
		a.inputs = append(a.inputs, buildInputState(in))
	}

	for _, tc := range targetConfigs {
		target, err := buildTarget(tc)
		if err != nil {
			return nil, err
		}
		a.targets[tc.Name] = &targetState{cfg: tc, target: target}
		a.targetOrder = append(a.targetOrder, tc.Name)
	}

	return a, nil
}

// runHealthcheck is the --healthcheck entrypoint: a lightweight process
// check suited to a container HEALTHCHECK directive. It GETs the admin
// status endpoint the same way internal/health.CheckProvider GETs a
// provider's M3U URL: request, drain, check status code.
func runHealthcheck(configDir string) {
	global, err := config.LoadGlobalConfig(filepath.Join(configDir, "config.yml"))
	if err != nil {
		log.Fatalf("healthcheck: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+global.AdminListenAddr+"/api/v1/status", nil)
	if err != nil {
		log.Fatalf("healthcheck: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("healthcheck: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("healthcheck: admin status returned HTTP %d", resp.StatusCode)
	}

	if global.HDHR.Enabled {
		baseURL := "http://" + global.ListenAddr
		if err := health.CheckEndpoints(ctx, baseURL, "/device.xml", "/lineup.json", "/lineup_status.json"); err != nil {
			log.Fatalf("healthcheck: hdhr: %v", err)
		}
	}

	fmt.Println("ok")
}
