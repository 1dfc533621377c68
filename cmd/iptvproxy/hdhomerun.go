package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ivgateway/ivproxy/internal/hdhomerun"
	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/output"
)

// hdhrController owns the HDHomeRun network-tuner emulation (spec.md
// §4.11) for one configured target: SSDP/UPnP and proprietary UDP
// discovery, the TCP control channel, and the HTTP device.xml/
// lineup.json endpoints a client like Plex's DVR setup polls.
type hdhrController struct {
	app      *app
	target   string
	device   *hdhomerun.Device
	deviceID uint32
	udn      string
	baseURL  string
}

// buildHDHRController returns nil (no emulation) when config.yml's hdhr
// block is absent or disabled, matching buildVODScanner's "unconfigured
// means untouched" posture.
func (a *app) buildHDHRController() *hdhrController {
	cfg := a.global.HDHR
	if !cfg.Enabled || cfg.Target == "" {
		return nil
	}
	deviceID := hdhomerun.NormalizeDeviceID(cfg.DeviceID)
	device := hdhomerun.CreateDefaultDevice(deviceID, cfg.TunerCount, cfg.BaseURL)
	if cfg.FriendlyName != "" {
		device.FriendlyName = cfg.FriendlyName
	}
	return &hdhrController{
		app:      a,
		target:   cfg.Target,
		device:   device,
		deviceID: deviceID,
		udn:      hdhomerun.DeviceUDN(deviceID),
		baseURL:  cfg.BaseURL,
	}
}

// Run starts the discovery, control, and SSDP servers and blocks until
// ctx is cancelled. Call in its own goroutine.
func (c *hdhrController) Run(ctx context.Context) {
	cfg := c.app.global.HDHR
	srv, err := hdhomerun.NewServer(&hdhomerun.Config{
		Enabled:      true,
		DeviceID:     c.deviceID,
		TunerCount:   cfg.TunerCount,
		DiscoverPort: cfg.DiscoverPort,
		ControlPort:  cfg.ControlPort,
		BaseURL:      cfg.BaseURL,
		FriendlyName: c.device.FriendlyName,
	}, c.streamFunc())
	if err != nil {
		return
	}
	hdhomerun.StartSSDP(ctx, c.device, c.udn, c.baseURL)
	_ = srv.Run(ctx)
}

// streamFunc resolves an HDHomeRun channel identifier (a bare channel
// number, or "auto:program=<n>" the way tuner clients set /tunerN/channel)
// to the matching live item's provider stream.
func (c *hdhrController) streamFunc() hdhomerun.StreamFunc {
	return func(ctx context.Context, channelID string) (io.ReadCloser, error) {
		ts, ok := c.app.targets[c.target]
		if !ok {
			return nil, fmt.Errorf("hdhr: target %q is not configured", c.target)
		}
		chno := parseHDHRChannelID(channelID)
		for _, it := range ts.load().items {
			if it.Type != model.TypeLive || strconv.Itoa(it.Chno) != chno {
				continue
			}
			client := c.app.providerClients[it.Input]
			if client == nil {
				return nil, fmt.Errorf("hdhr: channel %s: unknown provider %q", chno, it.Input)
			}
			resp, err := client.Get(ctx, it.URL)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		}
		return nil, fmt.Errorf("hdhr: no channel %s on target %q", chno, c.target)
	}
}

// parseHDHRChannelID strips a client's "auto:program=<n>" wrapper down to
// the bare channel number; channelID is already bare in the common case
// of a direct numeric tune.
func parseHDHRChannelID(channelID string) string {
	if i := strings.Index(channelID, "program="); i >= 0 {
		return channelID[i+len("program="):]
	}
	return channelID
}

// registerRoutes adds the HTTP half of the emulation (device.xml,
// lineup.json, lineup_status.json, and the raw stream the lineup's URLs
// point at) to mux. These are deliberately unauthenticated, matching a
// real HDHomeRun tuner: it trusts its local network the way spec.md's
// token/username auth doesn't need to apply to a LAN-only tuner protocol.
func (c *hdhrController) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/device.xml", c.handleDeviceXML)
	mux.HandleFunc("/lineup.json", c.handleLineup)
	mux.HandleFunc("/lineup_status.json", c.handleLineupStatus)
	mux.HandleFunc("/hdhr/", c.handleHDHRStream)
}

func (c *hdhrController) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, output.DeviceXML(c.device.FriendlyName, c.deviceID, c.udn, c.baseURL))
}

func (c *hdhrController) handleLineup(w http.ResponseWriter, r *http.Request) {
	ts, ok := c.app.targets[c.target]
	if !ok {
		http.Error(w, "target not configured", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	sign := func(it model.Item) (string, error) {
		return c.baseURL + "/hdhr/" + strconv.Itoa(it.Chno), nil
	}
	if err := output.WriteLineup(w, ts.load().items, sign); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (c *hdhrController) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ScanInProgress int      `json:"ScanInProgress"`
		ScanPossible   int      `json:"ScanPossible"`
		Source         string   `json:"Source"`
		SourceList     []string `json:"SourceList"`
	}{ScanPossible: 1, Source: "Cable", SourceList: []string{"Cable"}})
}

// handleHDHRStream is what lineup.json's URLs point at: the raw upstream
// bytes for one channel number, with no token/signing since this path is
// only reachable by a client that already resolved it from our own
// unauthenticated lineup.json.
func (c *hdhrController) handleHDHRStream(w http.ResponseWriter, r *http.Request) {
	chno := strings.TrimPrefix(r.URL.Path, "/hdhr/")
	stream, err := c.streamFunc()(r.Context(), chno)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer stream.Close()
	w.Header().Set("Content-Type", "video/mp2t")
	_, _ = io.Copy(w, stream)
}
