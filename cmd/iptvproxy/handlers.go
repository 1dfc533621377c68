package main

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ivgateway/ivproxy/internal/hlsrewrite"
	"github.com/ivgateway/ivproxy/internal/hub"
	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/output"
	"github.com/ivgateway/ivproxy/internal/ptverr"
	"github.com/ivgateway/ivproxy/internal/registry"
	"github.com/ivgateway/ivproxy/internal/rewrite"
	"github.com/ivgateway/ivproxy/internal/session"
)

// routes builds the public HTTP edge: Xtream/M3U/XMLTV endpoints
// (spec.md §5) plus the stream, HLS, and resource routes those outputs'
// signed URLs point back at.
func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/get.php", a.handleGetPHP)
	mux.HandleFunc("/player_api.php", a.handlePlayerAPI)
	mux.HandleFunc("/panel_api.php", a.handlePlayerAPI)
	mux.HandleFunc("/xmltv.php", a.handleXMLTV)
	mux.HandleFunc("/stream/", a.handleStream)
	mux.HandleFunc("/hls/", a.handleHLS)
	mux.HandleFunc("/resource/", a.handleResource)
	if a.hdhr != nil {
		a.hdhr.registerRoutes(mux)
	}
	return mux
}

// authenticate resolves the requesting user either by username/password
// or by the `token` query parameter (spec.md §5's "token form"), and
// returns the target that user resolves against.
func (a *app) authenticate(r *http.Request) (registry.User, *targetState, error) {
	q := r.URL.Query()
	var u registry.User
	var ok bool
	var err error

	if token := q.Get("token"); token != "" {
		u, ok, err = a.registry.GetUserByToken(token)
	} else {
		username, password := q.Get("username"), q.Get("password")
		if username == "" {
			return registry.User{}, nil, ptverr.New(ptverr.BadRequest, "missing username/password or token")
		}
		u, ok, err = a.registry.GetUser(username)
		if ok && u.Password != password {
			ok = false
		}
	}
	if err != nil {
		return registry.User{}, nil, ptverr.Wrap(ptverr.Internal, "lookup user", err)
	}
	if !ok {
		return registry.User{}, nil, ptverr.New(ptverr.UserUnknown, "unknown user")
	}
	if !u.Enabled {
		return registry.User{}, nil, ptverr.New(ptverr.UserUnknown, "user disabled")
	}
	if u.Expired(time.Now()) {
		return registry.User{}, nil, ptverr.New(ptverr.UserExpired, "user account expired")
	}
	ts, ok := a.targets[u.Target]
	if !ok {
		return registry.User{}, nil, ptverr.New(ptverr.ConfigInvalid, "user targets an unknown playlist")
	}
	return u, ts, nil
}

func writeAPIError(w http.ResponseWriter, err error) {
	switch ptverr.KindOf(err) {
	case ptverr.UserUnknown, ptverr.UserExpired, ptverr.TokenInvalid, ptverr.TokenExpired:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case ptverr.BadRequest:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case ptverr.NotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case ptverr.RateLimited:
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// userFingerprint derives a stable identifier for a username to embed in
// minted tokens (spec.md §4.1's user_fingerprint), the same way the
// identity registry derives virtual IDs deterministically rather than
// storing identifying strings verbatim in the token.
func userFingerprint(username string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(username))
	return h.Sum64()
}

func proxyModeFor(u registry.User, ts *targetState) string {
	if u.ProxyMode != "" {
		return u.ProxyMode
	}
	if ts.cfg.ProxyMode != "" {
		return ts.cfg.ProxyMode
	}
	return "reverse"
}

func outputOptionsFor(ts *targetState) output.Options {
	opts := output.DefaultOptions()
	opts.IncludeTypeInURL = ts.cfg.IncludeTypeInURL
	opts.MaskRedirectURL = ts.cfg.MaskRedirectURL
	return opts
}

// urlSignerFor builds the output.URLSigner used by every emitter for one
// authenticated request: mints a stream token carrying the item's cluster
// and virtual ID, scoped to the requesting user and target.
func (a *app) urlSignerFor(u registry.User, ts *targetState, host string) output.URLSigner {
	fp := userFingerprint(u.Username)
	mode := proxyModeFor(u, ts)
	return func(it model.Item) (string, error) {
		if mode == "redirect" && !ts.cfg.MaskRedirectURL {
			return it.URL, nil
		}
		token := a.signer.Mint(rewrite.Payload{
			Kind:            rewrite.KindStream,
			Target:          ts.cfg.Name,
			Cluster:         clusterFor(it.Type),
			VirtualID:       it.VirtualID,
			UserFingerprint: fp,
		})
		return "http://" + host + "/stream/" + token, nil
	}
}

func (a *app) handleGetPHP(w http.ResponseWriter, r *http.Request) {
	u, ts, err := a.authenticate(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	snap := ts.load()
	opts := outputOptionsFor(ts)
	w.Header().Set("Content-Type", "application/x-mpegurl")
	if r.URL.Query().Get("type") == "m3u_plus" {
		w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	}
	if err := output.WriteM3U(w, snap.items, opts, a.urlSignerFor(u, ts, r.Host)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *app) handlePlayerAPI(w http.ResponseWriter, r *http.Request) {
	u, ts, err := a.authenticate(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	snap := ts.load()
	opts := outputOptionsFor(ts)
	sign := a.urlSignerFor(u, ts, r.Host)

	action := r.URL.Query().Get("action")
	if action == "" {
		var expiresAt int64
		if !u.ExpiresAt.IsZero() {
			expiresAt = u.ExpiresAt.Unix()
		}
		host, port := r.Host, ""
		if h, p, splitErr := splitHostPort(r.Host); splitErr == nil {
			host, port = h, p
		}
		resp := output.BuildAuthResponse(u.Username, !u.Expired(time.Now()), expiresAt, u.MaxConnections, a.providerConnectionsForUser(u), host, port)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	if err := output.WriteXtreamAction(w, action, snap.items, opts, sign); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func splitHostPort(hostport string) (string, string, error) {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:], nil
		}
	}
	return hostport, "", errNoPort
}

var errNoPort = ptverr.New(ptverr.Internal, "no port in host")

// providerConnectionsForUser is a best-effort active-connection count for
// the Xtream auth response; per-user connection accounting lives in the
// session admission path rather than a persisted counter, so this reports
// zero until a richer per-user tracker is wired.
func (a *app) providerConnectionsForUser(u registry.User) int {
	return 0
}

// handleXMLTV emits a minimal XMLTV document: one <channel> per live item
// with an EPG channel ID. No EPG aggregation module exists in this build
// (dropped per DESIGN.md), so no <programme> elements are produced; guide
// data is left to whatever EPG source the client already trusts.
func (a *app) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	_, ts, err := a.authenticate(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	snap := ts.load()

	type xmltvChannel struct {
		ID          string `xml:"id,attr"`
		DisplayName string `xml:"display-name"`
	}
	type xmltvDoc struct {
		XMLName  xml.Name       `xml:"tv"`
		Channels []xmltvChannel `xml:"channel"`
	}
	var doc xmltvDoc
	seen := map[string]bool{}
	for _, it := range snap.items {
		if it.Type != model.TypeLive || it.EPGChannelID == "" || seen[it.EPGChannelID] {
			continue
		}
		seen[it.EPGChannelID] = true
		doc.Channels = append(doc.Channels, xmltvChannel{ID: it.EPGChannelID, DisplayName: it.Caption()})
	}

	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, xml.Header)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	_ = enc.Encode(doc)
}

// sessionHandle is a distinct pointer identity per in-flight stream used
// only as a map key in statusTracker; it carries no state of its own.
type sessionHandle struct{}

// handleStream is the C1/C8/C9 edge: it verifies a signed stream token,
// resolves it to a playlist item within the token's target, then either
// redirects the client to the upstream URL or reverse-proxies/hub-attaches
// depending on the target's proxy_mode and the item's share_live_streams
// setting.
func (a *app) handleStream(w http.ResponseWriter, r *http.Request) {
	token := tokenFromPath(r.URL.Path, "/stream/")
	payload, err := a.signer.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	ts, ok := a.targets[payload.Target]
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}
	snap := ts.load()
	item, ok := snap.byID[payload.VirtualID]
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	if ts.cfg.ProxyMode == "redirect" && !ts.cfg.MaskRedirectURL {
		http.Redirect(w, r, item.URL, http.StatusFound)
		return
	}

	limiter := a.providerLimiters[item.Input]
	sess, err := session.Admit(session.AdmissionRequest{TokenValid: true, Provider: limiter})
	if err != nil {
		a.serveFallback(w, err)
		return
	}
	handle := &sessionHandle{}
	a.statusTracker.track(handle)
	defer a.statusTracker.untrack(handle)
	defer sess.Close()

	if ts.cfg.ShareLiveStreams && item.Type == model.TypeLive {
		a.serveViaHub(w, r, ts.cfg.Name, item)
		return
	}
	a.serveDirect(w, r, item)
}

func (a *app) serveDirect(w http.ResponseWriter, r *http.Request, item model.Item) {
	client := a.providerClients[item.Input]
	if client == nil {
		http.Error(w, "unknown provider", http.StatusBadGateway)
		return
	}
	resp, err := client.Get(r.Context(), item.URL)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// serveViaHub attaches this request to the channel's shared-stream hub,
// opening the upstream once per channel regardless of client count
// (spec.md §4.9). Chunks are copied to the response as they arrive; the
// hub itself owns reconnects.
func (a *app) serveViaHub(w http.ResponseWriter, r *http.Request, target string, item model.Item) {
	client := a.providerClients[item.Input]
	if client == nil {
		http.Error(w, "unknown provider", http.StatusBadGateway)
		return
	}
	open := func(ctx context.Context, url string) (io.ReadCloser, error) {
		resp, err := client.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
	key := hub.Key{Target: target, ChannelVirtualID: item.VirtualID}
	c, err := a.hubs.Attach(key, open, nil)
	if err != nil {
		http.Error(w, "hub attach failed", http.StatusBadGateway)
		return
	}
	defer a.hubs.Detach(key, c)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case chunk, ok := <-c.Chunks():
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (a *app) serveFallback(w http.ResponseWriter, err error) {
	ae, ok := err.(*session.AdmissionError)
	if !ok {
		http.Error(w, "admission failed", http.StatusServiceUnavailable)
		return
	}
	if ae.Asset != "" {
		http.Error(w, string(ae.Asset), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, ae.Message, http.StatusForbidden)
}

// hlsSignerFor builds the per-segment URL signer a rewritten HLS manifest
// uses, scoped to the same target/user/cluster as the manifest's own token.
func (a *app) hlsSignerFor(ts *targetState, payload rewrite.Payload) hlsrewrite.URLSigner {
	return hlsrewrite.SignerFor(a.signer, rewrite.KindStream, ts.cfg.Name, payload.Cluster, payload.VirtualID, payload.UserFingerprint, payload.ExpiresAt)
}

func (a *app) handleHLS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromPath(r.URL.Path, "/hls/")
	payload, err := a.signer.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	ts, ok := a.targets[payload.Target]
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}
	snap := ts.load()
	item, ok := snap.byID[payload.VirtualID]
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}
	client := a.providerClients[item.Input]
	if client == nil {
		http.Error(w, "unknown provider", http.StatusBadGateway)
		return
	}
	resp, err := client.Get(r.Context(), item.URL)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read error", http.StatusBadGateway)
		return
	}
	rewritten, err := hlsrewrite.Rewrite(string(body), item.URL, a.hlsSignerFor(ts, payload))
	if err != nil {
		http.Error(w, "rewrite error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	io.WriteString(w, rewritten)
}

func (a *app) handleResource(w http.ResponseWriter, r *http.Request) {
	token := tokenFromPath(r.URL.Path, "/resource/")
	payload, err := a.signer.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	ts, ok := a.targets[payload.Target]
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}
	snap := ts.load()
	item, ok := snap.byID[payload.VirtualID]
	if !ok || item.Logo == "" {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return
	}
	entry, err := a.rescache.Fetch(r.Context(), strconv.FormatUint(payload.VirtualID, 10)+"/"+ts.cfg.Name, item.Logo)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		w.Header().Set("ETag", entry.ETag)
	}
	_, _ = w.Write(entry.Body)
}

func tokenFromPath(path, prefix string) string {
	if len(path) <= len(prefix) {
		return ""
	}
	return path[len(prefix):]
}
