// Package hub implements the shared-stream hub (C9): for channels with
// share_live_streams=true, exactly one upstream socket is kept open
// regardless of client count, fanned out through a burst buffer so
// newly attached clients can replay recent bytes before switching to
// live, and per-client bounded queues so a slow client cannot slow the
// hub (spec.md §4.9).
//
// Grounded on the teacher's bounded-channel, lock-scoped-narrowly style
// (materializer.Cache's in-flight request coalescing keyed by URL, and
// tuner/gateway.go's buffered writer) generalized from 1:1 tuner slots
// to N:1 fan-out.
package hub

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ivgateway/ivproxy/internal/session"
)

// DefaultBurstBufferBytes is the shared-stream hub's default ring size
// (spec.md §4.9: "default 12 MiB, configurable via shared_burst_buffer_mb").
const DefaultBurstBufferBytes = 12 * 1024 * 1024

// DefaultClientQueueChunks bounds per-client memory (spec.md §8: finite
// memory for slow clients; they are disconnected rather than allowed to
// grow the queue without bound).
const DefaultClientQueueChunks = 256

// DefaultLinger is how long a hub with zero attached clients stays alive
// before its upstream is closed, in case a new client attaches quickly.
const DefaultLinger = 10 * time.Second

// Key identifies one hub: a target-playlist name and the virtual channel
// ID clients request within it.
type Key struct {
	Target           string
	ChannelVirtualID uint64
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Target, k.ChannelVirtualID) }

// clientID is unique within a hub's lifetime.
type clientID uint64

// Client is a fan-out target attached to a hub. Callers read chunks off
// Chunks until it's closed, then check Err for why.
type Client struct {
	id     clientID
	hub    *Hub
	queue  chan []byte
	closed chan struct{}
	err    error
}

// Chunks returns the channel clients should range over to receive bytes.
// It's closed when the client is detached or disconnected for being slow.
func (c *Client) Chunks() <-chan []byte { return c.queue }

// Err reports why Chunks closed, if it was due to the client being too
// slow rather than a normal Detach.
func (c *Client) Err() error { return c.err }

// burstBuffer is a ring of retained chunks bounded by total byte size,
// replayed in order to newly attached clients. Grounded on the
// container/list LRU technique already used by internal/rescache,
// applied here as a size-bounded FIFO instead of a recency index.
type burstBuffer struct {
	mu       sync.Mutex
	order    *list.List // of []byte, oldest at front
	curBytes int
	maxBytes int
}

func newBurstBuffer(maxBytes int) *burstBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultBurstBufferBytes
	}
	return &burstBuffer{order: list.New(), maxBytes: maxBytes}
}

func (b *burstBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	b.order.PushBack(cp)
	b.curBytes += len(cp)
	for b.curBytes > b.maxBytes && b.order.Len() > 0 {
		front := b.order.Front()
		b.curBytes -= len(front.Value.([]byte))
		b.order.Remove(front)
	}
}

// snapshot returns the currently retained chunks oldest-first, for replay
// to a newly attached client.
func (b *burstBuffer) snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, b.order.Len())
	for e := b.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.([]byte))
	}
	return out
}

// Hub owns one upstream connection for one (target, channel) pair and
// fans its bytes out to every attached Client.
type Hub struct {
	key       Key
	open      session.Opener
	reconnect session.ReconnectPolicy
	queueSize int

	mu       sync.Mutex
	burst    *burstBuffer
	clients  map[clientID]*Client
	nextID   clientID
	cancel   context.CancelFunc
	running  bool
	lingerAt *time.Timer
}

// Registry tracks live hubs keyed by (target, channel). Lookup, attach,
// and detach are its only mutating operations; the registry lock is
// always released before the hub's upstream handle is touched, matching
// spec.md §4.9's "drop registry locks before releasing provider handles
// to prevent cross-lock stalls".
type Registry struct {
	mu   sync.Mutex
	hubs map[Key]*Hub

	burstBytes      int
	clientQueueSize int
	linger          time.Duration
}

// NewRegistry builds a hub registry. burstBytes and clientQueueSize of 0
// take the package defaults.
func NewRegistry(burstBytes, clientQueueSize int, linger time.Duration) *Registry {
	if clientQueueSize <= 0 {
		clientQueueSize = DefaultClientQueueChunks
	}
	if linger <= 0 {
		linger = DefaultLinger
	}
	return &Registry{
		hubs:            make(map[Key]*Hub),
		burstBytes:      burstBytes,
		clientQueueSize: clientQueueSize,
		linger:          linger,
	}
}

// Attach registers a new client against the hub for key, starting the
// hub (and its upstream) on first attach. open/aliases describe how to
// reach the upstream and which provider aliases to try on reconnect.
func (r *Registry) Attach(key Key, open session.Opener, aliases []string) (*Client, error) {
	r.mu.Lock()
	h, ok := r.hubs[key]
	if !ok {
		h = &Hub{
			key:       key,
			open:      open,
			reconnect: session.ReconnectPolicy{Aliases: aliases},
			queueSize: r.clientQueueSize,
			burst:     newBurstBuffer(r.burstBytes),
			clients:   make(map[clientID]*Client),
		}
		r.hubs[key] = h
	}
	r.mu.Unlock()

	return h.attach(r)
}

// Detach removes a client from its hub. If it was the last client, a
// linger timer starts; on expiry the hub's upstream is closed and it is
// removed from the registry.
func (r *Registry) Detach(key Key, c *Client) {
	r.mu.Lock()
	h, ok := r.hubs[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.detach(c, r)
}

// Len reports the number of hubs currently active, for the admin status
// endpoint's active_hubs counter.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

func (h *Hub) attach(r *Registry) (*Client, error) {
	h.mu.Lock()
	if h.lingerAt != nil {
		h.lingerAt.Stop()
		h.lingerAt = nil
	}
	h.nextID++
	c := &Client{
		id:     h.nextID,
		hub:    h,
		queue:  make(chan []byte, h.queueSize),
		closed: make(chan struct{}),
	}
	for _, chunk := range h.burst.snapshot() {
		select {
		case c.queue <- chunk:
		default:
			// Even the replay backlog doesn't fit: treat as a slow
			// client immediately rather than blocking attach.
		}
	}
	h.clients[c.id] = c
	needStart := !h.running
	if needStart {
		h.running = true
	}
	h.mu.Unlock()

	if needStart {
		ctx, cancel := context.WithCancel(context.Background())
		h.mu.Lock()
		h.cancel = cancel
		h.mu.Unlock()
		go h.run(ctx)
	}
	return c, nil
}

func (h *Hub) detach(c *Client, r *Registry) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.queue)
	}
	empty := len(h.clients) == 0
	var timer *time.Timer
	if empty && h.running {
		timer = time.AfterFunc(r.linger, func() { h.expireIfEmpty(r) })
		h.lingerAt = timer
	}
	h.mu.Unlock()
}

func (h *Hub) expireIfEmpty(r *Registry) {
	h.mu.Lock()
	if len(h.clients) != 0 {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	r.mu.Lock()
	delete(r.hubs, h.key)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// run owns the upstream connection for the hub's lifetime: it opens the
// stream, pumps chunks into the burst buffer and every attached client's
// queue, and reconnects on drop without emitting bytes during the gap.
func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rc, _, err := h.reconnect.Reconnect(ctx, h.open)
		if err != nil {
			return
		}

		buf := make([]byte, session.ChunkSize)
		for {
			n, rerr := rc.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				h.burst.append(chunk)
				h.broadcast(chunk)
			}
			if rerr != nil {
				break
			}
			select {
			case <-ctx.Done():
				rc.Close()
				return
			default:
			}
		}
		rc.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		// loop back into Reconnect; no bytes are emitted until a new
		// upstream is established.
	}
}

// broadcast fans one chunk out to every attached client's bounded queue.
// A client whose queue is full is disconnected immediately; the hub
// never blocks on a slow client (spec.md §8).
func (h *Hub) broadcast(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.queue <- cp:
		default:
			c.err = ErrClientTooSlow
			delete(h.clients, id)
			close(c.queue)
		}
	}
}

// ErrClientTooSlow marks a client detached because its bounded queue
// filled up.
var ErrClientTooSlow = fmt.Errorf("hub: client queue full, disconnected")
