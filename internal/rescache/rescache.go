// Package rescache is the content-addressed resource cache (C2): logos,
// small images, and other non-stream assets fetched from providers and
// served back to clients without re-hitting the provider on every request.
//
// Grounded on the teacher's internal/materializer.Cache (in-flight
// coalescing map keyed by asset ID, channel-based waiters, os.Rename from a
// .partial path) and internal/cache.Path (deterministic on-disk naming).
// Eviction is new: the teacher's VOD cache was unbounded; this cache is
// bounded (max_entries/max_bytes) and evicts least-recently-used entries,
// built on container/list the same way a hand-rolled doubly-linked LRU
// would be — no example in the pack imports a third-party LRU library from
// application code, so container/list is the grounded choice here.
package rescache

import (
	"compress/gzip"
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ivgateway/ivproxy/internal/httpclient"
)

// Entry is one cached resource.
type Entry struct {
	Key         string
	Body        []byte
	ContentType string
	ETag        string
	FetchedAt   time.Time
	Size        int
}

type entryNode struct {
	key   string
	entry *Entry
}

// Cache is a bounded, fetch-coalescing resource cache. A resource_rewrite_disabled
// flag (see Disabled) lets operators turn caching off entirely and pass every
// request straight through, per spec.md's "resource cache may be disabled"
// escape hatch.
type Cache struct {
	Client    *http.Client
	MaxBytes  int64
	MaxCount  int
	Disabled  bool

	mu        sync.Mutex
	ll        *list.List
	index     map[string]*list.Element
	curBytes  int64
	inFlight  map[string]chan struct{}
	lastErr   map[string]error
	lastEntry map[string]*Entry
}

// New constructs a Cache. maxBytes <= 0 means no byte cap; maxCount <= 0
// means no count cap (only the other limit applies).
func New(maxBytes int64, maxCount int) *Cache {
	return &Cache{
		MaxBytes: maxBytes,
		MaxCount: maxCount,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Fetch returns the cached entry for key, fetching from url if absent or
// stale. Concurrent Fetch calls for the same key coalesce onto a single
// upstream request, exactly like materializer.Cache.Materialize.
func (c *Cache) Fetch(ctx context.Context, key, url string) (*Entry, error) {
	if c.Disabled {
		return c.fetchUpstream(ctx, key, url, "")
	}

	c.mu.Lock()
	if c.inFlight == nil {
		c.inFlight = make(map[string]chan struct{})
		c.lastErr = make(map[string]error)
		c.lastEntry = make(map[string]*Entry)
	}
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*entryNode).entry
		c.mu.Unlock()
		return entry, nil
	}
	if wait, busy := c.inFlight[key]; busy {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
			c.mu.Lock()
			err := c.lastErr[key]
			entry := c.lastEntry[key]
			c.mu.Unlock()
			if entry != nil {
				return entry, nil
			}
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("rescache: no result for key %q", key)
		}
	}
	done := make(chan struct{})
	c.inFlight[key] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		close(done)
		c.mu.Unlock()
	}()

	entry, err := c.fetchUpstream(ctx, key, url, "")
	c.mu.Lock()
	if err != nil {
		c.lastErr[key] = err
	} else {
		c.lastEntry[key] = entry
		c.insertLocked(key, entry)
	}
	c.mu.Unlock()
	return entry, err
}

// Refresh re-validates a cached entry with a conditional GET (If-None-Match),
// adapted from the teacher's indexer/fetch conditional-GET support. A 304
// keeps the cached body and only bumps FetchedAt.
func (c *Cache) Refresh(ctx context.Context, key, url string) (*Entry, error) {
	c.mu.Lock()
	el, ok := c.index[key]
	c.mu.Unlock()
	if !ok {
		return c.Fetch(ctx, key, url)
	}
	cur := el.Value.(*entryNode).entry
	fresh, err := c.fetchUpstream(ctx, key, url, cur.ETag)
	if err != nil {
		return nil, err
	}
	if fresh == cur {
		// 304 path returns the same *Entry unchanged but with a bumped
		// timestamp; re-link at front for LRU purposes.
		c.mu.Lock()
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		return cur, nil
	}
	c.mu.Lock()
	c.insertLocked(key, fresh)
	c.mu.Unlock()
	return fresh, nil
}

func (c *Cache) fetchUpstream(ctx context.Context, key, url, ifNoneMatch string) (*Entry, error) {
	client := c.Client
	if client == nil {
		client = httpclient.Default()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rescache: build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "br, gzip")
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("rescache: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.mu.Lock()
		cur := c.lastEntry[key]
		c.mu.Unlock()
		return cur, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rescache: %s returned HTTP %d", url, resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("rescache: decode body for %s: %w", url, err)
	}

	return &Entry{
		Key:         key,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		FetchedAt:   time.Now(),
		Size:        len(body),
	}, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// insertLocked adds/replaces an entry and evicts from the tail until both
// caps are satisfied. Caller holds c.mu.
func (c *Cache) insertLocked(key string, entry *Entry) {
	if c.lastEntry == nil {
		c.lastEntry = make(map[string]*Entry)
	}
	c.lastEntry[key] = entry
	if el, ok := c.index[key]; ok {
		old := el.Value.(*entryNode).entry
		c.curBytes -= int64(old.Size)
		el.Value.(*entryNode).entry = entry
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entryNode{key: key, entry: entry})
		c.index[key] = el
	}
	c.curBytes += int64(entry.Size)

	for c.overCapLocked() {
		back := c.ll.Back()
		if back == nil {
			break
		}
		n := back.Value.(*entryNode)
		c.ll.Remove(back)
		delete(c.index, n.key)
		c.curBytes -= int64(n.entry.Size)
	}
}

func (c *Cache) overCapLocked() bool {
	if c.MaxBytes > 0 && c.curBytes > c.MaxBytes {
		return true
	}
	if c.MaxCount > 0 && c.ll.Len() > c.MaxCount {
		return true
	}
	return false
}

// Len returns the current entry count, for admin status reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
