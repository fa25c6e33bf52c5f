// Package querycache holds remote read results under hierarchical keys.
//
// Concurrent reads of one key share a single fetch. Invalidating a prefix
// drops matching entries and orphans in-flight fetches for them, so a fetch
// that started before the invalidation never repopulates the cache. Entries
// approaching their TTL are refetched in the background while the old value
// is still served. Reset discards everything when the connection context
// changes.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/retry"
	"github.com/louisbranch/ledgerlink/internal/platform/telemetry/metrics"
	"github.com/louisbranch/ledgerlink/internal/platform/timeouts"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies when a read passes no TTL.
const DefaultTTL = 30 * time.Second

// Fetcher loads the value of one key.
type Fetcher func(ctx context.Context) (any, error)

// Options configures a Cache.
type Options struct {
	TTL time.Duration
	// RefreshAhead is the fraction of the TTL after which a hit also starts
	// a background refetch. Zero disables it.
	RefreshAhead float64
	// Retry applies to fetches that fail with a retryable error.
	Retry        retry.Policy
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

type entry struct {
	key        Key
	value      any
	fetchedAt  time.Time
	ttl        time.Duration
	refreshing bool
}

// flight identifies one outstanding fetch. Only the flight currently
// registered for its key may store a result. waiters counts the reads that
// joined it.
type flight struct {
	key     Key
	epoch   uint64
	waiters int
}

// Cache is safe for concurrent use.
type Cache struct {
	opts Options

	mu      sync.Mutex
	gen     uint64
	epoch   uint64
	entries map[string]*entry
	pending map[string]*flight
	group   *singleflight.Group
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshAhead < 0 || opts.RefreshAhead >= 1 {
		opts.RefreshAhead = 0
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = timeouts.CacheFetch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		opts:    opts,
		entries: map[string]*entry{},
		pending: map[string]*flight{},
		group:   &singleflight.Group{},
	}
}

// Generation returns the connection generation the cache was last reset to.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Read returns the cached value of key when it is younger than ttl and
// otherwise fetches it. Concurrent reads of a key share one fetch. A ttl of
// zero uses the cache default.
func (c *Cache) Read(ctx context.Context, key Key, ttl time.Duration, fetch Fetcher) (any, error) {
	if ttl <= 0 {
		ttl = c.opts.TTL
	}
	id := key.id()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		age := c.opts.Now().Sub(e.fetchedAt)
		if age < e.ttl {
			if c.dueForRefresh(e, age) {
				e.refreshing = true
				c.refresh(ctx, key, id, ttl, fetch)
			}
			c.mu.Unlock()
			c.opts.Metrics.CacheEvent(metrics.CacheHit)
			return e.value, nil
		}
	}
	outcome := metrics.CacheMiss
	if _, ok := c.pending[id]; ok {
		outcome = metrics.CacheShared
	}
	ch := c.startLocked(ctx, key, id, ttl, fetch, c.opts.FetchTimeout)
	c.mu.Unlock()
	c.opts.Metrics.CacheEvent(outcome)

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.CodeNetwork, "read of "+key.String()+" interrupted", ctx.Err())
	}
}

func (c *Cache) dueForRefresh(e *entry, age time.Duration) bool {
	if c.opts.RefreshAhead == 0 || e.refreshing {
		return false
	}
	return age >= time.Duration(float64(e.ttl)*c.opts.RefreshAhead)
}

// startLocked joins the outstanding fetch for id or starts one. c.mu must be
// held. The fetch runs detached from ctx's cancellation so one impatient
// reader does not fail the others.
func (c *Cache) startLocked(ctx context.Context, key Key, id string, ttl time.Duration, fetch Fetcher, timeout time.Duration) <-chan singleflight.Result {
	f, ok := c.pending[id]
	if !ok {
		f = &flight{key: key, epoch: c.epoch}
		c.pending[id] = f
	}
	f.waiters++
	group := c.group
	return group.DoChan(id, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		v, err := retry.Do[any](fctx, c.opts.Retry, fetch, func(attempt int, err error, wait time.Duration) {
			c.opts.Logger.Debug("retrying cache fetch", "key", key.String(), "attempt", attempt, "wait", wait, "error", err)
		})
		c.complete(key, id, f, ttl, v, err)
		return v, err
	})
}

func (c *Cache) complete(key Key, id string, f *flight, ttl time.Duration, v any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.pending[id]
	if !ok || current != f || f.epoch != c.epoch {
		if err == nil {
			c.opts.Metrics.CacheEvent(metrics.CacheDiscarded)
			c.opts.Logger.Debug("discarding superseded fetch", "key", key.String(), "waiters", f.waiters)
		}
		return
	}
	delete(c.pending, id)
	if err != nil {
		if e, ok := c.entries[id]; ok {
			e.refreshing = false
		}
		return
	}
	c.entries[id] = &entry{key: key, value: v, fetchedAt: c.opts.Now(), ttl: ttl}
}

// refresh starts a background refetch of a still-fresh entry. c.mu must be
// held.
func (c *Cache) refresh(ctx context.Context, key Key, id string, ttl time.Duration, fetch Fetcher) {
	if _, ok := c.pending[id]; ok {
		return
	}
	ch := c.startLocked(ctx, key, id, ttl, fetch, min(timeouts.BackgroundRefresh, c.opts.FetchTimeout))
	c.opts.Metrics.CacheEvent(metrics.CacheRefresh)
	go func() {
		if res := <-ch; res.Err != nil {
			c.opts.Logger.Warn("background refresh failed", "key", key.String(), "error", res.Err)
		}
	}()
}

// Invalidate removes every entry under prefix and orphans fetches in flight
// for those keys. It returns the number of entries removed.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, id)
			removed++
		}
	}
	c.dropPendingLocked(func(f *flight) bool { return f.key.HasPrefix(prefix) })
	c.opts.Metrics.CacheEvent(metrics.CacheInvalidate)
	c.opts.Logger.Debug("cache invalidated", "prefix", prefix.String(), "removed", removed)
	return removed
}

func (c *Cache) dropPendingLocked(match func(*flight) bool) {
	for id, f := range c.pending {
		if match(f) {
			delete(c.pending, id)
			c.group.Forget(id)
		}
	}
}

// Snapshot is the state of one key before an optimistic write.
type Snapshot struct {
	Key   Key
	gen   uint64
	prior *entry
}

// Existed reports whether the key held a value before the write.
func (s Snapshot) Existed() bool {
	return s.prior != nil
}

// Write stores value under key as if it had just been fetched and returns
// the prior state for Rollback. A fetch in flight for key is orphaned.
func (c *Cache) Write(key Key, value any) Snapshot {
	id := key.id()
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Key: key, gen: c.gen}
	ttl := c.opts.TTL
	if prior, ok := c.entries[id]; ok {
		copied := *prior
		copied.refreshing = false
		snap.prior = &copied
		ttl = prior.ttl
	}
	c.entries[id] = &entry{key: key, value: value, fetchedAt: c.opts.Now(), ttl: ttl}
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		c.group.Forget(id)
	}
	return snap
}

// Rollback restores the state captured by Write. It does nothing once the
// cache has been reset to another generation.
func (c *Cache) Rollback(s Snapshot) {
	id := s.Key.id()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.gen != c.gen {
		return
	}
	if s.prior == nil {
		delete(c.entries, id)
		return
	}
	restored := *s.prior
	c.entries[id] = &restored
}

// Peek returns the cached value of key without fetching, fresh or not.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.id()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset empties the cache for connection generation gen. Fetches still in
// flight complete into nothing.
func (c *Cache) Reset(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen = gen
	c.epoch++
	c.entries = map[string]*entry{}
	c.pending = map[string]*flight{}
	c.group = &singleflight.Group{}
	c.opts.Logger.Debug("cache reset", "generation", gen)
}

// Read is the typed form of Cache.Read.
func Read[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Read(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, want %T", key, v, zero)
	}
	return typed, nil
}
