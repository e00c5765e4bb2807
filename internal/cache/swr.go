// Package cache implements the stale-while-revalidate cache used by both
// direct reads and the monitoring cycle: a value is served from an
// in-process L1 map, with a single-flight guarantee so concurrent readers
// for the same key share one in-flight loader. An L2 backend can be
// attached, but only Ping calls it; fetched values are never read from or
// written to L2.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches a fresh value for key. Loader errors propagate to the
// caller; the cache never memoizes a failed load.
type Loader[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// L2Backend is the named extension point for a shared cache (Redis-class)
// behind the L1 in-process map. No implementation ships with this module,
// and the cache never calls Get or Set: fetches read and write the L1 map
// only, and Ping is the one operation that calls the backend. L1-only is
// the correct behavior for a single-replica deployment (§9 "Cooldown map is process
// local... If single-replica assumption is relaxed, move the cooldown
// store behind the SWR cache's L2 backend with the same keying").
type L2Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// BackoffState tracks L2 availability as seen by Ping: after a failed
// ping the backend is disabled, and Ping skips it and reports unhealthy
// until the window elapses.
type BackoffState struct {
	FailureCount int
	DisabledUntil time.Time
	Configured    bool
}

// Cache is a generic keyed SWR cache. Keys are hierarchical strings
// ("domain:arg1:arg2...") by convention; the cache itself treats them as
// opaque.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	group   singleflight.Group

	l2         L2Backend
	l2mu       sync.Mutex
	l2backoff  BackoffState
	l2disable  time.Duration
}

// New creates an L1-only cache. Call SetL2 to attach a shared backend.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries:   make(map[string]entry[T]),
		l2disable: 30 * time.Second,
	}
}

// SetL2 attaches a shared backend and marks backoff state as configured.
// The backend is used only by Ping.
func (c *Cache[T]) SetL2(backend L2Backend) {
	c.l2mu.Lock()
	defer c.l2mu.Unlock()
	c.l2 = backend
	c.l2backoff.Configured = backend != nil
}

func (c *Cache[T]) l2Available() bool {
	c.l2mu.Lock()
	defer c.l2mu.Unlock()
	if c.l2 == nil {
		return false
	}
	if c.l2backoff.DisabledUntil.IsZero() {
		return true
	}
	return time.Now().After(c.l2backoff.DisabledUntil)
}

func (c *Cache[T]) recordL2Failure() {
	c.l2mu.Lock()
	defer c.l2mu.Unlock()
	c.l2backoff.FailureCount++
	backoff := time.Duration(c.l2backoff.FailureCount) * c.l2disable
	if backoff > 10*time.Minute {
		backoff = 10 * time.Minute
	}
	c.l2backoff.DisabledUntil = time.Now().Add(backoff)
}

func (c *Cache[T]) recordL2Success() {
	c.l2mu.Lock()
	defer c.l2mu.Unlock()
	c.l2backoff.FailureCount = 0
	c.l2backoff.DisabledUntil = time.Time{}
}

// CachedFetch is a strict-TTL fetch: no stale values are ever returned.
func (c *Cache[T]) CachedFetch(ctx context.Context, key string, ttl time.Duration, loader Loader[T]) (T, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(e.expiresAt) {
		return e.value, nil
	}

	return c.load(ctx, key, ttl, loader)
}

// CachedFetchSWR returns a cached value if present (fresh or stale),
// scheduling a background refresh when stale. Absent a cached value, it
// runs the loader synchronously. At most one concurrent refresh runs per
// key regardless of how many goroutines call in concurrently.
func (c *Cache[T]) CachedFetchSWR(ctx context.Context, key string, ttl time.Duration, loader Loader[T]) (T, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return c.load(ctx, key, ttl, loader)
	}

	if time.Now().Before(e.expiresAt) {
		return e.value, nil
	}

	// Stale: return it immediately, refresh in the background. The
	// singleflight group collapses concurrent refreshes for this key.
	go func() {
		_, _, _ = c.group.Do(key, func() (interface{}, error) {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			v, err := loader(refreshCtx)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.entries[key] = entry[T]{value: v, expiresAt: time.Now().Add(ttl)}
			c.mu.Unlock()
			return v, nil
		})
	}()

	return e.value, nil
}

func (c *Cache[T]) load(ctx context.Context, key string, ttl time.Duration, loader Loader[T]) (T, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return loader(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	value := v.(T)

	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	return value, nil
}

// Invalidate drops a single key from L1.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Ping reports cache health for health-check endpoints: true if there is
// no L2 configured (L1-only is always "healthy") or if L2 is reachable.
func (c *Cache[T]) Ping(ctx context.Context) bool {
	if !c.l2Available() {
		return !c.l2backoff.Configured
	}
	if err := c.l2.Ping(ctx); err != nil {
		c.recordL2Failure()
		return false
	}
	c.recordL2Success()
	return true
}
