// Package cache is the derived-view cache: a read-through store of backend
// query results with explicit, table-driven invalidation.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/realtime"
)

const (
	// DefaultStaleTime is how long a fetched view counts as fresh
	DefaultStaleTime = 30 * time.Second
	// DefaultRefreshDebounce collapses refresh requests arriving together
	DefaultRefreshDebounce = 300 * time.Millisecond
)

// Fetcher loads a view from the backend
type Fetcher[T any] func(ctx context.Context) (T, error)

// Notifier tells connected clients which views went stale
type Notifier interface {
	Publish(topic string, msgType realtime.MessageType, payload interface{}) error
}

// entry tracks one key. generation moves on every invalidation so a fetch
// that started earlier cannot mark the key fresh again.
type entry struct {
	key         Key
	fetchedAt   time.Time
	invalidated bool
	generation  uint64
	refresh     func(ctx context.Context) error
}

// Cache holds fetched views and tracks their staleness
type Cache struct {
	memory     *gocache.Cache
	snapshots  *SnapshotStore
	group      singleflight.Group
	staleTime  time.Duration
	serveStale bool
	debounce   time.Duration
	now        func() time.Time
	metrics    *metrics.Collector
	notifier   Notifier
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	pendingMu    sync.Mutex
	pending      map[View]struct{}
	pendingTimer *time.Timer
}

// Option configures a Cache
type Option func(*Cache)

// WithStaleTime sets the freshness window
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) { c.staleTime = d }
}

// WithServeStale returns stale entries immediately and refetches them in the
// background
func WithServeStale(enabled bool) Option {
	return func(c *Cache) { c.serveStale = enabled }
}

// WithRefreshDebounce sets the ScheduleRefresh window
func WithRefreshDebounce(d time.Duration) Option {
	return func(c *Cache) { c.debounce = d }
}

// WithSnapshots adds a shared Redis tier
func WithSnapshots(s *SnapshotStore) Option {
	return func(c *Cache) { c.snapshots = s }
}

// WithMetrics records hits, misses and invalidations
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithNotifier announces invalidated views on the realtime hub
func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache
func New(logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		staleTime: DefaultStaleTime,
		debounce:  DefaultRefreshDebounce,
		now:       time.Now,
		logger:    logger,
		entries:   make(map[string]*entry),
		pending:   make(map[View]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.memory = gocache.New(gocache.NoExpiration, 10*time.Minute)
	return c
}

// Get returns the cached value for key, fetching it when missing or stale.
// Concurrent loads of one key share a single fetch. A failed fetch leaves any
// previous value in place and returns the error.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch Fetcher[T]) (T, error) {
	k := key.String()
	load := func(ctx context.Context) (T, error) {
		return fetchAndStore(ctx, c, key, fetch)
	}
	c.track(key, func(ctx context.Context) error {
		_, err := load(ctx)
		return err
	})

	if v, ok := c.memory.Get(k); ok {
		if typed, ok := v.(T); ok {
			if !c.IsStale(key) {
				c.metrics.CacheHit(string(key.Name))
				return typed, nil
			}
			if c.serveStale {
				c.metrics.CacheHit(string(key.Name))
				go func() {
					if _, err := load(context.Background()); err != nil {
						c.logger.Warn("Background refetch failed", zap.String("key", k), zap.Error(err))
					}
				}()
				return typed, nil
			}
		}
	}

	if c.snapshots != nil && !c.isInvalidated(k) {
		gen := c.generation(k)
		var snap T
		fetchedAt, ok := c.snapshots.Load(ctx, k, &snap)
		if ok && c.now().Sub(fetchedAt) < c.staleTime && c.put(key, snap, fetchedAt, gen) {
			c.metrics.CacheHit(string(key.Name))
			return snap, nil
		}
	}

	c.metrics.CacheMiss(string(key.Name))
	return load(ctx)
}

func fetchAndStore[T any](ctx context.Context, c *Cache, key Key, fetch Fetcher[T]) (T, error) {
	k := key.String()
	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		gen := c.generation(k)
		val, err := fetch(ctx)
		if err != nil {
			return val, err
		}
		fetchedAt := c.now()
		if !c.put(key, val, fetchedAt, gen) {
			c.logger.Debug("Discarded fetch overtaken by invalidation", zap.String("key", k))
			return val, nil
		}
		if c.snapshots != nil {
			c.snapshots.Save(ctx, key, val, fetchedAt)
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}

// put stores value as fresh unless the key was invalidated after gen was
// read. It reports whether the value was stored.
func (c *Cache) put(key Key, value interface{}, fetchedAt time.Time, gen uint64) bool {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: key}
		c.entries[k] = e
	}
	if e.generation != gen {
		return false
	}
	c.memory.Set(k, value, gocache.NoExpiration)
	e.fetchedAt = fetchedAt
	e.invalidated = false
	return true
}

func (c *Cache) generation(k string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[k]; ok {
		return e.generation
	}
	return 0
}

func (c *Cache) track(key Key, refresh func(ctx context.Context) error) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: key}
		c.entries[k] = e
	}
	e.refresh = refresh
}

func (c *Cache) isInvalidated(k string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	return ok && e.invalidated
}

// IsStale reports whether the next Get for key will refetch
func (c *Cache) IsStale(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.String()]
	return !ok || c.stale(e, c.now())
}

func (c *Cache) stale(e *entry, now time.Time) bool {
	return e.fetchedAt.IsZero() || e.invalidated || now.Sub(e.fetchedAt) >= c.staleTime
}

// Invalidate marks every key of the named views stale, whatever its params
func (c *Cache) Invalidate(ctx context.Context, names ...View) {
	wanted := make(map[View]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	c.mu.Lock()
	for k, e := range c.entries {
		if wanted[e.key.Name] {
			e.invalidated = true
			e.generation++
			c.group.Forget(k)
		}
	}
	c.mu.Unlock()

	for _, n := range names {
		c.metrics.CacheInvalidated(string(n))
	}
	if c.snapshots != nil {
		c.snapshots.Purge(ctx, names...)
	}
	if c.notifier != nil && len(names) > 0 {
		if err := c.notifier.Publish(realtime.TopicViews, realtime.MessageTypeViewsInvalidated, names); err != nil {
			c.logger.Warn("Failed to announce invalidated views", zap.Error(err))
		}
	}
	c.logger.Debug("Invalidated views", zap.Any("views", names))
}

// InvalidateFor marks stale every view the mutation affects
func (c *Cache) InvalidateFor(ctx context.Context, m Mutation) {
	c.Invalidate(ctx, ViewsFor(m)...)
}

// Refresh refetches every tracked key of the named views now. The first
// error is returned after all keys have been attempted.
func (c *Cache) Refresh(ctx context.Context, names ...View) error {
	wanted := make(map[View]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	c.mu.RLock()
	var refreshers []func(context.Context) error
	for _, e := range c.entries {
		if wanted[e.key.Name] && e.refresh != nil {
			refreshers = append(refreshers, e.refresh)
		}
	}
	c.mu.RUnlock()

	var firstErr error
	for _, refresh := range refreshers {
		if err := refresh(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ScheduleRefresh queues the named views for one debounced Refresh. Calls
// arriving inside the debounce window are merged.
func (c *Cache) ScheduleRefresh(names ...View) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for _, n := range names {
		c.pending[n] = struct{}{}
	}
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
	}
	c.pendingTimer = time.AfterFunc(c.debounce, c.flushPending)
}

func (c *Cache) flushPending() {
	c.pendingMu.Lock()
	names := make([]View, 0, len(c.pending))
	for n := range c.pending {
		names = append(names, n)
	}
	c.pending = make(map[View]struct{})
	c.pendingTimer = nil
	c.pendingMu.Unlock()

	if len(names) == 0 {
		return
	}
	if err := c.Refresh(context.Background(), names...); err != nil {
		c.logger.Warn("Scheduled refresh failed", zap.Any("views", names), zap.Error(err))
	}
}

// ViewState describes one tracked key
type ViewState struct {
	Key       string    `json:"key"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Views returns every tracked key sorted by name, for diagnostics
func (c *Cache) Views() []ViewState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	states := make([]ViewState, 0, len(c.entries))
	for k, e := range c.entries {
		states = append(states, ViewState{
			Key:       k,
			Stale:     c.stale(e, now),
			FetchedAt: e.fetchedAt,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states
}
