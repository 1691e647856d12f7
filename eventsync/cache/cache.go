// Package cache is a read-through cache with per-call ttl for expensive
// aggregate reads. Stale entries are kept and served when a reload fails.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
)

// Loader produces a fresh value for a key.
type Loader[T any] func(ctx context.Context) (T, error)

// Entry is a cached value. Stale and LoadErr are set when a reload failed
// and the previous value was served instead.
type Entry[T any] struct {
	Key      string        `json:"key"`
	Value    T             `json:"value"`
	CachedAt time.Time     `json:"cachedAt"`
	TTL      time.Duration `json:"ttl"`

	Stale   bool  `json:"-"`
	LoadErr error `json:"-"`
}

// FreshAt reports whether the entry is within its ttl at now.
func (e Entry[T]) FreshAt(now time.Time) bool {
	return now.Sub(e.CachedAt) < e.TTL
}

type slot[T any] struct {
	entry  Entry[T]
	has    bool
	loader Loader[T]
	ttl    time.Duration
	gen    uint64 // bumped by Invalidate; loads started before it are discarded
}

// Cache holds one entry per key.
type Cache[T any] struct {
	now     func() time.Time
	backend Backend
	logger  eventsync.Logger
	group   singleflight.Group

	mu    sync.Mutex
	slots *gocache.Cache // key -> *slot[T]; never expires, ttl is checked per call
}

// New creates an empty cache.
func New[T any](opts ...Option) *Cache[T] {
	cfg := options{now: time.Now, logger: eventsync.NopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache[T]{
		now:     cfg.now,
		backend: cfg.backend,
		logger:  cfg.logger,
		slots:   gocache.New(gocache.NoExpiration, 0),
	}
}

// Get returns the value for key if it was cached less than ttl ago;
// otherwise it calls loader, stores the result and returns it.
//
// If loader fails and an older entry exists, that entry is returned with
// Stale set and a nil error. With no entry the failure is returned as a
// retryable cache load error.
func (c *Cache[T]) Get(ctx context.Context, key string, loader Loader[T], ttl time.Duration) (Entry[T], error) {
	c.mu.Lock()
	s := c.slotLocked(key)
	s.loader = loader
	s.ttl = ttl
	if s.has && c.now().Sub(s.entry.CachedAt) < ttl {
		e := s.entry
		c.mu.Unlock()
		return e, nil
	}
	has := s.has
	c.mu.Unlock()

	if !has {
		if e, ok := c.restore(ctx, key); ok && c.now().Sub(e.CachedAt) < ttl {
			return e, nil
		}
	}
	return c.load(ctx, key, loader, ttl)
}

// Refresh reloads key regardless of ttl using the loader from the last Get.
func (c *Cache[T]) Refresh(ctx context.Context, key string) (Entry[T], error) {
	c.mu.Lock()
	s, ok := c.slotOf(key)
	if !ok || s.loader == nil {
		c.mu.Unlock()
		return Entry[T]{Key: key}, &eventsync.SyncError{
			Code:    eventsync.ErrorCacheLoad,
			Message: "no loader registered for " + key,
		}
	}
	loader, ttl := s.loader, s.ttl
	c.mu.Unlock()
	return c.load(ctx, key, loader, ttl)
}

// Peek returns the entry for key without loading. Stale reports whether
// its own ttl has elapsed.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slotOf(key)
	if !ok || !s.has {
		return Entry[T]{}, false
	}
	e := s.entry
	e.Stale = !e.FreshAt(c.now())
	return e, true
}

// Invalidate drops key from memory and the backend. A load already in
// flight still answers its callers but is not stored.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	if s, ok := c.slotOf(key); ok {
		*s = slot[T]{gen: s.gen + 1}
	}
	c.mu.Unlock()
	c.group.Forget(key)
	if c.backend == nil {
		return nil
	}
	return c.backend.Delete(ctx, key)
}

func (c *Cache[T]) slotOf(key string) (*slot[T], bool) {
	v, ok := c.slots.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*slot[T]), true
}

func (c *Cache[T]) slotLocked(key string) *slot[T] {
	s, ok := c.slotOf(key)
	if !ok {
		s = &slot[T]{}
		c.slots.SetDefault(key, s)
	}
	return s
}

// load runs loader once per key at a time; concurrent callers share the result.
func (c *Cache[T]) load(ctx context.Context, key string, loader Loader[T], ttl time.Duration) (Entry[T], error) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		gen := c.slotLocked(key).gen
		c.mu.Unlock()

		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		e := Entry[T]{Key: key, Value: val, CachedAt: c.now(), TTL: ttl}
		c.mu.Lock()
		s := c.slotLocked(key)
		if s.gen != gen {
			c.mu.Unlock()
			c.logger.Debug("cache load discarded, key invalidated", map[string]any{"key": key})
			return e, nil
		}
		s.entry = e
		s.has = true
		c.mu.Unlock()
		c.persist(ctx, e)
		return e, nil
	})
	if err == nil {
		if shared {
			c.logger.Debug("cache load shared", map[string]any{"key": key})
		}
		return v.(Entry[T]), nil
	}

	c.mu.Lock()
	s, ok := c.slotOf(key)
	if ok && s.has {
		e := s.entry
		c.mu.Unlock()
		e.Stale = true
		e.LoadErr = err
		c.logger.Warn("cache load failed, serving stale entry", map[string]any{
			"key":       key,
			"cached_at": e.CachedAt,
			"error":     err.Error(),
		})
		return e, nil
	}
	c.mu.Unlock()
	return Entry[T]{Key: key}, &eventsync.SyncError{
		Code:    eventsync.ErrorCacheLoad,
		Message: "load " + key,
		Wrapped: err,
	}
}

// restore pulls a persisted entry into memory.
func (c *Cache[T]) restore(ctx context.Context, key string) (Entry[T], bool) {
	if c.backend == nil {
		return Entry[T]{}, false
	}
	data, err := c.backend.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache backend load failed", map[string]any{"key": key, "error": err.Error()})
		}
		return Entry[T]{}, false
	}
	var e Entry[T]
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("discarding undecodable cache entry", map[string]any{"key": key, "error": err.Error()})
		return Entry[T]{}, false
	}
	e.Key = key

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slotLocked(key)
	if s.has {
		// loaded concurrently; the in-memory entry is newer
		return s.entry, true
	}
	s.entry = e
	s.has = true
	return e, true
}

func (c *Cache[T]) persist(ctx context.Context, e Entry[T]) {
	if c.backend == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache entry not persisted", map[string]any{"key": e.Key, "error": err.Error()})
		return
	}
	if err := c.backend.Save(ctx, e.Key, data); err != nil {
		c.logger.Warn("cache backend save failed", map[string]any{"key": e.Key, "error": err.Error()})
	}
}
