package cache

import (
	"container/list"
	"fmt"

	"github.com/c360/vatdata/errors"
)

type entry[V any] struct {
	key   string
	value V
	dirty bool
	pins  int
}

// WriteBack is a size-bounded LRU cache whose entries may be dirty (newer
// than durable storage) and pinned (in use by an active call).
//
// Eviction runs after every Insert and Unpin: while the cache holds more
// than maxSize entries, the least recently used unpinned entry is flushed
// if dirty and then removed. Pinned entries are never evicted, so the cache
// may exceed its bound while a deep call stack holds pins and shrinks back
// once they are released.
//
// WriteBack is not safe for concurrent use. It is owned by a single unit
// whose cranks run one at a time; loaders and flushers may call back into
// the cache.
type WriteBack[V any] struct {
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	loading map[string]struct{}
	flush   FlushFunc[V]
	evictFn EvictCallback[V]
	stats   *Statistics
	metrics *cacheMetrics
}

// NewWriteBack creates a cache holding at most maxSize unpinned entries.
// flush is called for every dirty entry that is written back.
func NewWriteBack[V any](maxSize int, flush FlushFunc[V], options ...Option[V]) (*WriteBack[V], error) {
	if maxSize < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewWriteBack",
			fmt.Sprintf("max size must be positive, got %d", maxSize))
	}
	if flush == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewWriteBack", "flush function required")
	}

	opts := applyOptions(options...)
	c := &WriteBack[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		loading: make(map[string]struct{}),
		flush:   flush,
		evictFn: opts.evictCallback,
		stats:   NewStatistics(),
	}

	if opts.metricsReg != nil {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewWriteBack", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// MaxSize returns the configured bound.
func (c *WriteBack[V]) MaxSize() int {
	return c.maxSize
}

// Lookup returns the cached value for key and marks it most recently used.
func (c *WriteBack[V]) Lookup(key string) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return el.Value.(*entry[V]).value, true
}

// Contains reports whether key is cached without touching recency or stats.
func (c *WriteBack[V]) Contains(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Materialize returns the cached value for key, calling load on a miss and
// caching the result clean and unpinned. A load that asks for its own key
// fails with ErrReentrantMaterialize.
func (c *WriteBack[V]) Materialize(key string, load LoadFunc[V]) (V, error) {
	var zero V
	if err := validateKey(key, "Materialize"); err != nil {
		return zero, err
	}
	if v, ok := c.Lookup(key); ok {
		return v, nil
	}
	if _, busy := c.loading[key]; busy {
		return zero, errors.WrapInvalid(ErrReentrantMaterialize, "cache", "Materialize",
			fmt.Sprintf("load %s", key))
	}

	c.BeginLoad(key)
	v, err := load()
	c.EndLoad(key)
	if err != nil {
		return zero, err
	}

	if err := c.Insert(key, v, false, false); err != nil {
		return zero, err
	}
	return v, nil
}

// Acquire is Materialize for callers that need the entry pinned. The entry
// is pinned before eviction runs, so a freshly loaded value is never the one
// evicted to make room for itself. The caller owns one Unpin.
func (c *WriteBack[V]) Acquire(key string, load LoadFunc[V]) (V, error) {
	var zero V
	if err := validateKey(key, "Acquire"); err != nil {
		return zero, err
	}
	if v, ok := c.Lookup(key); ok {
		c.Pin(key)
		return v, nil
	}
	if _, busy := c.loading[key]; busy {
		return zero, errors.WrapInvalid(ErrReentrantMaterialize, "cache", "Acquire",
			fmt.Sprintf("load %s", key))
	}

	c.BeginLoad(key)
	v, err := load()
	c.EndLoad(key)
	if err != nil {
		return zero, err
	}

	if err := c.Insert(key, v, false, true); err != nil {
		return zero, err
	}
	return v, nil
}

// BeginLoad marks key as being constructed outside Materialize, so that a
// nested Materialize of the same key is rejected.
func (c *WriteBack[V]) BeginLoad(key string) {
	c.loading[key] = struct{}{}
}

// EndLoad clears a mark set by BeginLoad.
func (c *WriteBack[V]) EndLoad(key string) {
	delete(c.loading, key)
}

// Loading reports whether key is currently being loaded or constructed.
func (c *WriteBack[V]) Loading(key string) bool {
	_, busy := c.loading[key]
	return busy
}

// Insert caches value under key. An existing entry has its value replaced,
// its dirty flag OR-ed with dirty, and gains a pin if pinned is set.
// Insert then evicts down to the bound; a flush failure during that
// eviction is returned as fatal.
func (c *WriteBack[V]) Insert(key string, value V, dirty, pinned bool) error {
	if err := validateKey(key, "Insert"); err != nil {
		return err
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.dirty = e.dirty || dirty
		if pinned {
			e.pins++
		}
		c.order.MoveToFront(el)
	} else {
		e := &entry[V]{key: key, value: value, dirty: dirty}
		if pinned {
			e.pins = 1
		}
		c.items[key] = c.order.PushFront(e)
	}

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.sets.Inc()
	}
	c.updateSize()
	return c.evict()
}

// Pin increments key's pin count. It returns false if key is not cached.
func (c *WriteBack[V]) Pin(key string) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry[V])
	e.pins++
	c.order.MoveToFront(el)
	return true
}

// Unpin decrements key's pin count and evicts down to the bound once the
// entry becomes evictable. Unpinning an uncached or unpinned key is a no-op.
func (c *WriteBack[V]) Unpin(key string) error {
	el, ok := c.items[key]
	if !ok {
		return nil
	}
	e := el.Value.(*entry[V])
	if e.pins == 0 {
		return nil
	}
	e.pins--
	if e.pins > 0 {
		return nil
	}
	return c.evict()
}

// Pins returns key's pin count.
func (c *WriteBack[V]) Pins(key string) int {
	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[V]).pins
	}
	return 0
}

// MarkDirty flags key as newer than durable storage. It returns false if
// key is not cached.
func (c *WriteBack[V]) MarkDirty(key string) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}
	el.Value.(*entry[V]).dirty = true
	return true
}

// IsDirty reports whether key is cached and dirty.
func (c *WriteBack[V]) IsDirty(key string) bool {
	el, ok := c.items[key]
	return ok && el.Value.(*entry[V]).dirty
}

// Flush writes key back if it is dirty and clears the flag.
func (c *WriteBack[V]) Flush(key string) error {
	el, ok := c.items[key]
	if !ok {
		return nil
	}
	return c.flushEntry(el.Value.(*entry[V]))
}

// FlushAll writes back every dirty entry, least recently used first, and
// stops at the first failure.
func (c *WriteBack[V]) FlushAll() error {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if err := c.flushEntry(el.Value.(*entry[V])); err != nil {
			return err
		}
	}
	return nil
}

func (c *WriteBack[V]) flushEntry(e *entry[V]) error {
	if !e.dirty {
		return nil
	}
	if err := c.flush(e.key, e.value); err != nil {
		return errors.WrapFatal(err, "cache", "flush", fmt.Sprintf("write back %s", e.key))
	}
	e.dirty = false
	c.stats.Flush()
	if c.metrics != nil {
		c.metrics.flushes.Inc()
	}
	return nil
}

// Remove drops key without flushing and returns its value.
func (c *WriteBack[V]) Remove(key string) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[V])
	c.removeElement(el)
	c.stats.Delete()
	if c.metrics != nil {
		c.metrics.deletes.Inc()
	}
	c.updateSize()
	return e.value, true
}

// Discard drops every entry without flushing, including pinned ones.
func (c *WriteBack[V]) Discard() {
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.loading = make(map[string]struct{})
	c.updateSize()
}

// Len returns the number of cached entries, pinned or not.
func (c *WriteBack[V]) Len() int {
	return len(c.items)
}

// Unpinned returns the number of entries eligible for eviction.
func (c *WriteBack[V]) Unpinned() int {
	n := 0
	for _, el := range c.items {
		if el.Value.(*entry[V]).pins == 0 {
			n++
		}
	}
	return n
}

// Keys returns cached keys, most recently used first.
func (c *WriteBack[V]) Keys() []string {
	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

// Stats returns the cache's statistics.
func (c *WriteBack[V]) Stats() *Statistics {
	return c.stats
}

// evict removes least recently used unpinned entries until the cache fits.
func (c *WriteBack[V]) evict() error {
	for len(c.items) > c.maxSize {
		victim := c.order.Back()
		for victim != nil && victim.Value.(*entry[V]).pins > 0 {
			victim = victim.Prev()
		}
		if victim == nil {
			return nil
		}

		e := victim.Value.(*entry[V])
		if err := c.flushEntry(e); err != nil {
			return err
		}
		c.removeElement(victim)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
		c.updateSize()

		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
	return nil
}

func (c *WriteBack[V]) removeElement(el *list.Element) {
	delete(c.items, el.Value.(*entry[V]).key)
	c.order.Remove(el)
}

func (c *WriteBack[V]) updateSize() {
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.items)))
	}
}
