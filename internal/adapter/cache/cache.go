// Package cache provides a read-through LRU decorator for series readers.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
)

// CachedReader wraps a SeriesReader with an in-memory LRU cache keyed by
// pathname and time range.
type CachedReader struct {
	inner   domain.SeriesReader
	cache   *lruCache[domain.Series]
	metrics *observability.Metrics
}

// NewCachedReader creates a cache decorator around a series reader.
func NewCachedReader(inner domain.SeriesReader, maxEntries int, metrics *observability.Metrics) *CachedReader {
	return &CachedReader{
		inner:   inner,
		cache:   newLRUCache[domain.Series](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedReader) Read(ctx context.Context, pathname string, r domain.TimeRange) (domain.Series, error) {
	key := cacheKey(pathname, r)
	if s, ok := c.cache.get(key); ok {
		c.metrics.SeriesCache.WithLabelValues("hit").Inc()
		return cloneSeries(s), nil
	}
	c.metrics.SeriesCache.WithLabelValues("miss").Inc()

	s, err := c.inner.Read(ctx, pathname, r)
	if err != nil {
		return s, err
	}
	// Only cache non-empty series so a range that has not been observed yet
	// is fetched again.
	if s.Len() > 0 {
		c.cache.put(key, cloneSeries(s))
	}
	return s, nil
}

// cloneSeries copies the observation slices so callers cannot alter a cached
// entry.
func cloneSeries(s domain.Series) domain.Series {
	s.Times = slices.Clone(s.Times)
	s.Values = slices.Clone(s.Values)
	return s
}

func cacheKey(pathname string, r domain.TimeRange) string {
	return fmt.Sprintf("%s|%s|%s", domain.NormalizePart(pathname), formatBound(r.Start), formatBound(r.End))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) unlink(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
