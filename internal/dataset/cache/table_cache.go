// Package cache provides the byte-budgeted table cache and the derived
// statistics cache that every downstream dataset operation reads through.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"outlab/internal/dataset/metrics"
	"outlab/internal/dataset/models"
)

// LoadFunc produces a table for a cache miss, typically by delegating to the
// table loader collaborator.
type LoadFunc func(ctx context.Context) (*models.Table, error)

// entry is one cached table. The table instance is exclusively owned by the
// cache; callers only ever see clones.
type entry struct {
	datasetID string
	table     *models.Table
	loadedAt  time.Time
	size      int64
	elem      *list.Element
}

// Usage is a point-in-time snapshot of cache occupancy.
type Usage struct {
	Entries int
	Bytes   int64
	Budget  int64
}

// TableCache is a byte-budgeted, insertion-ordered table store.
//
// Eviction is deliberately one-entry-per-insert: when an insert would exceed
// the budget, exactly the oldest-inserted entry (not least-recently-used) is
// evicted along with its stats entries. If a single eviction still cannot
// make room, the table is served uncached rather than evicting further, so
// the byte budget is never exceeded.
type TableCache struct {
	budget int64

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List
	bytes   int64

	stats   *StatsCache
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*TableCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *TableCache) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TableCache) {
		c.metrics = m
	}
}

// NewTableCache builds a cache with the given byte budget. The stats cache is
// coupled so that table invalidation never leaves stale statistics behind.
func NewTableCache(budget int64, stats *StatsCache, opts ...Option) *TableCache {
	c := &TableCache{
		budget:  budget,
		entries: make(map[string]*entry),
		order:   list.New(),
		stats:   stats,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad returns a copy of the cached table, loading and caching it on a
// miss. Concurrent loads for the same dataset id collapse into one loader
// call.
func (c *TableCache) GetOrLoad(ctx context.Context, datasetID string, load LoadFunc) (*models.Table, error) {
	c.mu.Lock()
	if e, ok := c.entries[datasetID]; ok {
		t := e.table.Clone()
		c.mu.Unlock()
		c.metrics.IncTableCacheHit()
		return t, nil
	}
	c.mu.Unlock()
	c.metrics.IncTableCacheMiss()

	v, err, _ := c.group.Do(datasetID, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[datasetID]; ok {
			t := e.table.Clone()
			c.mu.Unlock()
			return t, nil
		}
		c.mu.Unlock()

		t, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.insert(datasetID, t.Clone())
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Table).Clone(), nil
}

// Put caches a table, replacing any previous entry for the dataset.
func (c *TableCache) Put(datasetID string, t *models.Table) {
	c.Invalidate(datasetID)
	c.insert(datasetID, t.Clone())
}

// Invalidate removes the dataset's table and its stats entries together; a
// table is never dropped while stale statistics linger.
func (c *TableCache) Invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[datasetID]; ok {
		c.removeLocked(e)
	}
	// Lock order is always table cache then stats cache, so dropping the
	// stats entry here keeps the two coherent without a shared mutex.
	if c.stats != nil {
		c.stats.Invalidate(datasetID)
	}
}

// InvalidateAll clears both caches.
func (c *TableCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
	c.bytes = 0
	c.metrics.SetTableCacheBytes(0)
	if c.stats != nil {
		c.stats.InvalidateAll()
	}
}

// Usage reports current occupancy.
func (c *TableCache) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Usage{Entries: len(c.entries), Bytes: c.bytes, Budget: c.budget}
}

func (c *TableCache) insert(datasetID string, t *models.Table) {
	size := t.ApproxSizeBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[datasetID]; ok {
		return
	}
	if size > c.budget {
		c.logger.Warn("table exceeds cache budget, serving uncached",
			"dataset_id", datasetID, "size_bytes", size, "budget_bytes", c.budget)
		return
	}
	if c.bytes+size > c.budget {
		c.evictOldestLocked()
	}
	if c.bytes+size > c.budget {
		c.logger.Debug("cache still over budget after one eviction, serving uncached",
			"dataset_id", datasetID)
		return
	}

	e := &entry{datasetID: datasetID, table: t, loadedAt: time.Now(), size: size}
	e.elem = c.order.PushBack(e)
	c.entries[datasetID] = e
	c.bytes += size
	c.metrics.SetTableCacheBytes(c.bytes)
}

// evictOldestLocked drops the oldest-inserted entry and its stats entries.
func (c *TableCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	c.removeLocked(e)
	if c.stats != nil {
		c.stats.Invalidate(e.datasetID)
	}
	c.metrics.IncTableCacheEviction()
	c.logger.Debug("evicted oldest cached table", "dataset_id", e.datasetID, "size_bytes", e.size)
}

func (c *TableCache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.datasetID)
	c.bytes -= e.size
	c.metrics.SetTableCacheBytes(c.bytes)
}
