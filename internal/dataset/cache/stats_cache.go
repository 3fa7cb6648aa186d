package cache

import (
	"sort"
	"strings"
	"sync"

	"outlab/internal/dataset/metrics"
	"outlab/internal/dataset/models"
)

// StatsCache holds derived column statistics, content-addressed by the exact
// set of columns they were computed over. A request for a different column
// set never produces a stale partial hit; it simply misses.
type StatsCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]map[string]models.ColumnStats
	metrics *metrics.Metrics
}

func NewStatsCache(m *metrics.Metrics) *StatsCache {
	return &StatsCache{
		entries: make(map[string]map[string]map[string]models.ColumnStats),
		metrics: m,
	}
}

// Get returns the stats computed for exactly this column set, if present.
func (c *StatsCache) Get(datasetID string, columns []string) (map[string]models.ColumnStats, bool) {
	key := columnSetKey(columns)

	c.mu.RLock()
	stats, ok := c.entries[datasetID][key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.IncStatsCacheMiss()
		return nil, false
	}
	c.metrics.IncStatsCacheHit()
	return cloneStats(stats), true
}

// Put stores stats under the dataset id and column-set key.
func (c *StatsCache) Put(datasetID string, columns []string, stats map[string]models.ColumnStats) {
	key := columnSetKey(columns)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[datasetID] == nil {
		c.entries[datasetID] = make(map[string]map[string]models.ColumnStats)
	}
	c.entries[datasetID][key] = cloneStats(stats)
}

// Invalidate drops every stats entry for the dataset.
func (c *StatsCache) Invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, datasetID)
}

// InvalidateAll drops everything.
func (c *StatsCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]map[string]models.ColumnStats)
}

// columnSetKey canonicalizes a column set: sorted, deduplicated, joined with
// a separator that cannot appear in a column name read from a table header.
func columnSetKey(columns []string) string {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	unique := make([]string, 0, len(set))
	for c := range set {
		unique = append(unique, c)
	}
	sort.Strings(unique)
	return strings.Join(unique, "\x1f")
}

func cloneStats(stats map[string]models.ColumnStats) map[string]models.ColumnStats {
	cp := make(map[string]models.ColumnStats, len(stats))
	for k, v := range stats {
		cp[k] = v
	}
	return cp
}
