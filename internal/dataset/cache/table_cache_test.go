package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"outlab/internal/dataset/metrics"
	"outlab/internal/dataset/models"
)

func tableOfRows(t *testing.T, rows int) *models.Table {
	t.Helper()
	data := make([][]string, rows)
	for i := range data {
		data[i] = []string{"value-0123456789"}
	}
	table, err := models.NewTable([]string{"col"}, data)
	require.NoError(t, err)
	return table
}

func loaderFor(table *models.Table, calls *atomic.Int64) LoadFunc {
	return func(ctx context.Context) (*models.Table, error) {
		calls.Add(1)
		return table, nil
	}
}

type TableCacheSuite struct {
	suite.Suite
	ctx context.Context
}

func TestTableCacheSuite(t *testing.T) {
	suite.Run(t, new(TableCacheSuite))
}

func (s *TableCacheSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *TableCacheSuite) newCache(budget int64) (*TableCache, *StatsCache) {
	m := metrics.NewWith(prometheus.NewRegistry())
	stats := NewStatsCache(m)
	return NewTableCache(budget, stats, WithMetrics(m)), stats
}

func (s *TableCacheSuite) TestGetOrLoad() {
	s.Run("second access hits the cache", func() {
		cache, _ := s.newCache(1 << 20)
		table := tableOfRows(s.T(), 10)
		var calls atomic.Int64

		first, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
		s.Require().NoError(err)
		second, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
		s.Require().NoError(err)

		s.Equal(int64(1), calls.Load())
		s.Equal(first.Rows, second.Rows)
	})

	s.Run("loader errors are returned and nothing is cached", func() {
		cache, _ := s.newCache(1 << 20)
		boom := errors.New("parse failed")

		_, err := cache.GetOrLoad(s.ctx, "ds", func(ctx context.Context) (*models.Table, error) {
			return nil, boom
		})
		s.Require().ErrorIs(err, boom)
		s.Zero(cache.Usage().Entries)
	})

	s.Run("concurrent loads collapse into one loader call", func() {
		cache, _ := s.newCache(1 << 20)
		table := tableOfRows(s.T(), 10)
		var calls atomic.Int64

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
				s.NoError(err)
			}()
		}
		wg.Wait()
		s.Equal(int64(1), calls.Load())
	})
}

func (s *TableCacheSuite) TestDefensiveCopies() {
	cache, _ := s.newCache(1 << 20)
	table := tableOfRows(s.T(), 3)
	var calls atomic.Int64

	got, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
	s.Require().NoError(err)
	got.Rows[0][0] = "mutated"

	again, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
	s.Require().NoError(err)
	s.Equal("value-0123456789", again.Rows[0][0])
	s.Equal(int64(1), calls.Load(), "mutation must not have invalidated the cache")
}

func (s *TableCacheSuite) TestByteBudget() {
	small := tableOfRows(s.T(), 5)
	budget := small.ApproxSizeBytes()*2 + 10

	s.Run("never exceeds the budget", func() {
		cache, _ := s.newCache(budget)
		for _, id := range []string{"a", "b", "c", "d"} {
			var calls atomic.Int64
			_, err := cache.GetOrLoad(s.ctx, id, loaderFor(small, &calls))
			s.Require().NoError(err)
			s.LessOrEqual(cache.Usage().Bytes, budget)
		}
	})

	s.Run("evicts the oldest-inserted entry first", func() {
		cache, _ := s.newCache(budget)
		var calls atomic.Int64
		for _, id := range []string{"a", "b", "c"} {
			_, err := cache.GetOrLoad(s.ctx, id, loaderFor(small, &calls))
			s.Require().NoError(err)
		}
		// a and b fit; inserting c evicted a.
		s.Equal(int64(3), calls.Load())
		_, err := cache.GetOrLoad(s.ctx, "b", loaderFor(small, &calls))
		s.Require().NoError(err)
		s.Equal(int64(3), calls.Load(), "b should still be cached")
		_, err = cache.GetOrLoad(s.ctx, "a", loaderFor(small, &calls))
		s.Require().NoError(err)
		s.Equal(int64(4), calls.Load(), "a should have been evicted")
	})

	s.Run("table larger than the whole budget is served uncached", func() {
		cache, _ := s.newCache(64)
		big := tableOfRows(s.T(), 100)
		var calls atomic.Int64

		_, err := cache.GetOrLoad(s.ctx, "big", loaderFor(big, &calls))
		s.Require().NoError(err)
		s.Zero(cache.Usage().Entries)
		s.Zero(cache.Usage().Bytes)
	})
}

func (s *TableCacheSuite) TestCacheStatsCoherence() {
	s.Run("invalidating a dataset removes table and stats together", func() {
		cache, stats := s.newCache(1 << 20)
		table := tableOfRows(s.T(), 3)
		var calls atomic.Int64

		_, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
		s.Require().NoError(err)
		stats.Put("ds", []string{"col"}, map[string]models.ColumnStats{"col": {Count: 3}})

		cache.Invalidate("ds")

		s.Zero(cache.Usage().Entries)
		_, ok := stats.Get("ds", []string{"col"})
		s.False(ok, "no stats hit may be observable for an evicted table")
	})

	s.Run("capacity eviction also drops stats", func() {
		small := tableOfRows(s.T(), 5)
		cache, stats := s.newCache(small.ApproxSizeBytes() + 10)
		var calls atomic.Int64

		_, err := cache.GetOrLoad(s.ctx, "first", loaderFor(small, &calls))
		s.Require().NoError(err)
		stats.Put("first", []string{"col"}, map[string]models.ColumnStats{"col": {Count: 5}})

		_, err = cache.GetOrLoad(s.ctx, "second", loaderFor(small, &calls))
		s.Require().NoError(err)

		_, ok := stats.Get("first", []string{"col"})
		s.False(ok)
	})

	s.Run("invalidate all clears both caches", func() {
		cache, stats := s.newCache(1 << 20)
		table := tableOfRows(s.T(), 3)
		var calls atomic.Int64

		_, err := cache.GetOrLoad(s.ctx, "ds", loaderFor(table, &calls))
		s.Require().NoError(err)
		stats.Put("ds", []string{"col"}, map[string]models.ColumnStats{"col": {Count: 3}})

		cache.InvalidateAll()

		s.Zero(cache.Usage().Entries)
		_, ok := stats.Get("ds", []string{"col"})
		s.False(ok)
	})
}

func TestStatsCacheColumnSetAddressing(t *testing.T) {
	m := metrics.NewWith(prometheus.NewRegistry())
	stats := NewStatsCache(m)
	stats.Put("ds", []string{"a", "b"}, map[string]models.ColumnStats{"a": {Count: 1}})

	t.Run("exact set hits regardless of order", func(t *testing.T) {
		_, ok := stats.Get("ds", []string{"b", "a"})
		require.True(t, ok)
	})

	t.Run("different set misses, never a stale partial hit", func(t *testing.T) {
		_, ok := stats.Get("ds", []string{"a"})
		require.False(t, ok)
		_, ok = stats.Get("ds", []string{"a", "b", "c"})
		require.False(t, ok)
	})

	t.Run("returned map is a copy", func(t *testing.T) {
		got, ok := stats.Get("ds", []string{"a", "b"})
		require.True(t, ok)
		got["a"] = models.ColumnStats{Count: 99}

		fresh, ok := stats.Get("ds", []string{"a", "b"})
		require.True(t, ok)
		require.Equal(t, 1, fresh["a"].Count)
	})
}
