package models

import (
	"math"
	"strconv"
	"strings"
)

// ColumnStats summarizes one numeric column. Missing counts cells that were
// empty or not parseable as numbers.
type ColumnStats struct {
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// NumericColumnStats computes summary statistics over string-encoded values.
// Returns false when no value in the column parses as a number.
func NumericColumnStats(values []string) (ColumnStats, bool) {
	var stats ColumnStats
	var nums []float64
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			stats.Missing++
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			stats.Missing++
			continue
		}
		nums = append(nums, f)
	}
	if len(nums) == 0 {
		return ColumnStats{}, false
	}

	stats.Count = len(nums)
	stats.Min = nums[0]
	stats.Max = nums[0]
	var sum float64
	for _, f := range nums {
		sum += f
		stats.Min = math.Min(stats.Min, f)
		stats.Max = math.Max(stats.Max, f)
	}
	stats.Mean = sum / float64(len(nums))

	var sq float64
	for _, f := range nums {
		d := f - stats.Mean
		sq += d * d
	}
	if len(nums) > 1 {
		stats.StdDev = math.Sqrt(sq / float64(len(nums)-1))
	}
	return stats, true
}

// SummarizeColumns computes stats for the requested columns, skipping columns
// that are absent or hold no numeric values.
func SummarizeColumns(t *Table, columns []string) map[string]ColumnStats {
	out := make(map[string]ColumnStats, len(columns))
	for _, name := range columns {
		values, ok := t.Column(name)
		if !ok {
			continue
		}
		if stats, ok := NumericColumnStats(values); ok {
			out[name] = stats
		}
	}
	return out
}
