// Package baseline computes rolling statistics from a source's history of
// successful snapshots, grounded on the median/stddev/interval calculation
// in the original Python detection engine this agent was distilled from.
package baseline

import (
	"math"
	"sort"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

// Compute derives a BaselineSummary from a window of prior successful
// snapshots. The caller is responsible for windowing by size and age before
// calling Compute; this function treats history as already-filtered.
func Compute(history []model.Snapshot) model.BaselineSummary {
	if len(history) == 0 {
		return model.BaselineSummary{SnapshotCount: 0}
	}

	rowCounts := make([]float64, 0, len(history))
	for _, s := range history {
		if rc, ok := s.RowCount(); ok {
			rowCounts = append(rowCounts, float64(rc))
		}
	}

	var median, min, max, stddev *float64
	if len(rowCounts) > 0 {
		sorted := append([]float64(nil), rowCounts...)
		sort.Float64s(sorted)
		m := medianOf(sorted)
		median = &m
		mn, mx := sorted[0], sorted[len(sorted)-1]
		min, max = &mn, &mx
		sd := stddevOf(rowCounts)
		stddev = &sd
	}

	sortedByTime := append([]model.Snapshot(nil), history...)
	sort.Slice(sortedByTime, func(i, j int) bool {
		return sortedByTime[i].CollectedAt.Before(sortedByTime[j].CollectedAt)
	})

	var expectedInterval *float64
	if len(sortedByTime) > 1 {
		intervals := make([]float64, 0, len(sortedByTime)-1)
		for i := 1; i < len(sortedByTime); i++ {
			intervals = append(intervals, sortedByTime[i].CollectedAt.Sub(sortedByTime[i-1].CollectedAt).Seconds())
		}
		sort.Float64s(intervals)
		m := medianOf(intervals)
		expectedInterval = &m
	}

	oldest := sortedByTime[0].CollectedAt
	newest := sortedByTime[len(sortedByTime)-1].CollectedAt

	return model.BaselineSummary{
		SnapshotCount:           len(history),
		RowCountMedian:          median,
		RowCountMin:             min,
		RowCountMax:             max,
		RowCountStdDev:          stddev,
		ExpectedIntervalSeconds: expectedInterval,
		OldestSnapshotAt:        &oldest,
		NewestSnapshotAt:        &newest,
	}
}

// Confidence maps a baseline's sample size to a detection confidence score.
// It is a pure function of snapshot count alone.
func Confidence(summary model.BaselineSummary) float64 {
	switch {
	case summary.SnapshotCount == 0:
		return 0.0
	case summary.SnapshotCount < 3:
		return 0.3
	case summary.SnapshotCount < 10:
		return 0.6
	case summary.SnapshotCount < 20:
		return 0.8
	default:
		return 0.95
	}
}

// medianOf returns the median of an already-sorted, non-empty slice.
func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stddevOf returns the sample standard deviation, or 0 when fewer than two
// values are present.
func stddevOf(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}
