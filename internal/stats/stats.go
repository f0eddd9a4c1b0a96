package stats

import (
	"math"
	"sort"
	"time"
)

// LatencyStats summarizes one latency sample.
type LatencyStats struct {
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
}

// Compute summarizes latencies. The input is not modified. An empty sample
// yields the zero value.
func Compute(latencies []time.Duration) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := Sorted(latencies)

	return LatencyStats{
		Mean:   Mean(sorted),
		Median: Median(sorted),
		P95:    Percentile(sorted, 0.95),
		P99:    Percentile(sorted, 0.99),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// Sorted returns an ascending copy of latencies.
func Sorted(latencies []time.Duration) []time.Duration {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	var sum float64
	for _, l := range latencies {
		sum += float64(l)
	}
	return time.Duration(math.Round(sum / float64(len(latencies))))
}

// Median returns the middle value of an ascending sample. An even-length
// sample yields the average of the two middle values.
func Median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the element at 0-indexed position floor(n*p) of an
// ascending sample, clamped to the last element. p is a fraction in [0, 1].
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(float64(n) * p)
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Milliseconds renders d as fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
