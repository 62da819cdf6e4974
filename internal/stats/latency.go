// Latency sample math.
package stats

import "sort"

// LatencySummary describes one set of latency samples in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avgMs"`
	Min   int64   `json:"minMs"`
	Max   int64   `json:"maxMs"`
	P50   int64   `json:"p50Ms"`
	P95   int64   `json:"p95Ms"`
	P99   int64   `json:"p99Ms"`
}

// SummarizeLatency computes the summary over raw samples. Percentiles use
// the floor(n*q) index on the sorted samples; the input slice is not
// modified.
func SummarizeLatency(samples []int64) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}

	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}

	return LatencySummary{
		Count: len(sorted),
		Avg:   float64(sum) / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []int64, q float64) int64 {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
