package youtube

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Operational counters for the acquisition pipeline.
var metrics struct {
	FetchRequests     atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	DirectSuccesses   atomic.Int64
	DirectFailures    atomic.Int64
	FreeSuccesses     atomic.Int64
	FreeFailures      atomic.Int64
	ManualSuccesses   atomic.Int64
	ManualFailures    atomic.Int64
	ContentErrors     atomic.Int64
	ExhaustedFailures atomic.Int64
	MetadataRequests  atomic.Int64
}

// GetMetrics returns a snapshot of all counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"fetch_requests":     metrics.FetchRequests.Load(),
		"cache_hits":         metrics.CacheHits.Load(),
		"cache_misses":       metrics.CacheMisses.Load(),
		"direct_successes":   metrics.DirectSuccesses.Load(),
		"direct_failures":    metrics.DirectFailures.Load(),
		"free_successes":     metrics.FreeSuccesses.Load(),
		"free_failures":      metrics.FreeFailures.Load(),
		"manual_successes":   metrics.ManualSuccesses.Load(),
		"manual_failures":    metrics.ManualFailures.Load(),
		"content_errors":     metrics.ContentErrors.Load(),
		"exhausted_failures": metrics.ExhaustedFailures.Load(),
		"metadata_requests":  metrics.MetadataRequests.Load(),
	}
}

// FormatMetrics renders the counters as plain text for the /metrics endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	keys := []string{
		"fetch_requests", "cache_hits", "cache_misses",
		"direct_successes", "direct_failures",
		"free_successes", "free_failures",
		"manual_successes", "manual_failures",
		"content_errors", "exhausted_failures",
		"metadata_requests",
	}
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}
