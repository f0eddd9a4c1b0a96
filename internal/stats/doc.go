// Package stats summarizes write latency samples: mean, median,
// percentiles and the extremes.
package stats
