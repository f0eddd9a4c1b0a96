// Package sim provides an in-process single-leader key-value cluster that
// speaks the same HTTP contract as the store under test. The leader
// replicates every write to its followers over gRPC and acknowledges the
// client once the configured write quorum has applied it; the remaining
// followers catch up asynchronously.
//
// It exists so campaigns can be exercised end to end without external
// infrastructure.
package sim
