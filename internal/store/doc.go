// Package store is the HTTP client for the replicated key-value store under
// test. It covers the three calls the harness needs: setting the leader's
// write quorum, writing a key to the leader, and dumping a node's key space.
// Requests are never retried and each one is bounded by its own deadline.
package store
