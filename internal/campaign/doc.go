// Package campaign sweeps the configured write quorums against the store
// under test, measuring write latency at each quorum, and finishes with one
// consistency check between the leader and every follower.
//
// Steps run strictly one after another. A quorum that cannot be configured
// is skipped; per-write failures are counted and never stop the sweep.
package campaign
