// Package workload generates write tasks for one campaign step and dispatches
// them against a writer with a bounded number of writes in flight.
package workload
