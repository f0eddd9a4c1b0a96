// Package report renders campaign results: a human-readable summary, a JSON
// document with the per-quorum latency series, and the explanation of the
// metrics printed before a campaign starts.
package report
