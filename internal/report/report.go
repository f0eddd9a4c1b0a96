package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"quorumbench/internal/campaign"
	"quorumbench/internal/consistency"
	"quorumbench/internal/stats"
)

// Sink consumes the result of a finished campaign.
type Sink interface {
	Report(campaign.Result) error
}

var rule = strings.Repeat("=", 60)

// TextSink prints a per-quorum summary followed by the consistency check.
type TextSink struct {
	w io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Report(result campaign.Result) error {
	p := &printer{w: s.w}

	p.printf("%s\nQuorum Latency Results\n%s\n", rule, rule)
	for _, step := range result.Steps {
		p.printf("\n--- Quorum = %d ---\n", step.Quorum)
		switch {
		case step.Skipped:
			p.printf("  Failed to set quorum to %d, skipped\n", step.Quorum)
		case step.Stats == nil:
			p.printf("  No successful writes! (%d attempted)\n", step.Attempted)
		default:
			p.printf("  Successful writes: %d of %d\n", step.Succeeded, step.Attempted)
			p.printf("  Mean latency:   %.1f ms\n", stats.Milliseconds(step.Stats.Mean))
			p.printf("  Median latency: %.1f ms\n", stats.Milliseconds(step.Stats.Median))
			p.printf("  P95 latency:    %.1f ms\n", stats.Milliseconds(step.Stats.P95))
			p.printf("  P99 latency:    %.1f ms\n", stats.Milliseconds(step.Stats.P99))
		}
	}

	p.printf("\n%s\nData Consistency Check\n%s\n", rule, rule)
	if result.Interrupted {
		p.printf("Interrupted after %d completed quorum steps, not checked\n", len(result.Steps))
		return p.err
	}

	c := result.Consistency
	if !c.LeaderReachable {
		p.printf("Leader unreachable: %s\n", c.LeaderError)
	} else {
		p.printf("Leader has %d keys\n", c.LeaderKeys)
	}

	for _, f := range c.Followers {
		p.printf("  %s: %d keys - %s\n", f.Follower, f.FollowerKeys, status(f))
		p.printf("         Matching: %d, Mismatched values: %d, Missing: %d", f.Matching, f.Mismatched, f.Missing)
		if f.Unknown > 0 {
			p.printf(", Unknown: %d", f.Unknown)
		}
		p.printf("\n")
		if len(f.MismatchedExamples) > 0 {
			p.printf("         Example mismatched keys: %s\n", strings.Join(f.MismatchedExamples, ", "))
		}
	}

	return p.err
}

func status(r consistency.Record) string {
	switch {
	case !r.Reachable && !r.TreatedAsEmpty:
		return "? UNREACHABLE (" + r.Error + ")"
	case r.TreatedAsEmpty && r.Consistent():
		return "✓ CONSISTENT (unreachable, scored as empty: " + r.Error + ")"
	case r.TreatedAsEmpty:
		return "✗ INCONSISTENT (unreachable, scored as empty: " + r.Error + ")"
	case r.Consistent():
		return "✓ CONSISTENT"
	default:
		return "✗ INCONSISTENT"
	}
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// Document is the JSON form of a campaign result.
type Document struct {
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Series      []Point                `json:"series"`
	Steps       []campaign.StepSummary `json:"steps"`
	Consistency consistency.Report     `json:"consistency"`
	Interrupted bool                   `json:"interrupted"`
}

// Point is one quorum's latency summary in milliseconds.
type Point struct {
	Quorum    int     `json:"quorum"`
	Succeeded int     `json:"succeeded"`
	MeanMs    float64 `json:"mean_ms"`
	MedianMs  float64 `json:"median_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
}

// NewDocument builds the JSON document for result. The series only holds
// quorums that produced at least one successful write, in sweep order.
func NewDocument(result campaign.Result) Document {
	doc := Document{
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Series:      make([]Point, 0, len(result.Stats)),
		Steps:       result.Steps,
		Consistency: result.Consistency,
		Interrupted: result.Interrupted,
	}

	succeeded := make(map[int]int, len(result.Steps))
	for _, step := range result.Steps {
		succeeded[step.Quorum] = step.Succeeded
	}

	for _, q := range result.Quorums() {
		s := result.Stats[q]
		doc.Series = append(doc.Series, Point{
			Quorum:    q,
			Succeeded: succeeded[q],
			MeanMs:    stats.Milliseconds(s.Mean),
			MedianMs:  stats.Milliseconds(s.Median),
			P95Ms:     stats.Milliseconds(s.P95),
			P99Ms:     stats.Milliseconds(s.P99),
			MinMs:     stats.Milliseconds(s.Min),
			MaxMs:     stats.Milliseconds(s.Max),
		})
	}

	return doc
}

// JSONFileSink writes the result document to a file.
type JSONFileSink struct {
	path string
}

func NewJSONFileSink(path string) *JSONFileSink {
	return &JSONFileSink{path: path}
}

// Report writes the document to a temporary file next to the target and
// renames it into place.
func (s *JSONFileSink) Report(result campaign.Result) error {
	data, err := json.MarshalIndent(NewDocument(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Multi reports to every sink, even when an earlier one fails, and returns
// all of their errors together.
type Multi []Sink

func (m Multi) Report(result campaign.Result) error {
	var errs *multierror.Error
	for _, sink := range m {
		if err := sink.Report(result); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
