package workload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/lagertest"
	"github.com/stretchr/testify/assert"
)

type inFlightWriter struct {
	current  int64
	max      int64
	hold     time.Duration
	mu       sync.Mutex
	measured []time.Duration
}

func (w *inFlightWriter) Write(ctx context.Context, key, value string) (time.Duration, error) {
	start := time.Now()
	n := atomic.AddInt64(&w.current, 1)
	for {
		old := atomic.LoadInt64(&w.max)
		if n <= old || atomic.CompareAndSwapInt64(&w.max, old, n) {
			break
		}
	}

	time.Sleep(w.hold)
	atomic.AddInt64(&w.current, -1)

	elapsed := time.Since(start)
	w.mu.Lock()
	w.measured = append(w.measured, elapsed)
	w.mu.Unlock()
	return elapsed, nil
}

// TestDriver_InFlightNeverExceedsConcurrency checks the limiter for a range
// of workload shapes.
func TestDriver_InFlightNeverExceedsConcurrency(t *testing.T) {
	tests := []struct {
		keys        int
		reps        int
		concurrency int
	}{
		{1, 1, 1},
		{10, 10, 10},
		{5, 4, 1},
		{3, 3, 20},
		{7, 3, 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("keys=%d reps=%d c=%d", tt.keys, tt.reps, tt.concurrency), func(t *testing.T) {
			keys := make([]string, tt.keys)
			for i := range keys {
				keys[i] = fmt.Sprintf("key_%d", i)
			}

			writer := &inFlightWriter{hold: 2 * time.Millisecond}
			driver := NewDriver(lagertest.NewTestLogger("test"), writer, nil)

			result := driver.Run(context.Background(), Spec{Keys: keys, Repetitions: tt.reps, Concurrency: tt.concurrency})

			assert.Equal(t, tt.keys*tt.reps, result.Attempted)
			assert.Equal(t, result.Attempted, result.Succeeded+result.Failed)
			assert.LessOrEqual(t, writer.max, int64(tt.concurrency))
			assert.GreaterOrEqual(t, writer.max, int64(1))
		})
	}
}

// TestDriver_QueueTimeExcludedFromLatency runs writes one at a time so that
// later writes queue behind earlier ones; no recorded latency may include
// that queueing.
func TestDriver_QueueTimeExcludedFromLatency(t *testing.T) {
	hold := 10 * time.Millisecond
	writer := &inFlightWriter{hold: hold}
	driver := NewDriver(lagertest.NewTestLogger("test"), writer, nil)

	start := time.Now()
	result := driver.Run(context.Background(), Spec{Keys: []string{"a", "b", "c", "d", "e"}, Repetitions: 2, Concurrency: 1})
	total := time.Since(start)

	assert.Equal(t, 10, result.Succeeded)
	assert.GreaterOrEqual(t, total, 10*hold)
	assert.ElementsMatch(t, writer.measured, result.Latencies)
	for _, l := range result.Latencies {
		assert.GreaterOrEqual(t, l, hold)
		assert.Less(t, l, total/2)
	}
}

// TestDriver_OutcomeCountMatchesAttempts checks attempted = succeeded + failed
// for mixed failure patterns.
func TestDriver_OutcomeCountMatchesAttempts(t *testing.T) {
	for failEvery := 1; failEvery <= 5; failEvery++ {
		var n int64
		writer := newRecordingWriter(0)
		writer.fail = func(string) error {
			if i := atomic.AddInt64(&n, 1); i%int64(failEvery) == 0 {
				return fmt.Errorf("write %d rejected", i)
			}
			return nil
		}

		driver := NewDriver(lagertest.NewTestLogger("test"), writer, nil)
		result := driver.Run(context.Background(), Spec{Keys: []string{"x", "y", "z"}, Repetitions: 7, Concurrency: 4})

		assert.Equal(t, 21, result.Attempted)
		assert.Equal(t, result.Attempted, result.Succeeded+result.Failed)
		assert.Len(t, result.Latencies, result.Succeeded)
		assert.Equal(t, 21/failEvery, result.Failed)
	}
}
