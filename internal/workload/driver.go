package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/lager"
	uuid "github.com/nu7hatch/gouuid"
	"golang.org/x/sync/semaphore"
)

// Writer issues a single write and reports how long it took.
type Writer interface {
	Write(ctx context.Context, key, value string) (time.Duration, error)
}

// Spec describes one step's workload: every key is written Repetitions times
// with at most Concurrency writes in flight.
type Spec struct {
	Keys        []string
	Repetitions int
	Concurrency int
}

// Total returns the number of writes s describes.
func (s Spec) Total() int {
	if s.Repetitions <= 0 {
		return 0
	}
	return len(s.Keys) * s.Repetitions
}

// Task is a single write to perform.
type Task struct {
	Key        string
	Value      string
	Repetition int
}

// Outcome is the result of one task. A nil Err means success.
type Outcome struct {
	Key        string
	Repetition int
	Latency    time.Duration
	Err        error
}

// Succeeded reports whether the write was acknowledged.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Result aggregates the outcomes of one Run.
type Result struct {
	Outcomes []Outcome
	// Latencies holds successful write latencies only, in no particular order.
	Latencies []time.Duration
	Attempted int
	Succeeded int
	Failed    int
}

// BuildTasks creates one task per (repetition, key) pair. Values embed the
// key, the repetition, the issue time and a random UUID, so no two tasks in
// a campaign write the same value.
func BuildTasks(spec Spec, now time.Time) []Task {
	tasks := make([]Task, 0, spec.Total())
	for rep := 0; rep < spec.Repetitions; rep++ {
		for _, key := range spec.Keys {
			tasks = append(tasks, Task{
				Key:        key,
				Value:      newValue(key, rep, now),
				Repetition: rep,
			})
		}
	}
	return tasks
}

func newValue(key string, rep int, now time.Time) string {
	value := fmt.Sprintf("value_%s_%d_%d", key, rep, now.UnixNano())
	if id, err := uuid.NewV4(); err == nil {
		value += "_" + id.String()
	}
	return value
}

// Driver dispatches a workload against a Writer with bounded concurrency.
type Driver struct {
	logger lager.Logger
	writer Writer
	now    func() time.Time
}

// NewDriver creates a driver. now stamps generated values; nil means time.Now.
func NewDriver(logger lager.Logger, writer Writer, now func() time.Time) *Driver {
	if now == nil {
		now = time.Now
	}
	return &Driver{
		logger: logger.Session("write-driver"),
		writer: writer,
		now:    now,
	}
}

// Run executes every write of spec and waits for all of them. A slot is
// acquired before the writer is called and released after it returns, so
// time spent queued for a slot never shows up in a latency. Individual
// failures do not stop the run.
func (d *Driver) Run(ctx context.Context, spec Spec) Result {
	tasks := BuildTasks(spec, d.now())
	logger := d.logger.Session("run", lager.Data{"writes": len(tasks), "concurrency": spec.Concurrency})
	logger.Info("starting")
	defer logger.Info("finished")

	outcomes := Dispatch(ctx, d.writer, tasks, spec.Concurrency)
	return Collect(outcomes)
}

// Dispatch runs tasks with at most concurrency writes in flight and returns
// one outcome per task, in task order. Each goroutine fills only its own
// slot of the outcome slice; nothing is shared until every task is done.
func Dispatch(ctx context.Context, writer Writer, tasks []Task, concurrency int) []Outcome {
	if concurrency < 1 {
		concurrency = 1
	}

	outcomes := make([]Outcome, len(tasks))
	slots := semaphore.NewWeighted(int64(concurrency))

	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = runTask(ctx, writer, slots, tasks[i])
		}(i)
	}
	wg.Wait()

	return outcomes
}

func runTask(ctx context.Context, writer Writer, slots *semaphore.Weighted, task Task) Outcome {
	outcome := Outcome{Key: task.Key, Repetition: task.Repetition}

	if err := slots.Acquire(ctx, 1); err != nil {
		outcome.Err = fmt.Errorf("waiting for write slot: %w", err)
		return outcome
	}
	defer slots.Release(1)

	latency, err := writer.Write(ctx, task.Key, task.Value)
	if latency < 0 {
		latency = 0
	}
	outcome.Latency = latency
	outcome.Err = err
	return outcome
}

// Collect merges outcomes into a Result.
func Collect(outcomes []Outcome) Result {
	result := Result{
		Outcomes:  outcomes,
		Latencies: make([]time.Duration, 0, len(outcomes)),
		Attempted: len(outcomes),
	}

	for _, o := range outcomes {
		if o.Succeeded() {
			result.Succeeded++
			result.Latencies = append(result.Latencies, o.Latency)
		} else {
			result.Failed++
		}
	}

	return result
}
