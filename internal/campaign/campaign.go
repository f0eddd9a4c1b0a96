package campaign

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager"

	"quorumbench/internal/config"
	"quorumbench/internal/consistency"
	"quorumbench/internal/stats"
	"quorumbench/internal/store"
	"quorumbench/internal/workload"
)

// StoreClient is the subset of the store client the orchestrator drives.
type StoreClient interface {
	workload.Writer
	ConfigureQuorum(ctx context.Context, quorum int, minDelay, maxDelay time.Duration) bool
	Dump(ctx context.Context, nodeAddr string) store.Dump
}

// StepSummary describes one quorum step. Stats is nil when the step was
// skipped or no write succeeded.
type StepSummary struct {
	Quorum    int                 `json:"quorum"`
	Skipped   bool                `json:"skipped"`
	Attempted int                 `json:"attempted"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Stats     *stats.LatencyStats `json:"stats,omitempty"`
}

// Result is everything a campaign produced. Stats only holds quorum values
// with at least one successful write. An interrupted result holds the steps
// completed before cancellation and no consistency report.
type Result struct {
	Stats       map[int]stats.LatencyStats `json:"-"`
	Steps       []StepSummary              `json:"steps"`
	Consistency consistency.Report         `json:"consistency"`
	Interrupted bool                       `json:"interrupted"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// Quorums returns the quorum values present in Stats, in sweep order.
func (r Result) Quorums() []int {
	quorums := make([]int, 0, len(r.Stats))
	for _, step := range r.Steps {
		if _, ok := r.Stats[step.Quorum]; ok {
			quorums = append(quorums, step.Quorum)
		}
	}
	return quorums
}

// Orchestrator runs one campaign. Its configuration is fixed at construction.
type Orchestrator struct {
	logger lager.Logger
	cfg    config.Config
	client StoreClient
	clock  clock.Clock
	driver *workload.Driver
	policy consistency.Policy
}

// New creates an orchestrator. cfg is expected to have passed Validate; an
// unknown consistency policy falls back to consistency.PolicyUnknown.
func New(logger lager.Logger, cfg config.Config, client StoreClient, clk clock.Clock) *Orchestrator {
	logger = logger.Session("campaign")

	policy, err := consistency.ParsePolicy(cfg.ConsistencyPolicy)
	if err != nil {
		logger.Error("invalid-consistency-policy", err)
		policy = consistency.PolicyUnknown
	}

	return &Orchestrator{
		logger: logger,
		cfg:    cfg,
		client: client,
		clock:  clk,
		driver: workload.NewDriver(logger, client, clk.Now),
		policy: policy,
	}
}

// Run sweeps every configured quorum value, then checks consistency. It
// returns an error only when ctx is cancelled; the partial result gathered
// so far is returned with it.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	logger := o.logger.Session("run")
	logger.Info("starting", lager.Data{"quorums": o.cfg.QuorumValues})

	result := Result{
		Stats:     make(map[int]stats.LatencyStats),
		Steps:     make([]StepSummary, 0, len(o.cfg.QuorumValues)),
		StartedAt: o.clock.Now(),
	}

	spec := o.cfg.WorkloadSpec()
	for _, quorum := range o.cfg.QuorumValues {
		step, err := o.runStep(ctx, logger, quorum, spec)
		if err != nil {
			logger.Error("interrupted", err, lager.Data{"quorum": quorum})
			result.Interrupted = true
			result.FinishedAt = o.clock.Now()
			return result, err
		}

		result.Steps = append(result.Steps, step)
		if step.Stats != nil {
			result.Stats[quorum] = *step.Stats
		}
	}

	if err := o.settle(ctx, o.cfg.ConsistencySettle); err != nil {
		logger.Error("interrupted", err)
		result.Interrupted = true
		result.FinishedAt = o.clock.Now()
		return result, err
	}

	result.Consistency = o.checkConsistency(ctx, logger)
	result.FinishedAt = o.clock.Now()

	logger.Info("finished", lager.Data{
		"measured-quorums": len(result.Stats),
		"consistent":       result.Consistency.Consistent(),
	})
	return result, nil
}

func (o *Orchestrator) runStep(ctx context.Context, logger lager.Logger, quorum int, spec workload.Spec) (StepSummary, error) {
	logger = logger.Session("step", lager.Data{"quorum": quorum})
	step := StepSummary{Quorum: quorum}

	if err := ctx.Err(); err != nil {
		return step, err
	}

	if !o.client.ConfigureQuorum(ctx, quorum, o.cfg.MinDelay, o.cfg.MaxDelay) {
		logger.Info("skipping-quorum")
		step.Skipped = true
		return step, nil
	}

	if err := o.settle(ctx, o.cfg.QuorumSettle); err != nil {
		return step, err
	}

	res := o.driver.Run(ctx, spec)
	step.Attempted = res.Attempted
	step.Succeeded = res.Succeeded
	step.Failed = res.Failed

	if err := ctx.Err(); err != nil {
		return step, err
	}

	if len(res.Latencies) == 0 {
		logger.Info("no-successful-writes", lager.Data{"attempted": res.Attempted})
		return step, nil
	}

	s := stats.Compute(res.Latencies)
	step.Stats = &s

	logger.Info("measured", lager.Data{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"mean-ms":   stats.Milliseconds(s.Mean),
		"median-ms": stats.Milliseconds(s.Median),
		"p95-ms":    stats.Milliseconds(s.P95),
		"p99-ms":    stats.Milliseconds(s.P99),
	})
	return step, nil
}

func (o *Orchestrator) checkConsistency(ctx context.Context, logger lager.Logger) consistency.Report {
	logger = logger.Session("check-consistency")

	leader := o.client.Dump(ctx, o.cfg.Leader.Addr)
	leader.Node = o.cfg.Leader.ID

	followers := make([]store.Dump, len(o.cfg.Followers))
	for i, f := range o.cfg.Followers {
		followers[i] = o.client.Dump(ctx, f.Addr)
		followers[i].Node = f.ID
	}

	report := consistency.CheckAll(leader, followers, o.policy)

	for _, r := range report.Followers {
		data := lager.Data{
			"follower":   r.Follower,
			"matching":   r.Matching,
			"mismatched": r.Mismatched,
			"missing":    r.Missing,
			"unknown":    r.Unknown,
		}
		if r.Consistent() {
			logger.Debug("consistent", data)
		} else {
			logger.Info("inconsistent", data)
		}
	}

	return report
}

func (o *Orchestrator) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := o.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
