package campaign

import (
	"context"
	"errors"
	"os"

	"code.cloudfoundry.org/lager"
)

// ErrInterrupted is returned by Runner when a signal stops the campaign.
var ErrInterrupted = errors.New("campaign interrupted")

// Reporter receives the result of a campaign, including one cut short by a
// signal.
type Reporter interface {
	Report(Result) error
}

// Runner runs a campaign as an ifrit process. It is ready as soon as the
// campaign starts and exits once the result has been reported. On a signal
// the steps completed so far are still reported before it exits with
// ErrInterrupted.
type Runner struct {
	logger       lager.Logger
	orchestrator *Orchestrator
	reporter     Reporter
}

func NewRunner(logger lager.Logger, orchestrator *Orchestrator, reporter Reporter) *Runner {
	return &Runner{
		logger:       logger.Session("campaign-runner"),
		orchestrator: orchestrator,
		reporter:     reporter,
	}
}

type runResult struct {
	result Result
	err    error
}

func (r *Runner) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		result, err := r.orchestrator.Run(ctx)
		done <- runResult{result: result, err: err}
	}()

	close(ready)

	var out runResult
	select {
	case sig := <-signals:
		r.logger.Info("received-signal", lager.Data{"signal": sig.String()})
		cancel()
		out = <-done
		if err := r.reporter.Report(out.result); err != nil {
			r.logger.Error("failed-to-report", err)
		} else {
			r.logger.Info("reported-partial-result", lager.Data{"steps": len(out.result.Steps)})
		}
		return ErrInterrupted
	case out = <-done:
	}

	if out.err != nil {
		r.logger.Error("campaign-failed", out.err)
		return out.err
	}

	if err := r.reporter.Report(out.result); err != nil {
		r.logger.Error("failed-to-report", err)
		return err
	}

	r.logger.Info("reported")
	return nil
}
