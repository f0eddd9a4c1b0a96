package main

import (
	"errors"
	"fmt"
	"os"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager"
	"code.cloudfoundry.org/lager/lagerflags"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/sigmon"

	"quorumbench/internal/campaign"
	"quorumbench/internal/config"
	"quorumbench/internal/report"
	"quorumbench/internal/sim"
	"quorumbench/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		return 1
	}

	lagerConfig, err := cfg.LagerConfig()
	if err != nil {
		// Validate below reports the bad setting
		lagerConfig = lagerflags.DefaultLagerConfig()
	}
	logger, err := newLogger(lagerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %s\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid-config", err)
		return 1
	}

	clk := clock.NewClock()

	if cfg.Simulate {
		cluster, err := sim.StartCluster(logger, clk, len(cfg.Followers))
		if err != nil {
			logger.Error("failed-to-start-cluster", err)
			return 1
		}
		defer func() {
			if err := cluster.Stop(); err != nil {
				logger.Error("failed-to-stop-cluster", err)
			}
		}()
		cfg = useCluster(cfg, cluster)
	}

	if err := report.WriteExplanation(os.Stdout); err != nil {
		logger.Error("failed-to-write-explanation", err)
	}
	fmt.Printf("\nStarting analysis against %s with %d followers...\n\n", cfg.Leader.Addr, len(cfg.Followers))

	client := store.NewClient(logger, clk, cfg.Leader.Addr, cfg.RequestTimeout, cfg.Concurrency)
	orchestrator := campaign.New(logger, cfg, client, clk)

	sinks := report.Multi{report.NewTextSink(os.Stdout)}
	if cfg.ReportFile != "" {
		sinks = append(sinks, report.NewJSONFileSink(cfg.ReportFile))
	}

	monitor := ifrit.Invoke(sigmon.New(campaign.NewRunner(logger, orchestrator, sinks)))

	logger.Info("started")

	err = <-monitor.Wait()
	if errors.Is(err, campaign.ErrInterrupted) {
		fmt.Println("\nAnalysis interrupted.")
		return 1
	}
	if err != nil {
		logger.Error("exited-with-failure", err)
		return 1
	}

	if cfg.ReportFile != "" {
		fmt.Printf("\nReport saved to: %s\n", cfg.ReportFile)
	}
	logger.Info("exited")
	return 0
}

// newLogger builds the logger the way lagerflags.NewFromConfig does, but on
// stderr so that stdout only carries the report.
func newLogger(lagerConfig lagerflags.LagerConfig) (lager.Logger, error) {
	minLevel, err := lager.LogLevelFromString(lagerConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	var sink lager.Sink
	if lagerConfig.TimeFormat == lagerflags.FormatRFC3339 {
		sink = lager.NewPrettySink(os.Stderr, lager.DEBUG)
	} else {
		sink = lager.NewWriterSink(os.Stderr, lager.DEBUG)
	}

	if lagerConfig.RedactSecrets {
		sink, err = lager.NewRedactingSink(sink, nil, nil)
		if err != nil {
			return nil, err
		}
	}

	logger := lager.NewLogger("quorumbench")
	logger.RegisterSink(lager.NewReconfigurableSink(sink, minLevel))
	return logger, nil
}

// useCluster points cfg at an in-process cluster, keeping follower IDs.
func useCluster(cfg config.Config, cluster *sim.Cluster) config.Config {
	cfg.Leader.Addr = cluster.LeaderURL()

	urls := cluster.FollowerURLs()
	followers := make([]config.Node, len(urls))
	for i, url := range urls {
		followers[i] = config.Node{ID: cfg.Followers[i].ID, Addr: url}
	}
	cfg.Followers = followers

	return cfg
}
