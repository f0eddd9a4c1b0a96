package sim

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager"
	"code.cloudfoundry.org/localip"
	"github.com/hashicorp/go-multierror"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/grpc_server"
	"github.com/tedsuo/ifrit/http_server"
)

// Cluster runs a leader and its followers on loopback ports. Each follower
// is one ifrit process grouping its gRPC and HTTP servers, so followers can
// be stopped individually.
type Cluster struct {
	logger  lager.Logger
	leader  *Leader
	clients *ClientManager

	mu              sync.Mutex
	leaderURL       string
	leaderProcess   ifrit.Process
	followers       []*Follower
	followerURLs    []string
	followerProcess []ifrit.Process
}

// StartCluster starts n followers and a leader replicating to them, and
// returns once every server is listening.
func StartCluster(logger lager.Logger, clk clock.Clock, n int) (*Cluster, error) {
	if n < 1 {
		return nil, fmt.Errorf("cluster needs at least one follower, got %d", n)
	}

	logger = logger.Session("cluster")
	c := &Cluster{
		logger:  logger,
		clients: NewClientManager(),
	}

	grpcAddrs := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		follower := NewFollower(logger, fmt.Sprintf("f%d", i))

		grpcAddr, err := freeAddr()
		if err != nil {
			return nil, c.abort(err)
		}
		httpAddr, err := freeAddr()
		if err != nil {
			return nil, c.abort(err)
		}

		handler, err := follower.Handler()
		if err != nil {
			return nil, c.abort(err)
		}

		members := grouper.Members{
			{Name: "replica", Runner: grpc_server.NewGRPCServer(grpcAddr, nil, follower, RegisterReplicaServer)},
			{Name: "http", Runner: http_server.New(httpAddr, handler)},
		}

		process, err := invoke(grouper.NewParallel(os.Interrupt, members))
		if err != nil {
			return nil, c.abort(fmt.Errorf("failed to start follower %s: %w", follower.ID(), err))
		}

		c.followers = append(c.followers, follower)
		c.followerURLs = append(c.followerURLs, "http://"+httpAddr)
		c.followerProcess = append(c.followerProcess, process)
		grpcAddrs = append(grpcAddrs, grpcAddr)
	}

	c.leader = NewLeader(logger, clk, grpcAddrs, c.clients)

	leaderAddr, err := freeAddr()
	if err != nil {
		return nil, c.abort(err)
	}
	handler, err := c.leader.Handler()
	if err != nil {
		return nil, c.abort(err)
	}
	process, err := invoke(http_server.New(leaderAddr, handler))
	if err != nil {
		return nil, c.abort(fmt.Errorf("failed to start leader: %w", err))
	}
	c.leaderURL = "http://" + leaderAddr
	c.leaderProcess = process

	logger.Info("started", lager.Data{"leader": c.leaderURL, "followers": c.followerURLs})
	return c, nil
}

func (c *Cluster) Leader() *Leader {
	return c.leader
}

func (c *Cluster) LeaderURL() string {
	return c.leaderURL
}

// FollowerURLs returns the followers' HTTP base URLs in start order.
func (c *Cluster) FollowerURLs() []string {
	return append([]string(nil), c.followerURLs...)
}

func (c *Cluster) Follower(i int) *Follower {
	return c.followers[i]
}

// StopFollower shuts down the i-th follower's servers. Replication to it
// and dumps from it fail afterwards.
func (c *Cluster) StopFollower(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 || i >= len(c.followerProcess) {
		return fmt.Errorf("no follower at index %d", i)
	}
	process := c.followerProcess[i]
	if process == nil {
		return nil
	}
	c.followerProcess[i] = nil

	c.logger.Info("stopping-follower", lager.Data{"follower": c.followers[i].ID()})
	return stop(process)
}

// Stop shuts down the leader, then every follower still running.
func (c *Cluster) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error

	if c.leaderProcess != nil {
		if err := stop(c.leaderProcess); err != nil {
			result = multierror.Append(result, fmt.Errorf("leader: %w", err))
		}
		c.leaderProcess = nil
	}

	for i, process := range c.followerProcess {
		if process == nil {
			continue
		}
		if err := stop(process); err != nil {
			result = multierror.Append(result, fmt.Errorf("follower %s: %w", c.followers[i].ID(), err))
		}
		c.followerProcess[i] = nil
	}

	if err := c.clients.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	c.logger.Info("stopped")
	return result.ErrorOrNil()
}

func (c *Cluster) abort(err error) error {
	if stopErr := c.Stop(); stopErr != nil {
		c.logger.Error("failed-to-stop", stopErr)
	}
	return err
}

// invoke starts a runner and waits until it is ready or has exited.
func invoke(runner ifrit.Runner) (ifrit.Process, error) {
	process := ifrit.Invoke(runner)

	select {
	case <-process.Ready():
		return process, nil
	default:
	}

	err := <-process.Wait()
	if err == nil {
		err = errors.New("exited before becoming ready")
	}
	return nil, err
}

func stop(process ifrit.Process) error {
	process.Signal(os.Interrupt)
	return <-process.Wait()
}

// freeAddr reserves a loopback port by briefly listening on it.
func freeAddr() (string, error) {
	port, err := localip.LocalPort()
	if err != nil {
		return "", fmt.Errorf("failed to find free port: %w", err)
	}
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}
