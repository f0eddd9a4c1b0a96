package sim_test

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/lagertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorumbench/internal/campaign"
	"quorumbench/internal/config"
	"quorumbench/internal/sim"
	"quorumbench/internal/store"
)

func startCluster(t *testing.T, followers int) *sim.Cluster {
	t.Helper()

	cluster, err := sim.StartCluster(lagertest.NewTestLogger("sim"), clock.NewClock(), followers)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, cluster.Stop())
	})
	return cluster
}

func TestCluster_QuorumOfAllReplicatesSynchronously(t *testing.T) {
	cluster := startCluster(t, 3)
	client := store.NewClient(lagertest.NewTestLogger("test"), clock.NewClock(), cluster.LeaderURL(), 5*time.Second, 2)
	ctx := context.Background()

	require.True(t, client.ConfigureQuorum(ctx, 3, 0, 0))

	_, err := client.Write(ctx, "key_0", "v0")
	require.NoError(t, err)

	leader := client.Dump(ctx, cluster.LeaderURL())
	require.True(t, leader.Reachable)
	assert.Equal(t, map[string]string{"key_0": "v0"}, leader.Data)

	for _, url := range cluster.FollowerURLs() {
		dump := client.Dump(ctx, url)
		require.True(t, dump.Reachable, url)
		assert.Equal(t, map[string]string{"key_0": "v0"}, dump.Data, url)
	}
}

func TestCluster_RejectsQuorumAboveFollowerCount(t *testing.T) {
	cluster := startCluster(t, 2)
	client := store.NewClient(lagertest.NewTestLogger("test"), clock.NewClock(), cluster.LeaderURL(), 5*time.Second, 1)

	assert.False(t, client.ConfigureQuorum(context.Background(), 3, 0, 0))
	assert.True(t, client.ConfigureQuorum(context.Background(), 2, 0, 0))
}

func TestCluster_StoppedFollower(t *testing.T) {
	cluster := startCluster(t, 3)
	client := store.NewClient(lagertest.NewTestLogger("test"), clock.NewClock(), cluster.LeaderURL(), 5*time.Second, 1)
	ctx := context.Background()

	require.NoError(t, cluster.StopFollower(2))
	require.NoError(t, cluster.StopFollower(2))

	require.True(t, client.ConfigureQuorum(ctx, 3, 0, 0))
	_, err := client.Write(ctx, "k", "v1")
	assert.ErrorIs(t, err, store.ErrNotAcknowledged)

	require.True(t, client.ConfigureQuorum(ctx, 2, 0, 0))
	_, err = client.Write(ctx, "k", "v2")
	assert.NoError(t, err)

	dump := client.Dump(ctx, cluster.FollowerURLs()[2])
	assert.False(t, dump.Reachable)

	assert.Error(t, cluster.StopFollower(7))
}

func TestCluster_CampaignEndToEnd(t *testing.T) {
	cluster := startCluster(t, 3)

	cfg := config.DefaultConfig()
	cfg.Leader = config.Node{ID: "leader", Addr: cluster.LeaderURL()}
	cfg.Followers = nil
	for i, url := range cluster.FollowerURLs() {
		cfg.Followers = append(cfg.Followers, config.Node{ID: cluster.Follower(i).ID(), Addr: url})
	}
	cfg.NumKeys = 5
	cfg.WritesPerKey = 4
	cfg.Concurrency = 5
	cfg.QuorumValues = []int{1, 2, 3, 4}
	cfg.MinDelay = 0
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.QuorumSettle = 10 * time.Millisecond
	cfg.ConsistencySettle = 200 * time.Millisecond
	require.NoError(t, cfg.Validate())

	logger := lagertest.NewTestLogger("test")
	client := store.NewClient(logger, clock.NewClock(), cfg.Leader.Addr, cfg.RequestTimeout, cfg.Concurrency)

	result, err := campaign.New(logger, cfg, client, clock.NewClock()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, result.Quorums())
	require.Len(t, result.Steps, 4)
	assert.True(t, result.Steps[3].Skipped)
	for _, step := range result.Steps[:3] {
		assert.Equal(t, 20, step.Succeeded)
		assert.Equal(t, 0, step.Failed)
	}

	report := result.Consistency
	assert.True(t, report.LeaderReachable)
	assert.Equal(t, 5, report.LeaderKeys)
	require.Len(t, report.Followers, 3)
	for i, f := range report.Followers {
		assert.Equal(t, cluster.Follower(i).ID(), f.Follower)
		assert.True(t, f.Reachable)
		assert.Equal(t, 5, f.FollowerKeys)
		assert.Zero(t, f.Missing)
		assert.Equal(t, report.LeaderKeys, f.Matching+f.Mismatched)
	}
}
