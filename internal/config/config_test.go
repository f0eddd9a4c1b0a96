package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/lagerflags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Node
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Node{},
		},
		{
			name:  "single node",
			input: "f1=http://127.0.0.1:8081",
			want: []Node{
				{ID: "f1", Addr: "http://127.0.0.1:8081"},
			},
		},
		{
			name:  "multiple nodes",
			input: "f1=http://127.0.0.1:8081,f2=http://127.0.0.1:8082,f3=http://127.0.0.1:8083",
			want: []Node{
				{ID: "f1", Addr: "http://127.0.0.1:8081"},
				{ID: "f2", Addr: "http://127.0.0.1:8082"},
				{ID: "f3", Addr: "http://127.0.0.1:8083"},
			},
		},
		{
			name:  "with spaces",
			input: "f1 = http://127.0.0.1:8081 , f2 = http://127.0.0.1:8082",
			want: []Node{
				{ID: "f1", Addr: "http://127.0.0.1:8081"},
				{ID: "f2", Addr: "http://127.0.0.1:8082"},
			},
		},
		{
			name:  "address containing equals sign",
			input: "f1=http://host:8081/?a=b",
			want: []Node{
				{ID: "f1", Addr: "http://host:8081/?a=b"},
			},
		},
		{
			name:  "blank entries skipped",
			input: "f1=https://a.example:443,, ",
			want: []Node{
				{ID: "f1", Addr: "https://a.example:443"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "f1:http://127.0.0.1:8081",
			wantErr: true,
		},
		{
			name:    "bare host and port",
			input:   "f1=127.0.0.1:8081",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			input:   "f1=grpc://127.0.0.1:8081",
			wantErr: true,
		},
		{
			name:    "missing host",
			input:   "f1=http://",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=http://127.0.0.1:8081",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "f1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodes(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Followers, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, cfg.QuorumValues)
	assert.Equal(t, "http://localhost:8083", cfg.Followers[2].Addr)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Leader.Addr = ""
	cfg.Concurrency = 0
	cfg.QuorumValues = []int{1, 0}
	cfg.MaxDelay = -1
	cfg.ConsistencyPolicy = "maybe"
	cfg.LogLevel = "chatty"
	cfg.Followers = append(cfg.Followers,
		Node{ID: "f1", Addr: "http://localhost:9999"},
		Node{ID: "f9", Addr: "localhost:9999"},
	)

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "leader address is required")
	assert.Contains(t, msg, "concurrency must be positive")
	assert.Contains(t, msg, "quorum values must be positive")
	assert.Contains(t, msg, "max_delay")
	assert.Contains(t, msg, "maybe")
	assert.Contains(t, msg, "invalid log level: chatty")
	assert.Contains(t, msg, "duplicate follower ID: f1")
	assert.Contains(t, msg, "follower f9: address localhost:9999 must use http or https")
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorumbench.yml")
	contents := `
leader:
  id: leader
  addr: http://10.0.0.1:8080
followers:
  - id: a
    addr: http://10.0.0.2:8080
  - id: b
    addr: http://10.0.0.3:8080
quorum_values: [1, 2]
max_delay: 250ms
quorum_settle: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.1:8080", cfg.Leader.Addr)
	assert.Equal(t, []string{"http://10.0.0.2:8080", "http://10.0.0.3:8080"}, cfg.FollowerAddrs())
	assert.Equal(t, []int{1, 2}, cfg.QuorumValues)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxDelay)
	assert.Equal(t, time.Second, cfg.QuorumSettle)

	// untouched fields keep their defaults
	assert.Equal(t, 10, cfg.NumKeys)
	assert.Equal(t, 2*time.Second, cfg.ConsistencySettle)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		EnvFollowers: "x=http://127.0.0.1:1,y=http://127.0.0.1:2",
	}

	cfg, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, []Node{
		{ID: "x", Addr: "http://127.0.0.1:1"},
		{ID: "y", Addr: "http://127.0.0.1:2"},
	}, cfg.Followers)
	assert.Equal(t, DefaultConfig().Leader, cfg.Leader)

	env[EnvFollowers] = "bogus"
	_, err = FromEnv(func(k string) string { return env[k] })
	assert.Error(t, err)
}

func TestConfig_WorkloadSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumKeys = 3
	cfg.WritesPerKey = 4
	cfg.Concurrency = 2

	spec := cfg.WorkloadSpec()

	assert.Equal(t, []string{"key_0", "key_1", "key_2"}, spec.Keys)
	assert.Equal(t, 4, spec.Repetitions)
	assert.Equal(t, 2, spec.Concurrency)
	assert.Equal(t, 12, spec.Total())
}

func TestLagerConfig(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		timeFormat string
		want       lagerflags.LagerConfig
		wantErr    string
	}{
		{
			name:  "defaults",
			level: "",
			want:  lagerflags.DefaultLagerConfig(),
		},
		{
			name:       "debug with rfc3339",
			level:      "DEBUG",
			timeFormat: "rfc3339",
			want:       lagerflags.LagerConfig{LogLevel: lagerflags.DEBUG, TimeFormat: lagerflags.FormatRFC3339},
		},
		{
			name:  "fatal",
			level: "fatal",
			want:  lagerflags.LagerConfig{LogLevel: lagerflags.FATAL},
		},
		{
			name:    "unknown level",
			level:   "chatty",
			wantErr: "invalid log level: chatty",
		},
		{
			name:       "unknown time format",
			level:      "info",
			timeFormat: "julian",
			wantErr:    "invalid TimeFormat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = tt.level
			cfg.TimeFormat = tt.timeFormat

			got, err := cfg.LagerConfig()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
