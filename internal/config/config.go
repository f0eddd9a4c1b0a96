package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/lagerflags"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"quorumbench/internal/consistency"
	"quorumbench/internal/workload"
)

const (
	// EnvConfigPath names a YAML file overlaid on DefaultConfig.
	EnvConfigPath = "QUORUMBENCH_CONFIG"
	// EnvFollowers overrides the follower list, in ParseNodes format.
	EnvFollowers = "QUORUMBENCH_FOLLOWERS"
)

// Node is a store node reachable over HTTP.
type Node struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config holds the campaign configuration. It is treated as immutable once
// handed to the orchestrator.
type Config struct {
	Leader    Node   `yaml:"leader"`
	Followers []Node `yaml:"followers"`

	NumKeys      int   `yaml:"num_keys"`
	WritesPerKey int   `yaml:"writes_per_key"`
	Concurrency  int   `yaml:"concurrency"`
	QuorumValues []int `yaml:"quorum_values"`

	// Replication delay bounds passed through to the store's /config.
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`

	QuorumSettle      time.Duration `yaml:"quorum_settle"`
	ConsistencySettle time.Duration `yaml:"consistency_settle"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	ConsistencyPolicy string `yaml:"consistency_policy"`
	ReportFile        string `yaml:"report_file"`

	// Logging, in lagerflags terms: log_level is debug, info, error or
	// fatal; time_format is unix-epoch or rfc3339.
	LogLevel      string `yaml:"log_level"`
	TimeFormat    string `yaml:"time_format"`
	RedactSecrets bool   `yaml:"redact_secrets"`

	// Simulate runs the campaign against an in-process cluster instead of
	// the configured addresses.
	Simulate bool `yaml:"simulate"`
}

// DefaultConfig returns the configuration of the reference docker-compose
// deployment: one leader and five followers on localhost.
func DefaultConfig() Config {
	followers := make([]Node, 0, 5)
	for i := 1; i <= 5; i++ {
		followers = append(followers, Node{
			ID:   fmt.Sprintf("f%d", i),
			Addr: fmt.Sprintf("http://localhost:%d", 8080+i),
		})
	}

	return Config{
		Leader:            Node{ID: "leader", Addr: "http://localhost:8080"},
		Followers:         followers,
		NumKeys:           10,
		WritesPerKey:      10,
		Concurrency:       10,
		QuorumValues:      []int{1, 2, 3, 4, 5},
		MinDelay:          0,
		MaxDelay:          1000 * time.Millisecond,
		QuorumSettle:      500 * time.Millisecond,
		ConsistencySettle: 2 * time.Second,
		RequestTimeout:    5 * time.Second,
		ConsistencyPolicy: string(consistency.PolicyUnknown),
		LogLevel:          lagerflags.INFO,
		ReportFile:        "quorum_latency_analysis.json",
	}
}

// Load reads a YAML file and overlays it on DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// FromEnv builds the configuration from the process environment. Nothing is
// read from the command line.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path := getenv(EnvConfigPath); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	if followers := getenv(EnvFollowers); followers != "" {
		nodes, err := ParseNodes(followers)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvFollowers, err)
		}
		cfg.Followers = nodes
	}

	return cfg, nil
}

// ParseNodes reads a comma-separated node list such as
// "f1=http://host:8081,f2=http://host:8082". Blank entries are skipped and
// every address must be an http or https base URL.
func ParseNodes(list string) ([]Node, error) {
	nodes := []Node{}

	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, addr, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("invalid node %q: expected id=url", entry)
		}

		node := Node{ID: strings.TrimSpace(id), Addr: strings.TrimSpace(addr)}
		if node.ID == "" {
			return nil, fmt.Errorf("invalid node %q: empty ID", entry)
		}
		if err := checkBaseURL(node.Addr); err != nil {
			return nil, fmt.Errorf("invalid node %q: %w", entry, err)
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

func checkBaseURL(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}

	u, err := url.Parse(addr)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("address %s must use http or https", addr)
	}
	if u.Host == "" {
		return fmt.Errorf("address %s has no host", addr)
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.Leader.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("leader address is required"))
	} else if err := checkBaseURL(c.Leader.Addr); err != nil {
		result = multierror.Append(result, fmt.Errorf("leader: %w", err))
	}
	if len(c.Followers) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one follower is required"))
	}

	seen := make(map[string]bool, len(c.Followers))
	for i, f := range c.Followers {
		if f.ID == "" || f.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("follower %d: ID and address cannot be empty", i))
			continue
		}
		if err := checkBaseURL(f.Addr); err != nil {
			result = multierror.Append(result, fmt.Errorf("follower %s: %w", f.ID, err))
		}
		if seen[f.ID] {
			result = multierror.Append(result, fmt.Errorf("duplicate follower ID: %s", f.ID))
		}
		seen[f.ID] = true
	}

	if c.NumKeys < 1 {
		result = multierror.Append(result, fmt.Errorf("num_keys must be positive, got %d", c.NumKeys))
	}
	if c.WritesPerKey < 1 {
		result = multierror.Append(result, fmt.Errorf("writes_per_key must be positive, got %d", c.WritesPerKey))
	}
	if c.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}

	if len(c.QuorumValues) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one quorum value is required"))
	}
	for _, q := range c.QuorumValues {
		if q < 1 {
			result = multierror.Append(result, fmt.Errorf("quorum values must be positive, got %d", q))
		}
	}

	if c.MinDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("min_delay cannot be negative"))
	}
	if c.MaxDelay < c.MinDelay {
		result = multierror.Append(result, fmt.Errorf("max_delay %s is below min_delay %s", c.MaxDelay, c.MinDelay))
	}
	if c.QuorumSettle < 0 || c.ConsistencySettle < 0 {
		result = multierror.Append(result, fmt.Errorf("settle delays cannot be negative"))
	}
	if c.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("request_timeout must be positive"))
	}

	if _, err := consistency.ParsePolicy(c.ConsistencyPolicy); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.LagerConfig(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// LagerConfig returns the logging settings in lagerflags form.
func (c Config) LagerConfig() (lagerflags.LagerConfig, error) {
	lagerConfig := lagerflags.DefaultLagerConfig()
	lagerConfig.RedactSecrets = c.RedactSecrets

	switch level := strings.ToLower(c.LogLevel); level {
	case lagerflags.DEBUG, lagerflags.INFO, lagerflags.ERROR, lagerflags.FATAL:
		lagerConfig.LogLevel = level
	case "":
	default:
		return lagerConfig, fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.TimeFormat != "" {
		if err := lagerConfig.TimeFormat.Set(c.TimeFormat); err != nil {
			return lagerConfig, err
		}
	}

	return lagerConfig, nil
}

// WorkloadSpec derives the per-step workload: keys key_0..key_{n-1}.
func (c Config) WorkloadSpec() workload.Spec {
	keys := make([]string, c.NumKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key_%d", i)
	}

	return workload.Spec{
		Keys:        keys,
		Repetitions: c.WritesPerKey,
		Concurrency: c.Concurrency,
	}
}

// FollowerAddrs returns follower addresses in configured order.
func (c Config) FollowerAddrs() []string {
	addrs := make([]string, len(c.Followers))
	for i, f := range c.Followers {
		addrs[i] = f.Addr
	}
	return addrs
}
