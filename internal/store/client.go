package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager"
	"github.com/tedsuo/rata"
)

// DefaultRequestTimeout bounds every request issued by the client.
const DefaultRequestTimeout = 5 * time.Second

// ErrNotAcknowledged is returned when the leader answers 200 but the body
// does not report success.
var ErrNotAcknowledged = errors.New("write not acknowledged by leader")

// QuorumConfig is the body of POST /config.
type QuorumConfig struct {
	WriteQuorum int   `json:"WriteQuorum"`
	MinDelayMs  int64 `json:"MinDelayMs"`
	MaxDelayMs  int64 `json:"MaxDelayMs"`
}

// SetResponse is the body returned by POST /set.
type SetResponse struct {
	Success bool `json:"success"`
}

// Dump is the full key space observed on one node. A dump that could not be
// fetched is marked unreachable so callers can tell it apart from an empty
// store.
type Dump struct {
	Node      string
	Data      map[string]string
	Reachable bool
	Err       error
}

// Client talks to the leader (writes, configuration) and to any node (dumps).
// It never retries; every request carries its own deadline.
type Client struct {
	logger     lager.Logger
	clock      clock.Clock
	httpClient *http.Client
	timeout    time.Duration

	requestGenerator *rata.RequestGenerator
}

// NewClient creates a client for the given leader. maxConns sizes the shared
// connection pool and should match the write concurrency.
func NewClient(logger lager.Logger, clk clock.Clock, leaderAddr string, timeout time.Duration, maxConns int) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if maxConns < 1 {
		maxConns = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConns * 2
	transport.MaxIdleConnsPerHost = maxConns

	leaderAddr = strings.TrimRight(leaderAddr, "/")

	return &Client{
		logger:     logger.Session("store-client", lager.Data{"leader": leaderAddr}),
		clock:      clk,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,

		requestGenerator: rata.NewRequestGenerator(leaderAddr, LeaderRoutes),
	}
}

// ConfigureQuorum asks the leader to use the given write quorum and
// replication delay bounds. It reports false on any failure; the caller
// decides whether to skip.
func (c *Client) ConfigureQuorum(ctx context.Context, quorum int, minDelay, maxDelay time.Duration) bool {
	logger := c.logger.Session("configure-quorum", lager.Data{"quorum": quorum})

	body, err := json.Marshal(QuorumConfig{
		WriteQuorum: quorum,
		MinDelayMs:  minDelay.Milliseconds(),
		MaxDelayMs:  maxDelay.Milliseconds(),
	})
	if err != nil {
		logger.Error("failed-marshaling-config", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.requestGenerator.CreateRequest(ConfigureQuorumRoute, nil, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed-building-request", err)
		return false
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed-to-set-quorum", err)
		return false
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		logger.Error("failed-to-set-quorum", fmt.Errorf("unexpected status code %d", resp.StatusCode))
		return false
	}

	logger.Debug("quorum-set")
	return true
}

// Write sets key=value on the leader and returns the elapsed time of the
// request, measured until the response arrives. A write succeeds only on
// status 200 with {"success": true}; anything else is returned as an error.
func (c *Client) Write(ctx context.Context, key, value string) (time.Duration, error) {
	params := url.Values{}
	params.Set("key", key)
	params.Set("value", value)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.requestGenerator.CreateRequest(SetRoute, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req = req.WithContext(ctx)
	req.URL.RawQuery = params.Encode()

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := c.clock.Since(start)
	if err != nil {
		c.logger.Debug("write-failed", lager.Data{"key": key, "error": err.Error()})
		return elapsed, err
	}
	defer drain(resp)

	if err := checkSetResponse(resp); err != nil {
		c.logger.Debug("write-failed", lager.Data{"key": key, "error": err.Error()})
		return elapsed, err
	}
	return elapsed, nil
}

func checkSetResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var body SetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}
	if !body.Success {
		return ErrNotAcknowledged
	}
	return nil
}

// Dump fetches the full key space of a node. Failures are reported through
// an unreachable Dump with an empty, non-nil map.
func (c *Client) Dump(ctx context.Context, nodeAddr string) Dump {
	logger := c.logger.Session("dump", lager.Data{"node": nodeAddr})

	data, err := c.fetchDump(ctx, strings.TrimRight(nodeAddr, "/"))
	if err != nil {
		logger.Error("failed-to-get-data", err)
		return Dump{
			Node: nodeAddr,
			Data: map[string]string{},
			Err:  err,
		}
	}

	logger.Debug("dumped", lager.Data{"keys": len(data)})
	return Dump{
		Node:      nodeAddr,
		Data:      data,
		Reachable: true,
	}
}

func (c *Client) fetchDump(ctx context.Context, nodeAddr string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := rata.NewRequestGenerator(nodeAddr, NodeRoutes).CreateRequest(DumpRoute, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("malformed dump body: %w", err)
	}
	if data == nil {
		// a literal null body
		data = map[string]string{}
	}
	return data, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
