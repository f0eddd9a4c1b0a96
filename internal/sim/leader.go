package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager"
	"github.com/tedsuo/rata"

	"quorumbench/internal/store"
)

// Settings control how the leader replicates writes.
type Settings struct {
	WriteQuorum int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Leader accepts client writes, applies them locally, and replicates them to
// its followers.
type Leader struct {
	logger    lager.Logger
	clock     clock.Clock
	store     *Store
	followers []string
	clients   *ClientManager

	mu       sync.RWMutex
	settings Settings
}

// NewLeader creates a leader replicating to the given follower gRPC
// addresses. The initial write quorum is a majority of the followers and
// replication is not delayed.
func NewLeader(logger lager.Logger, clk clock.Clock, followers []string, clients *ClientManager) *Leader {
	return &Leader{
		logger:    logger.Session("leader"),
		clock:     clk,
		store:     NewStore(),
		followers: followers,
		clients:   clients,
		settings: Settings{
			WriteQuorum: len(followers)/2 + 1,
		},
	}
}

func (l *Leader) Store() *Store {
	return l.store
}

func (l *Leader) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.settings
}

// Configure replaces the replication settings. The quorum must be between
// one and the number of followers.
func (l *Leader) Configure(s Settings) error {
	if s.WriteQuorum < 1 || s.WriteQuorum > len(l.followers) {
		return fmt.Errorf("write quorum %d out of range [1, %d]", s.WriteQuorum, len(l.followers))
	}
	if s.MinDelay < 0 || s.MaxDelay < s.MinDelay {
		return fmt.Errorf("invalid delay range [%s, %s]", s.MinDelay, s.MaxDelay)
	}

	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()

	l.logger.Info("configured", lager.Data{
		"write-quorum": s.WriteQuorum,
		"min-delay":    s.MinDelay.String(),
		"max-delay":    s.MaxDelay.String(),
	})
	return nil
}

// Set applies a write locally and replicates it. It returns once the write
// quorum is met or cannot be met any more.
func (l *Leader) Set(ctx context.Context, key, value string) ReplicationResult {
	l.store.Put(key, value)

	settings := l.Settings()
	timeout := settings.MaxDelay + DefaultReplicaTimeout

	return ReplicateWrite(ctx, l.followers, settings.WriteQuorum, timeout, func(ctx context.Context, addr string) error {
		if err := l.delay(ctx, settings); err != nil {
			return err
		}

		client, err := l.clients.Get(addr)
		if err != nil {
			return err
		}
		return client.Apply(ctx, key, value)
	})
}

// delay waits a uniformly random duration within the configured range.
func (l *Leader) delay(ctx context.Context, s Settings) error {
	d := s.MinDelay
	if spread := s.MaxDelay - s.MinDelay; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	if d <= 0 {
		return nil
	}

	timer := l.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler serves store.LeaderRoutes.
func (l *Leader) Handler() (http.Handler, error) {
	return rata.NewRouter(store.LeaderRoutes, rata.Handlers{
		store.ConfigureQuorumRoute: http.HandlerFunc(l.handleConfig),
		store.SetRoute:             http.HandlerFunc(l.handleSet),
		store.DumpRoute:            dumpHandler(l.store),
	})
}

func (l *Leader) handleConfig(w http.ResponseWriter, r *http.Request) {
	logger := l.logger.Session("handle-config")

	var req store.QuorumConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed-to-decode-request", err)
		http.Error(w, "malformed config", http.StatusBadRequest)
		return
	}

	err := l.Configure(Settings{
		WriteQuorum: req.WriteQuorum,
		MinDelay:    time.Duration(req.MinDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(req.MaxDelayMs) * time.Millisecond,
	})
	if err != nil {
		logger.Error("invalid-config", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (l *Leader) handleSet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	value := r.URL.Query().Get("value")

	result := l.Set(r.Context(), key, value)
	if !result.Success() {
		l.logger.Debug("write-failed", lager.Data{"key": key, "acks": result.Acks, "error": result.Err.Error()})
	}

	writeJSON(w, http.StatusOK, store.SetResponse{Success: result.Success()})
}

func dumpHandler(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(obj)
}
