package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DefaultReplicaTimeout bounds one replication RPC, on top of any injected
// replication delay.
const DefaultReplicaTimeout = 2 * time.Second

// ApplyFunc replicates a write to a single follower.
type ApplyFunc func(ctx context.Context, follower string) error

// ReplicationResult is the outcome of one semi-synchronous write as seen by
// the leader at the moment it answered the client.
type ReplicationResult struct {
	Acks      int
	Failures  int
	Required  int
	Followers int
	Err       error
}

// Success reports whether the write quorum was met.
func (r ReplicationResult) Success() bool {
	return r.Err == nil && r.Acks >= r.Required
}

// ReplicateWrite fans a write out to every follower and returns as soon as
// quorum followers have acknowledged it, or once every follower has
// answered. Replication to the remaining followers continues in the
// background after it returns and is not cancelled with ctx; each follower
// gets at most timeout.
func ReplicateWrite(ctx context.Context, followers []string, quorum int, timeout time.Duration, apply ApplyFunc) ReplicationResult {
	result := ReplicationResult{
		Required:  quorum,
		Followers: len(followers),
	}

	if quorum < 1 || quorum > len(followers) {
		result.Err = fmt.Errorf("write quorum %d out of range [1, %d]", quorum, len(followers))
		return result
	}

	if timeout <= 0 {
		timeout = DefaultReplicaTimeout
	}
	replicaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	responses := make(chan error, len(followers))
	var wg sync.WaitGroup
	for _, follower := range followers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			if err := apply(replicaCtx, addr); err != nil {
				responses <- fmt.Errorf("follower %s: %w", addr, err)
				return
			}
			responses <- nil
		}(follower)
	}

	go func() {
		wg.Wait()
		cancel()
	}()

	var errs *multierror.Error
	for answered := 0; answered < len(followers); answered++ {
		select {
		case err := <-responses:
			if err != nil {
				result.Failures++
				errs = multierror.Append(errs, err)
				continue
			}

			result.Acks++
			if result.Acks >= quorum {
				return result
			}

		case <-ctx.Done():
			result.Err = fmt.Errorf("waiting for quorum: %w", ctx.Err())
			return result
		}
	}

	result.Err = fmt.Errorf("quorum not met: acks=%d required=%d followers=%d: %w",
		result.Acks, quorum, len(followers), errs.ErrorOrNil())
	return result
}
