package report

import (
	"io"
	"strings"
)

const explanation = `
================================================================================
                          EXPLANATION OF METRICS
================================================================================

WHAT IS MEASURED
----------------
How the write quorum affects write latency in a single-leader key-value store
with semi-synchronous replication.

- Leader: accepts every write and replicates it to the followers
- Followers: receive replicated data from the leader
- Write quorum: number of followers that must acknowledge before a write
  is reported as successful

LATENCY METRICS
---------------

1. MEAN
   Sum of all latencies divided by their count. Sensitive to outliers: one
   slow request skews it.

2. MEDIAN (P50)
   The middle value of the sorted sample. Half of the writes were faster.
   Unaffected by extreme outliers.

3. P95
   95% of writes were at least this fast. The usual basis for an SLA.

4. P99
   99% of writes were at least this fast. This is the tail latency; at scale
   1% of millions of requests is thousands of slow requests.

Percentiles take the value at position floor(n*p), counted from zero, of the
ascending sample (the last value when that runs past the end).

EXAMPLE
-------
100 writes: 99 take 10ms, 1 takes 1000ms.

Mean   = (99*10 + 1000)/100 = 19.9ms   misleading, most writes took 10ms
Median = 10ms
P95    = 10ms
P99    = 1000ms                        the unlucky 1%

EXPECTED RESULTS
----------------
As the quorum grows from 1 to the number of followers:

1. Latency increases. The leader waits for more acknowledgements, and with
   random replication delays a larger quorum waits for slower followers.
   A quorum equal to the follower count waits for the slowest of them.

2. P95 and P99 grow faster than mean and median. Every extra follower in
   the quorum is another chance to hit a slow one.

3. The growth is not linear. The leader waits for the k-th fastest of n
   random delays, an order statistic.

CONSISTENCY RESULTS
-------------------
Only the quorum followers acknowledge synchronously. The rest receive the
write asynchronously, so with a quorum below the follower count some
followers may still lag when the workload ends. The consistency check runs
after a settle delay and reports, per follower, matching, mismatched and
missing keys, or unknown when the follower could not be reached.

Higher quorum: more consistency, higher latency.
Lower quorum: better latency, eventual consistency.

================================================================================
`

// WriteExplanation writes the explanation of the reported metrics.
func WriteExplanation(w io.Writer) error {
	_, err := io.Copy(w, strings.NewReader(explanation))
	return err
}
