package consistency

import (
	"fmt"
	"sort"

	"quorumbench/internal/store"
)

// MaxMismatchedExamples bounds the mismatched keys kept per follower.
const MaxMismatchedExamples = 3

// Policy decides how an unreachable follower is scored.
type Policy string

const (
	// PolicyUnknown scores every leader key as unknown.
	PolicyUnknown Policy = "unknown"
	// PolicyTreatAsEmpty scores the follower as an empty store, so every
	// leader key counts as missing.
	PolicyTreatAsEmpty Policy = "treat-as-empty"
)

// ParsePolicy validates a policy name. The empty string selects
// PolicyUnknown.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyUnknown:
		return PolicyUnknown, nil
	case PolicyTreatAsEmpty:
		return PolicyTreatAsEmpty, nil
	default:
		return "", fmt.Errorf("invalid consistency policy: %q (expected %q or %q)", s, PolicyUnknown, PolicyTreatAsEmpty)
	}
}

// Record is the comparison of one follower against the leader. Matching,
// Mismatched, Missing and Unknown always add up to the leader's key count.
type Record struct {
	Follower           string   `json:"follower"`
	Reachable          bool     `json:"reachable"`
	FollowerKeys       int      `json:"follower_keys"`
	Matching           int      `json:"matching"`
	Mismatched         int      `json:"mismatched"`
	Missing            int      `json:"missing"`
	Unknown            int      `json:"unknown"`
	MismatchedExamples []string `json:"mismatched_examples,omitempty"`
	Error              string   `json:"error,omitempty"`
	// TreatedAsEmpty marks an unreachable follower scored as an empty store.
	TreatedAsEmpty bool `json:"treated_as_empty,omitempty"`
}

// Consistent reports whether the follower holds every leader key with the
// leader's value. An unreachable follower is only consistent when it was
// scored as empty and the leader holds nothing.
func (r Record) Consistent() bool {
	if !r.Reachable && !r.TreatedAsEmpty {
		return false
	}
	return r.Mismatched == 0 && r.Missing == 0 && r.Unknown == 0
}

// Report is the outcome of one consistency check. Followers are in
// configured order.
type Report struct {
	LeaderKeys      int      `json:"leader_keys"`
	LeaderReachable bool     `json:"leader_reachable"`
	LeaderError     string   `json:"leader_error,omitempty"`
	Followers       []Record `json:"followers"`
}

// Consistent reports whether the leader was reached and every follower
// is consistent with it.
func (r Report) Consistent() bool {
	if !r.LeaderReachable {
		return false
	}
	for _, f := range r.Followers {
		if !f.Consistent() {
			return false
		}
	}
	return true
}

// Check compares one follower's data against the leader's. Leader keys are
// visited in ascending order, so the mismatched examples are the
// lexicographically smallest mismatched keys. Keys held only by the
// follower are ignored.
func Check(leader, follower map[string]string, followerName string) Record {
	record := Record{
		Follower:     followerName,
		Reachable:    true,
		FollowerKeys: len(follower),
	}

	for _, key := range sortedKeys(leader) {
		value, ok := follower[key]
		switch {
		case !ok:
			record.Missing++
		case value != leader[key]:
			record.Mismatched++
			if len(record.MismatchedExamples) < MaxMismatchedExamples {
				record.MismatchedExamples = append(record.MismatchedExamples, key)
			}
		default:
			record.Matching++
		}
	}

	return record
}

// CheckAll compares every follower dump against the leader dump.
func CheckAll(leader store.Dump, followers []store.Dump, policy Policy) Report {
	report := Report{
		LeaderReachable: leader.Reachable,
		Followers:       make([]Record, 0, len(followers)),
	}

	leaderData := leader.Data
	if !leader.Reachable {
		report.LeaderError = errString(leader.Err)
		leaderData = map[string]string{}
	}
	report.LeaderKeys = len(leaderData)

	for _, f := range followers {
		if f.Reachable {
			report.Followers = append(report.Followers, Check(leaderData, f.Data, f.Node))
			continue
		}

		var record Record
		if policy == PolicyTreatAsEmpty {
			record = Check(leaderData, map[string]string{}, f.Node)
			record.TreatedAsEmpty = true
		} else {
			record = Record{Follower: f.Node, Unknown: len(leaderData)}
		}
		record.Reachable = false
		record.Error = errString(f.Err)
		report.Followers = append(report.Followers, record)
	}

	return report
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
