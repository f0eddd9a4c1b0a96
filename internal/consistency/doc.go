// Package consistency compares the leader's key space with each follower's
// after a campaign and classifies every leader key as matching, mismatched,
// missing or unknown.
package consistency
