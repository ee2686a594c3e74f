package diff

import (
	"sort"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// Analyzer computes joined/left sets between two friends snapshots and the
// mutual/followers-only/following-only categorization at the current time.
//
// The analyzer refuses snapshots whose Complete flag is false: an empty but
// erroneous result must never be read as "all friends lost".
type Analyzer struct{}

// NewAnalyzer creates a new friends analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze compares previous and current and returns the full analysis.
//
// If previous is nil (first observation), Joined and Left are empty and the
// result is marked Baseline; the categorization is still computed from the
// current snapshot.
//
// Returns ErrIncompleteFriends when current (or a non-nil previous) has
// Complete=false.
func (a *Analyzer) Analyze(previous, current *core.FriendsSnapshot) (*core.FriendsAnalysis, error) {
	if current == nil || !current.Complete {
		return nil, core.NewMonitorError("Analyze", core.ErrIncompleteFriends)
	}
	if previous != nil && !previous.Complete {
		return nil, core.NewMonitorError("Analyze", core.ErrIncompleteFriends)
	}

	analysis := &core.FriendsAnalysis{
		Username:   current.Username,
		AnalyzedAt: time.Now().UTC(),
		Followers:  core.RelationDiff{Relation: core.RelationFollowers},
		Following:  core.RelationDiff{Relation: core.RelationFollowing},
		Categories: categorize(current.Followers, current.Following),
		Baseline:   previous == nil,
	}

	if previous != nil {
		analysis.Followers.Joined, analysis.Followers.Left = setDiff(previous.Followers, current.Followers)
		analysis.Following.Joined, analysis.Following.Left = setDiff(previous.Following, current.Following)
	}

	return analysis, nil
}

// setDiff returns (current − previous, previous − current), both sorted.
func setDiff(previous, current core.FriendSet) (joined, left []string) {
	for _, u := range current.Usernames() {
		if !previous.Contains(u) {
			joined = append(joined, u)
		}
	}
	for _, u := range previous.Usernames() {
		if !current.Contains(u) {
			left = append(left, u)
		}
	}
	return joined, left
}

// categorize partitions followers ∪ following into mutual, followers-only
// and following-only. The three slices are pairwise disjoint and cover the
// union exactly.
func categorize(followers, following core.FriendSet) core.FriendCategories {
	var cats core.FriendCategories
	for _, u := range followers.Usernames() {
		if following.Contains(u) {
			cats.Mutual = append(cats.Mutual, u)
		} else {
			cats.FollowersOnly = append(cats.FollowersOnly, u)
		}
	}
	for _, u := range following.Usernames() {
		if !followers.Contains(u) {
			cats.FollowingOnly = append(cats.FollowingOnly, u)
		}
	}
	sort.Strings(cats.Mutual)
	sort.Strings(cats.FollowersOnly)
	sort.Strings(cats.FollowingOnly)
	return cats
}
