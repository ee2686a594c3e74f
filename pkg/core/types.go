// Package core provides the shared data model, configuration and errors for
// profile change detection, plus the data-source contract the monitor
// consumes.
package core

import (
	"sort"
	"time"
)

// FetchMethod identifies how a snapshot's data was collected.
//
// Anonymous fetches may lack login-gated fields; the diff engine treats every
// absent field uniformly regardless of the method that produced it.
type FetchMethod string

const (
	// FetchAnonymous marks a snapshot collected without authentication.
	FetchAnonymous FetchMethod = "anonymous"

	// FetchAuthenticated marks a snapshot collected with a logged-in session.
	FetchAuthenticated FetchMethod = "authenticated"
)

// ProfileSnapshot is a single point-in-time capture of a subject's observable
// state. Optional fields are pointers: nil means the field was not available
// in this fetch, which is distinct from a zero value.
//
// A snapshot is immutable once committed to a Store.
type ProfileSnapshot struct {
	// Username identifies the monitored subject.
	Username string `json:"username"`

	// FetchedAt is when the snapshot was taken (UTC).
	FetchedAt time.Time `json:"fetched_at"`

	// Method records how the data was collected (anonymous or authenticated).
	Method FetchMethod `json:"method"`

	// Followers is the follower count, nil when not available.
	Followers *int64 `json:"followers,omitempty"`

	// Following is the following count, nil when not available.
	Following *int64 `json:"following,omitempty"`

	// Posts is the post count, nil when not available.
	Posts *int64 `json:"posts,omitempty"`

	// Biography is the profile bio text, nil when not available.
	Biography *string `json:"biography,omitempty"`

	// FullName is the display name, nil when not available.
	FullName *string `json:"full_name,omitempty"`

	// IsPrivate reports the account's privacy flag, nil when not available.
	IsPrivate *bool `json:"is_private,omitempty"`

	// IsVerified reports the verification flag, nil when not available.
	IsVerified *bool `json:"is_verified,omitempty"`

	// PictureURL is the current profile picture URL, empty when unknown.
	PictureURL string `json:"picture_url,omitempty"`

	// PictureHash is the content hash of the stored picture artifact.
	PictureHash string `json:"picture_hash,omitempty"`
}

// ChangeKind tags the variant of a detected Change.
type ChangeKind string

const (
	// ChangeCount reports a numeric field moving between two concrete values.
	ChangeCount ChangeKind = "count_changed"

	// ChangeText reports a text field changing after whitespace trimming.
	ChangeText ChangeKind = "text_changed"

	// ChangeBoolean reports a boolean field flipping between concrete values.
	ChangeBoolean ChangeKind = "boolean_flipped"

	// ChangeImage reports a profile picture transition.
	ChangeImage ChangeKind = "image_changed"

	// ChangeFriendJoined reports a username entering a friend relation.
	ChangeFriendJoined ChangeKind = "friend_joined"

	// ChangeFriendLeft reports a username leaving a friend relation.
	ChangeFriendLeft ChangeKind = "friend_left"
)

// Change is one detected difference between two snapshots. It is a plain
// comparable value: two Changes with the same tag and fields are the same
// change, which is what the dispatcher's dedup relies on.
type Change struct {
	// Kind is the change variant tag.
	Kind ChangeKind `json:"kind"`

	// Field names the snapshot field or friend relation the change belongs to.
	Field string `json:"field,omitempty"`

	// Subject carries the username for friend changes, or the image
	// transition name for image changes.
	Subject string `json:"subject,omitempty"`

	// OldCount and NewCount hold the numeric values for count changes.
	OldCount int64 `json:"old_count,omitempty"`
	NewCount int64 `json:"new_count,omitempty"`

	// OldText and NewText hold the trimmed values for text changes,
	// or "true"/"false" for boolean flips.
	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text,omitempty"`
}

// HistoryEntry is one record in a subject's append-only history.
//
// The sequence is monotonic by timestamp and never mutated; "latest" is a
// derived projection of the most recent snapshot.
type HistoryEntry struct {
	// ID is a unique snowflake identifier assigned at commit time.
	ID int64 `json:"id"`

	// Timestamp is when the entry was appended (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Changes lists the differences detected against the previous snapshot.
	// Empty on the baseline run.
	Changes []Change `json:"changes,omitempty"`

	// Snapshot is the raw snapshot the entry was derived from.
	Snapshot ProfileSnapshot `json:"snapshot"`
}

// FriendRelation names one of the two friend sets of a subject.
type FriendRelation string

const (
	// RelationFollowers is the set of accounts following the subject.
	RelationFollowers FriendRelation = "followers"

	// RelationFollowing is the set of accounts the subject follows.
	RelationFollowing FriendRelation = "following"
)

// FriendSet is a named relation for a subject at a point in time.
// Uniqueness is enforced; order is irrelevant.
type FriendSet struct {
	// Relation names the set (followers or following).
	Relation FriendRelation

	// users is the membership set.
	users map[string]struct{}
}

// NewFriendSet builds a FriendSet from a list of usernames, discarding
// duplicates.
func NewFriendSet(relation FriendRelation, usernames []string) FriendSet {
	s := FriendSet{Relation: relation, users: make(map[string]struct{}, len(usernames))}
	for _, u := range usernames {
		s.users[u] = struct{}{}
	}
	return s
}

// Contains reports whether the username is a member of the set.
func (s FriendSet) Contains(username string) bool {
	_, ok := s.users[username]
	return ok
}

// Len returns the number of members.
func (s FriendSet) Len() int {
	return len(s.users)
}

// Usernames returns the members sorted lexicographically.
func (s FriendSet) Usernames() []string {
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// FriendsSnapshot captures both friend relations of a subject at one time.
//
// Complete distinguishes a genuinely empty result from a failed fetch: the
// analyzer refuses snapshots with Complete=false rather than concluding that
// every friend left.
type FriendsSnapshot struct {
	// Username identifies the subject the sets belong to.
	Username string

	// FetchedAt is when the sets were collected (UTC).
	FetchedAt time.Time

	// Followers is the followers relation.
	Followers FriendSet

	// Following is the following relation.
	Following FriendSet

	// Complete is the explicit fetch-success flag. An empty set with
	// Complete=true means the account truly has no friends in that relation.
	Complete bool
}

// FriendCategory names a partition of the union of the two friend sets.
type FriendCategory string

const (
	// CategoryMutual is followers ∩ following.
	CategoryMutual FriendCategory = "mutual"

	// CategoryFollowersOnly is followers − following.
	CategoryFollowersOnly FriendCategory = "followers_only"

	// CategoryFollowingOnly is following − followers.
	CategoryFollowingOnly FriendCategory = "following_only"

	// CategoryManual marks queue entries added by hand rather than derived
	// from a friends analysis. Always the lowest priority.
	CategoryManual FriendCategory = "manual"
)

// RelationDiff is the joined/left outcome for one relation between two
// friends snapshots.
type RelationDiff struct {
	// Relation names the compared set.
	Relation FriendRelation `json:"relation"`

	// Joined lists usernames present now but not before, sorted.
	Joined []string `json:"joined,omitempty"`

	// Left lists usernames present before but not now, sorted.
	Left []string `json:"left,omitempty"`
}

// FriendCategories is the derived three-way partition of the union of the two
// friend sets at the current snapshot time. The three slices are pairwise
// disjoint and their union equals followers ∪ following.
type FriendCategories struct {
	// Mutual is followers ∩ following, sorted.
	Mutual []string `json:"mutual,omitempty"`

	// FollowersOnly is followers − following, sorted.
	FollowersOnly []string `json:"followers_only,omitempty"`

	// FollowingOnly is following − followers, sorted.
	FollowingOnly []string `json:"following_only,omitempty"`
}

// FriendsAnalysis is the complete result of comparing two friends snapshots.
type FriendsAnalysis struct {
	// Username identifies the analyzed subject.
	Username string `json:"username"`

	// AnalyzedAt is when the analysis was computed (UTC).
	AnalyzedAt time.Time `json:"analyzed_at"`

	// Followers and Following hold the per-relation joined/left sets.
	Followers RelationDiff `json:"followers"`
	Following RelationDiff `json:"following"`

	// Categories is the mutual/followers-only/following-only partition at
	// the current snapshot time.
	Categories FriendCategories `json:"categories"`

	// Baseline is true when there was no previous snapshot to compare
	// against; Joined and Left are empty in that case.
	Baseline bool `json:"baseline,omitempty"`
}

// Changes converts the per-relation joined/left sets into Change values for
// dispatching. Usernames are already sorted, so the output order is stable.
func (a *FriendsAnalysis) Changes() []Change {
	var out []Change
	for _, d := range []RelationDiff{a.Followers, a.Following} {
		for _, u := range d.Joined {
			out = append(out, Change{Kind: ChangeFriendJoined, Field: string(d.Relation), Subject: u})
		}
		for _, u := range d.Left {
			out = append(out, Change{Kind: ChangeFriendLeft, Field: string(d.Relation), Subject: u})
		}
	}
	return out
}

// QueueState is the lifecycle state of a QueueEntry.
//
// Entries move Queued → Processing → Cooldown → Queued; Stalled is reached
// when the retry ceiling is exceeded and only an explicit reset leaves it.
type QueueState string

const (
	// StateQueued means the entry is eligible for the next batch.
	StateQueued QueueState = "queued"

	// StateProcessing means the entry was selected and is being worked on.
	StateProcessing QueueState = "processing"

	// StateCooldown means the entry finished successfully and waits out the
	// minimum revisit interval.
	StateCooldown QueueState = "cooldown"

	// StateStalled means the entry exceeded the retry ceiling and is
	// excluded from batches until manually reset.
	StateStalled QueueState = "stalled"
)

// QueueEntry is one account in the persistent monitoring queue.
// The queue holds at most one entry per username.
type QueueEntry struct {
	// Username identifies the queued account.
	Username string `json:"username"`

	// Category is the friend category that put the entry in the queue.
	// Re-adding under a higher-ranked category upgrades it in place.
	Category FriendCategory `json:"category"`

	// State is the entry's lifecycle state.
	State QueueState `json:"state"`

	// Priority is the numeric weight derived from Category; higher is
	// selected first.
	Priority int `json:"priority"`

	// EnqueuedAt is when the username was first discovered. It is kept
	// across re-enqueues.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// LastProcessedAt is when the entry last completed successfully,
	// nil if never processed.
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`

	// Attempts counts consecutive failed processing attempts.
	Attempts int `json:"attempts"`

	// RetryAt is the earliest time a failed entry may be retried,
	// nil when no backoff is pending.
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

// NotificationEvent is one outbound event produced by the dispatcher.
// The core is agnostic to the delivering transport.
type NotificationEvent struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Kind mirrors the originating change kind, or "milestone" for
	// follower milestone events.
	Kind string `json:"kind"`

	// Subject is the monitored account the event is about.
	Subject string `json:"subject"`

	// Payload carries the event details for the transport layer.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// EventMilestone is the Kind of follower milestone events.
const EventMilestone = "milestone"

// Int64Ptr returns a pointer to v. Convenience for building snapshots with
// optional numeric fields.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
