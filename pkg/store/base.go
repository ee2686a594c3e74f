// Package store provides interfaces and record types for snapshot
// persistence backends.
//
// It defines the Store interface that all backends must satisfy, along with
// the serialized record shapes shared by the file, sqlite and postgres
// implementations.
package store

import (
	"context"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// SchemaVersion tags persisted history and friends records so readers can
// apply best-effort extraction to records written by other versions.
const SchemaVersion = 2

// CommitOptions bounds the retention applied when committing a snapshot.
type CommitOptions struct {
	// HistoryKeep is the number of history entries retained per subject.
	// Zero means core.DefaultHistoryKeep.
	HistoryKeep int

	// ChangesKeep is the number of change-bearing entries retained in the
	// changes record. Zero means core.DefaultChangesKeep.
	ChangesKeep int
}

// Store is the persistence contract for one monitoring data set.
//
// All state is keyed by subject username; one invocation touches a subject
// at a time, so implementations need no cross-subject coordination. A failed
// fetch never reaches the store: callers short-circuit before committing, so
// a commit always carries a complete snapshot.
type Store interface {
	// LatestSnapshot returns the most recent committed snapshot for the
	// subject, or core.ErrNotFound when the subject has never been seen.
	LatestSnapshot(ctx context.Context, username string) (*core.ProfileSnapshot, error)

	// CommitSnapshot atomically replaces the subject's latest projection
	// and appends the entry to its history, trimming retention per opts.
	// Entries with changes are additionally appended to the changes record.
	CommitSnapshot(ctx context.Context, entry *core.HistoryEntry, opts CommitOptions) error

	// History returns the subject's retained history entries, oldest first.
	History(ctx context.Context, username string) ([]core.HistoryEntry, error)

	// RecentChanges returns the retained change-bearing entries, oldest
	// first.
	RecentChanges(ctx context.Context, username string) ([]core.HistoryEntry, error)

	// LatestFriends returns the most recent committed friends snapshot,
	// or core.ErrNotFound when none exists.
	LatestFriends(ctx context.Context, username string) (*core.FriendsSnapshot, error)

	// SaveFriends replaces the subject's friends snapshot and records the
	// analysis derived from it.
	SaveFriends(ctx context.Context, snapshot *core.FriendsSnapshot, analysis *core.FriendsAnalysis) error

	// LoadQueue returns the persisted monitoring queue entries. An empty
	// queue is an empty slice, not an error.
	LoadQueue(ctx context.Context) ([]core.QueueEntry, error)

	// SaveQueue persists the queue entries, replacing the previous state.
	// The round trip SaveQueue → LoadQueue is exact, including attempt
	// counts and timestamps.
	SaveQueue(ctx context.Context, entries []core.QueueEntry) error

	// CurrentImage returns the subject's current picture artifact, or
	// core.ErrNotFound when none is stored.
	CurrentImage(ctx context.Context, username string) ([]byte, error)

	// SaveImage stores data as the subject's current picture. When
	// archiveOld is true the previous artifact is retained under a
	// timestamped name before being replaced.
	SaveImage(ctx context.Context, username string, data []byte, archiveOld bool) error

	// Close releases backend resources.
	Close() error
}

// FriendsRecord is the serialized shape of a core.FriendsSnapshot. The
// relation sets are stored as sorted username lists.
type FriendsRecord struct {
	SchemaVersion int       `json:"schema_version"`
	Username      string    `json:"username"`
	FetchedAt     time.Time `json:"fetched_at"`
	Followers     []string  `json:"followers"`
	Following     []string  `json:"following"`
	Complete      bool      `json:"complete"`
}

// NewFriendsRecord converts a snapshot to its serialized shape.
func NewFriendsRecord(s *core.FriendsSnapshot) FriendsRecord {
	return FriendsRecord{
		SchemaVersion: SchemaVersion,
		Username:      s.Username,
		FetchedAt:     s.FetchedAt,
		Followers:     s.Followers.Usernames(),
		Following:     s.Following.Usernames(),
		Complete:      s.Complete,
	}
}

// Snapshot converts the record back to a core.FriendsSnapshot.
//
// Records persisted by this store were written after a successful fetch, so
// a record missing the completeness marker (older schema) is treated as
// complete.
func (r FriendsRecord) Snapshot() *core.FriendsSnapshot {
	complete := r.Complete
	if r.SchemaVersion < 2 {
		complete = true
	}
	return &core.FriendsSnapshot{
		Username:  r.Username,
		FetchedAt: r.FetchedAt,
		Followers: core.NewFriendSet(core.RelationFollowers, r.Followers),
		Following: core.NewFriendSet(core.RelationFollowing, r.Following),
		Complete:  complete,
	}
}

// HistoryRecord is the serialized shape of a subject's history file: a
// schema-tagged, append-only entry sequence.
type HistoryRecord struct {
	SchemaVersion int                 `json:"schema_version"`
	Username      string              `json:"username"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Entries       []core.HistoryEntry `json:"entries"`
}

// QueueRecord is the serialized shape of the monitoring queue: a
// schema-tagged entry list ordered by username.
type QueueRecord struct {
	SchemaVersion int               `json:"schema_version"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Entries       []core.QueueEntry `json:"entries"`
}

// QuickStats is the lightweight summary projection written next to the
// latest snapshot for dashboard consumption.
type QuickStats struct {
	Username    string    `json:"username"`
	Followers   int64     `json:"followers"`
	Following   int64     `json:"following"`
	Posts       int64     `json:"posts"`
	IsPrivate   bool      `json:"is_private"`
	IsVerified  bool      `json:"is_verified"`
	Method      string    `json:"method"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewQuickStats projects a snapshot into its summary shape. Absent optional
// fields project as zero values.
func NewQuickStats(s *core.ProfileSnapshot) QuickStats {
	stats := QuickStats{
		Username:    s.Username,
		Method:      string(s.Method),
		LastUpdated: s.FetchedAt,
	}
	if s.Followers != nil {
		stats.Followers = *s.Followers
	}
	if s.Following != nil {
		stats.Following = *s.Following
	}
	if s.Posts != nil {
		stats.Posts = *s.Posts
	}
	if s.IsPrivate != nil {
		stats.IsPrivate = *s.IsPrivate
	}
	if s.IsVerified != nil {
		stats.IsVerified = *s.IsVerified
	}
	return stats
}
