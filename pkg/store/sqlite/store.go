// Package sqlite provides the SQLite persistence backend.
//
// SQLite is a lightweight, file-based database suitable for local
// deployments. Snapshots and change lists are stored as JSON strings in
// TEXT fields; pictures are stored as BLOBs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/store"
)

// Store implements store.Store using SQLite as the backend.
type Store struct {
	// db is the SQLite database connection.
	db *sql.DB
}

// Config contains configuration for creating a SQLite Store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewStore creates a new SQLite store.
//
// Parameters:
//   - cfg: Configuration containing the database path
//
// Returns:
//   - *Store: The SQLite store instance
//   - error: Error if database connection or table creation fails
func NewStore(cfg *Config) (*Store, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteStore: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteStore: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteStore: %w", err)
	}

	s := &Store{db: db}

	if err := s.initTables(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// initTables initializes the database table structure.
func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS latest (
			username TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			changes TEXT,
			snapshot TEXT NOT NULL,
			has_changes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_username ON history(username, timestamp)`,
		`CREATE TABLE IF NOT EXISTS friends (
			username TEXT PRIMARY KEY,
			fetched_at DATETIME NOT NULL,
			followers TEXT NOT NULL,
			following TEXT NOT NULL,
			complete INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS queue (
			username TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			state TEXT NOT NULL,
			priority INTEGER NOT NULL,
			enqueued_at DATETIME NOT NULL,
			last_processed_at DATETIME,
			attempts INTEGER NOT NULL DEFAULT 0,
			retry_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_username ON images(username, is_current)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// LatestSnapshot returns the subject's latest committed snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, username string) (*core.ProfileSnapshot, error) {
	var snapshotJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM latest WHERE username = ?`, username,
	).Scan(&snapshotJSON)
	if err == sql.ErrNoRows {
		return nil, core.NewMonitorError("LatestSnapshot", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("LatestSnapshot: %w", err)
	}

	var snapshot core.ProfileSnapshot
	if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
		return nil, fmt.Errorf("LatestSnapshot: parse snapshot: %w", err)
	}
	return &snapshot, nil
}

// CommitSnapshot appends a history entry and updates the latest projection
// in one transaction, then trims retained rows past the configured limits.
func (s *Store) CommitSnapshot(ctx context.Context, entry *core.HistoryEntry, opts store.CommitOptions) error {
	username := entry.Snapshot.Username

	historyKeep := opts.HistoryKeep
	if historyKeep <= 0 {
		historyKeep = core.DefaultHistoryKeep
	}

	snapshotJSON, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	hasChanges := 0
	if len(entry.Changes) > 0 {
		hasChanges = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (id, username, timestamp, changes, snapshot, has_changes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, username, entry.Timestamp, string(changesJSON), string(snapshotJSON), hasChanges,
	)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE username = ? AND id NOT IN (
			SELECT id FROM history WHERE username = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		)`,
		username, username, historyKeep,
	)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO latest (username, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		username, string(snapshotJSON), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}
	return nil
}

// History returns the retained history entries, oldest first.
func (s *Store) History(ctx context.Context, username string) ([]core.HistoryEntry, error) {
	return s.queryEntries(ctx, "History", username, false, 0)
}

// RecentChanges returns the retained change-bearing entries, oldest first.
func (s *Store) RecentChanges(ctx context.Context, username string) ([]core.HistoryEntry, error) {
	return s.queryEntries(ctx, "RecentChanges", username, true, core.DefaultChangesKeep)
}

func (s *Store) queryEntries(ctx context.Context, op, username string, changesOnly bool, limit int) ([]core.HistoryEntry, error) {
	query := `SELECT id, timestamp, changes, snapshot FROM history WHERE username = ?`
	if changesOnly {
		query += ` AND has_changes = 1`
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []core.HistoryEntry
	for rows.Next() {
		var entry core.HistoryEntry
		var changesJSON, snapshotJSON string
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &changesJSON, &snapshotJSON); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if changesJSON != "" {
			if err := json.Unmarshal([]byte(changesJSON), &entry.Changes); err != nil {
				return nil, fmt.Errorf("%s: parse changes: %w", op, err)
			}
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("%s: parse snapshot: %w", op, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// LatestFriends returns the subject's friends snapshot.
func (s *Store) LatestFriends(ctx context.Context, username string) (*core.FriendsSnapshot, error) {
	var fetchedAt time.Time
	var followersJSON, followingJSON string
	var complete int
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_at, followers, following, complete FROM friends WHERE username = ?`, username,
	).Scan(&fetchedAt, &followersJSON, &followingJSON, &complete)
	if err == sql.ErrNoRows {
		return nil, core.NewMonitorError("LatestFriends", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("LatestFriends: %w", err)
	}

	record := store.FriendsRecord{
		SchemaVersion: store.SchemaVersion,
		Username:      username,
		FetchedAt:     fetchedAt,
		Complete:      complete != 0,
	}
	if err := json.Unmarshal([]byte(followersJSON), &record.Followers); err != nil {
		return nil, fmt.Errorf("LatestFriends: parse followers: %w", err)
	}
	if err := json.Unmarshal([]byte(followingJSON), &record.Following); err != nil {
		return nil, fmt.Errorf("LatestFriends: parse following: %w", err)
	}
	return record.Snapshot(), nil
}

// SaveFriends upserts the friends snapshot. The analysis is derivable from
// consecutive snapshots, so the relational backend stores only the snapshot.
func (s *Store) SaveFriends(ctx context.Context, snapshot *core.FriendsSnapshot, analysis *core.FriendsAnalysis) error {
	record := store.NewFriendsRecord(snapshot)

	followersJSON, err := json.Marshal(record.Followers)
	if err != nil {
		return fmt.Errorf("SaveFriends: %w", err)
	}
	followingJSON, err := json.Marshal(record.Following)
	if err != nil {
		return fmt.Errorf("SaveFriends: %w", err)
	}

	complete := 0
	if record.Complete {
		complete = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO friends (username, fetched_at, followers, following, complete)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			followers = excluded.followers,
			following = excluded.following,
			complete = excluded.complete`,
		record.Username, record.FetchedAt, string(followersJSON), string(followingJSON), complete,
	)
	if err != nil {
		return fmt.Errorf("SaveFriends: %w", err)
	}
	return nil
}

// LoadQueue returns the persisted queue entries.
func (s *Store) LoadQueue(ctx context.Context) ([]core.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, category, state, priority, enqueued_at, last_processed_at, attempts, retry_at
		 FROM queue ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("LoadQueue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []core.QueueEntry
	for rows.Next() {
		var entry core.QueueEntry
		var category, state string
		var lastProcessed, retryAt sql.NullTime
		if err := rows.Scan(&entry.Username, &category, &state, &entry.Priority,
			&entry.EnqueuedAt, &lastProcessed, &entry.Attempts, &retryAt); err != nil {
			return nil, fmt.Errorf("LoadQueue: %w", err)
		}
		entry.Category = core.FriendCategory(category)
		entry.State = core.QueueState(state)
		if lastProcessed.Valid {
			entry.LastProcessedAt = &lastProcessed.Time
		}
		if retryAt.Valid {
			entry.RetryAt = &retryAt.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadQueue: %w", err)
	}
	return entries, nil
}

// SaveQueue replaces the persisted queue with the given entries.
func (s *Store) SaveQueue(ctx context.Context, entries []core.QueueEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveQueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue`); err != nil {
		return fmt.Errorf("SaveQueue: %w", err)
	}

	if len(entries) > 0 {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO queue (username, category, state, priority, enqueued_at, last_processed_at, attempts, retry_at) VALUES `)
		args := make([]interface{}, 0, len(entries)*8)
		for i, entry := range entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			var lastProcessed, retryAt interface{}
			if entry.LastProcessedAt != nil {
				lastProcessed = *entry.LastProcessedAt
			}
			if entry.RetryAt != nil {
				retryAt = *entry.RetryAt
			}
			args = append(args, entry.Username, string(entry.Category), string(entry.State),
				entry.Priority, entry.EnqueuedAt, lastProcessed, entry.Attempts, retryAt)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("SaveQueue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveQueue: %w", err)
	}
	return nil
}

// CurrentImage returns the subject's current picture bytes.
func (s *Store) CurrentImage(ctx context.Context, username string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM images WHERE username = ? AND is_current = 1
		 ORDER BY created_at DESC LIMIT 1`, username,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, core.NewMonitorError("CurrentImage", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("CurrentImage: %w", err)
	}
	return data, nil
}

// SaveImage stores data as the current picture. With archiveOld, the
// previous current row is demoted to an archive row instead of deleted.
func (s *Store) SaveImage(ctx context.Context, username string, data []byte, archiveOld bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveImage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if archiveOld {
		_, err = tx.ExecContext(ctx,
			`UPDATE images SET is_current = 0 WHERE username = ? AND is_current = 1`, username)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM images WHERE username = ? AND is_current = 1`, username)
	}
	if err != nil {
		return fmt.Errorf("SaveImage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (username, is_current, created_at, data) VALUES (?, 1, ?, ?)`,
		username, time.Now().UTC(), data,
	)
	if err != nil {
		return fmt.Errorf("SaveImage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveImage: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
