// Package postgres provides the PostgreSQL persistence backend.
//
// Snapshots and change lists are stored as JSONB; pictures are stored as
// BYTEA. Suitable when several monitor processes share one data set.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/store"
)

// Store implements store.Store using PostgreSQL as the backend.
type Store struct {
	db *sql.DB
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewStore creates a new PostgreSQL store.
func NewStore(cfg *Config) (*Store, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresStore: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresStore: %w", err)
	}

	s := &Store{db: db}

	if err := s.initTables(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// initTables initializes the database tables.
func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS latest (
			username VARCHAR(255) PRIMARY KEY,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			ts TIMESTAMP NOT NULL,
			changes JSONB,
			snapshot JSONB NOT NULL,
			has_changes BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_username ON history(username, ts)`,
		`CREATE TABLE IF NOT EXISTS friends (
			username VARCHAR(255) PRIMARY KEY,
			fetched_at TIMESTAMP NOT NULL,
			followers JSONB NOT NULL,
			following JSONB NOT NULL,
			complete BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS queue (
			username VARCHAR(255) PRIMARY KEY,
			category VARCHAR(32) NOT NULL,
			state VARCHAR(32) NOT NULL,
			priority INT NOT NULL,
			enqueued_at TIMESTAMP NOT NULL,
			last_processed_at TIMESTAMP,
			attempts INT NOT NULL DEFAULT 0,
			retry_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			data BYTEA NOT NULL
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
	var snapshotJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM latest WHERE username = $1`, username,
	).Scan(&snapshotJSON)
	if err == sql.ErrNoRows {
		return nil, core.NewMonitorError("LatestSnapshot", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("LatestSnapshot: %w", err)
	}

	var snapshot core.ProfileSnapshot
	if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (id, username, ts, changes, snapshot, has_changes)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, username, entry.Timestamp, changesJSON, snapshotJSON, len(entry.Changes) > 0,
	)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE username = $1 AND id NOT IN (
			SELECT id FROM history WHERE username = $1 ORDER BY ts DESC, id DESC LIMIT $2
		)`,
		username, historyKeep,
	)
	if err != nil {
		return fmt.Errorf("CommitSnapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO latest (username, snapshot, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		username, snapshotJSON, entry.Timestamp,
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
	query := `SELECT id, ts, changes, snapshot FROM history WHERE username = $1`
	if changesOnly {
		query += ` AND has_changes`
	}
	query += ` ORDER BY ts ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []core.HistoryEntry
	for rows.Next() {
		var entry core.HistoryEntry
		var changesJSON, snapshotJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &changesJSON, &snapshotJSON); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &entry.Changes); err != nil {
				return nil, fmt.Errorf("%s: parse changes: %w", op, err)
			}
		}
		if err := json.Unmarshal(snapshotJSON, &entry.Snapshot); err != nil {
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
	var followersJSON, followingJSON []byte
	var complete bool
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_at, followers, following, complete FROM friends WHERE username = $1`, username,
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
		Complete:      complete,
	}
	if err := json.Unmarshal(followersJSON, &record.Followers); err != nil {
		return nil, fmt.Errorf("LatestFriends: parse followers: %w", err)
	}
	if err := json.Unmarshal(followingJSON, &record.Following); err != nil {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO friends (username, fetched_at, followers, following, complete)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username) DO UPDATE SET
			fetched_at = EXCLUDED.fetched_at,
			followers = EXCLUDED.followers,
			following = EXCLUDED.following,
			complete = EXCLUDED.complete`,
		record.Username, record.FetchedAt, followersJSON, followingJSON, record.Complete,
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
			base := i * 8
			sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
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
		`SELECT data FROM images WHERE username = $1 AND is_current
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
			`UPDATE images SET is_current = FALSE WHERE username = $1 AND is_current`, username)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM images WHERE username = $1 AND is_current`, username)
	}
	if err != nil {
		return fmt.Errorf("SaveImage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (username, is_current, created_at, data) VALUES ($1, TRUE, $2, $3)`,
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
