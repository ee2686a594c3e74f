// Package file provides the JSON-file persistence backend.
//
// Each subject owns a directory under the data root containing latest.json,
// stats.json, history.json, changes.json, friends.json and a profile_pics/
// directory; the monitoring queue lives in queue.json at the root. All
// writes go through an atomic temp-file rename so a crashed invocation never
// leaves a partial record behind.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/store"
)

// Store implements store.Store on top of a directory of JSON files.
type Store struct {
	root string
}

// Config contains configuration for creating a file Store.
type Config struct {
	// Root is the data directory. Created if missing.
	Root string
}

// NewStore creates a file-backed store rooted at cfg.Root.
func NewStore(cfg *Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, core.NewMonitorError("NewFileStore", core.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, core.NewMonitorError("NewFileStore", err)
	}
	return &Store{root: cfg.Root}, nil
}

// Root returns the store's data directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) subjectDir(username string) string {
	return filepath.Join(s.root, username)
}

func (s *Store) latestPath(username string) string {
	return filepath.Join(s.subjectDir(username), "latest.json")
}

func (s *Store) statsPath(username string) string {
	return filepath.Join(s.subjectDir(username), "stats.json")
}

func (s *Store) historyPath(username string) string {
	return filepath.Join(s.subjectDir(username), "history.json")
}

func (s *Store) changesPath(username string) string {
	return filepath.Join(s.subjectDir(username), "changes.json")
}

func (s *Store) friendsPath(username string) string {
	return filepath.Join(s.subjectDir(username), "friends.json")
}

func (s *Store) picsDir(username string) string {
	return filepath.Join(s.subjectDir(username), "profile_pics")
}

func (s *Store) queuePath() string {
	return filepath.Join(s.root, "queue.json")
}

// LatestSnapshot returns the subject's latest committed snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, username string) (*core.ProfileSnapshot, error) {
	var snapshot core.ProfileSnapshot
	if err := readJSON(s.latestPath(username), &snapshot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NewMonitorError("LatestSnapshot", core.ErrNotFound)
		}
		return nil, core.NewMonitorError("LatestSnapshot", err)
	}
	return &snapshot, nil
}

// CommitSnapshot writes the latest projection, the quick-stats summary, the
// history append and (when the entry carries changes) the changes record.
//
// History is written before latest: if the invocation dies between the two
// writes, the next run re-derives latest from a fetch while the audit trail
// already holds the entry.
func (s *Store) CommitSnapshot(ctx context.Context, entry *core.HistoryEntry, opts store.CommitOptions) error {
	username := entry.Snapshot.Username
	if err := os.MkdirAll(s.subjectDir(username), 0755); err != nil {
		return core.NewMonitorError("CommitSnapshot", err)
	}

	historyKeep := opts.HistoryKeep
	if historyKeep <= 0 {
		historyKeep = core.DefaultHistoryKeep
	}
	changesKeep := opts.ChangesKeep
	if changesKeep <= 0 {
		changesKeep = core.DefaultChangesKeep
	}

	record, err := s.readHistory(username)
	if err != nil {
		return core.NewMonitorError("CommitSnapshot", err)
	}
	record.SchemaVersion = store.SchemaVersion
	record.Username = username
	record.UpdatedAt = entry.Timestamp
	record.Entries = append(record.Entries, *entry)
	if len(record.Entries) > historyKeep {
		record.Entries = record.Entries[len(record.Entries)-historyKeep:]
	}
	if err := writeJSONAtomic(s.historyPath(username), record); err != nil {
		return core.NewMonitorError("CommitSnapshot", err)
	}

	if len(entry.Changes) > 0 {
		changes, err := s.readChanges(username)
		if err != nil {
			return core.NewMonitorError("CommitSnapshot", err)
		}
		changes.SchemaVersion = store.SchemaVersion
		changes.Username = username
		changes.UpdatedAt = entry.Timestamp
		changes.Entries = append(changes.Entries, *entry)
		if len(changes.Entries) > changesKeep {
			changes.Entries = changes.Entries[len(changes.Entries)-changesKeep:]
		}
		if err := writeJSONAtomic(s.changesPath(username), changes); err != nil {
			return core.NewMonitorError("CommitSnapshot", err)
		}
	}

	if err := writeJSONAtomic(s.latestPath(username), entry.Snapshot); err != nil {
		return core.NewMonitorError("CommitSnapshot", err)
	}
	if err := writeJSONAtomic(s.statsPath(username), store.NewQuickStats(&entry.Snapshot)); err != nil {
		return core.NewMonitorError("CommitSnapshot", err)
	}
	return nil
}

// History returns the retained history entries, oldest first.
func (s *Store) History(ctx context.Context, username string) ([]core.HistoryEntry, error) {
	record, err := s.readHistory(username)
	if err != nil {
		return nil, core.NewMonitorError("History", err)
	}
	return record.Entries, nil
}

// RecentChanges returns the retained change-bearing entries, oldest first.
func (s *Store) RecentChanges(ctx context.Context, username string) ([]core.HistoryEntry, error) {
	record, err := s.readChanges(username)
	if err != nil {
		return nil, core.NewMonitorError("RecentChanges", err)
	}
	return record.Entries, nil
}

// readHistory loads the history record, tolerating missing files and
// foreign schema versions. A record from a newer schema is read best-effort
// and the mismatch is logged, never fatal.
func (s *Store) readHistory(username string) (*store.HistoryRecord, error) {
	return s.readVersioned(s.historyPath(username), username)
}

func (s *Store) readChanges(username string) (*store.HistoryRecord, error) {
	return s.readVersioned(s.changesPath(username), username)
}

func (s *Store) readVersioned(path, username string) (*store.HistoryRecord, error) {
	var record store.HistoryRecord
	if err := readJSON(path, &record); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &store.HistoryRecord{SchemaVersion: store.SchemaVersion, Username: username}, nil
		}
		return nil, err
	}
	if record.SchemaVersion > store.SchemaVersion {
		log.Printf("[FileStore] %s: %v (record v%d, reader v%d), extracting known fields",
			path, core.ErrSchemaMismatch, record.SchemaVersion, store.SchemaVersion)
	}
	return &record, nil
}

// LatestFriends returns the subject's friends snapshot.
func (s *Store) LatestFriends(ctx context.Context, username string) (*core.FriendsSnapshot, error) {
	var record store.FriendsRecord
	if err := readJSON(s.friendsPath(username), &record); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NewMonitorError("LatestFriends", core.ErrNotFound)
		}
		return nil, core.NewMonitorError("LatestFriends", err)
	}
	return record.Snapshot(), nil
}

// SaveFriends writes the friends snapshot and its analysis side by side.
func (s *Store) SaveFriends(ctx context.Context, snapshot *core.FriendsSnapshot, analysis *core.FriendsAnalysis) error {
	if err := os.MkdirAll(s.subjectDir(snapshot.Username), 0755); err != nil {
		return core.NewMonitorError("SaveFriends", err)
	}
	if err := writeJSONAtomic(s.friendsPath(snapshot.Username), store.NewFriendsRecord(snapshot)); err != nil {
		return core.NewMonitorError("SaveFriends", err)
	}
	if analysis != nil {
		path := filepath.Join(s.subjectDir(snapshot.Username), "friends_analysis.json")
		if err := writeJSONAtomic(path, analysis); err != nil {
			return core.NewMonitorError("SaveFriends", err)
		}
	}
	return nil
}

// LoadQueue returns the persisted queue entries.
func (s *Store) LoadQueue(ctx context.Context) ([]core.QueueEntry, error) {
	var record store.QueueRecord
	if err := readJSON(s.queuePath(), &record); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, core.NewMonitorError("LoadQueue", err)
	}
	if record.SchemaVersion > store.SchemaVersion {
		log.Printf("[FileStore] queue: %v (record v%d, reader v%d), extracting known fields",
			core.ErrSchemaMismatch, record.SchemaVersion, store.SchemaVersion)
	}
	return record.Entries, nil
}

// SaveQueue persists the queue entries.
func (s *Store) SaveQueue(ctx context.Context, entries []core.QueueEntry) error {
	record := store.QueueRecord{
		SchemaVersion: store.SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Entries:       entries,
	}
	if err := writeJSONAtomic(s.queuePath(), record); err != nil {
		return core.NewMonitorError("SaveQueue", err)
	}
	return nil
}

// CurrentImage returns the subject's current picture bytes.
func (s *Store) CurrentImage(ctx context.Context, username string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.picsDir(username), "current.jpg"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NewMonitorError("CurrentImage", core.ErrNotFound)
		}
		return nil, core.NewMonitorError("CurrentImage", err)
	}
	return data, nil
}

// SaveImage stores data as the current picture. With archiveOld, the
// previous current picture is first renamed to a timestamped archive so the
// old artifact survives the replacement.
func (s *Store) SaveImage(ctx context.Context, username string, data []byte, archiveOld bool) error {
	dir := s.picsDir(username)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return core.NewMonitorError("SaveImage", err)
	}
	current := filepath.Join(dir, "current.jpg")

	if archiveOld {
		if _, err := os.Stat(current); err == nil {
			archive := filepath.Join(dir, fmt.Sprintf("%s_old_%s.jpg", username, time.Now().UTC().Format("20060102_150405")))
			if err := os.Rename(current, archive); err != nil {
				return core.NewMonitorError("SaveImage", err)
			}
		}
	}

	tmp := current + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return core.NewMonitorError("SaveImage", err)
	}
	if err := os.Rename(tmp, current); err != nil {
		return core.NewMonitorError("SaveImage", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *Store) Close() error {
	return nil
}

// readJSON reads and unmarshals one file.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONAtomic marshals v and writes it via temp file + rename so readers
// never observe a partial file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
