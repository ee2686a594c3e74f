// Package monitor provides the ProfileWatch client that ties the pipeline
// together: fetch a snapshot, diff it against the stored latest, handle the
// picture artifact, commit to history and dispatch notification events. It
// also drives the friends analysis and the persistent monitoring queue.
package monitor

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/diff"
	"github.com/profilewatch/profilewatch-go/pkg/notify"
	"github.com/profilewatch/profilewatch-go/pkg/scheduler"
	"github.com/profilewatch/profilewatch-go/pkg/store"
	fileStore "github.com/profilewatch/profilewatch-go/pkg/store/file"
	postgresStore "github.com/profilewatch/profilewatch-go/pkg/store/postgres"
	sqliteStore "github.com/profilewatch/profilewatch-go/pkg/store/sqlite"
)

// Monitor is the main ProfileWatch client.
//
// It coordinates the per-run pipeline (fetch, diff, picture handling,
// commit, dispatch) and the friends/queue pipeline. A single Monitor is
// safe for concurrent use; batch processing fans out over its own bounded
// worker pool.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	m, _ := monitor.NewMonitor(config, source)
//	defer m.Close()
//
//	result, _ := m.Run(ctx, "some_account")
type Monitor struct {
	// config contains the monitor configuration. Guarded by mu so
	// ReloadConfig can swap it between runs.
	config *core.Config

	// source retrieves profile, friends and image data.
	source core.ProfileDataSource

	// store is the persistence backend.
	store store.Store

	// ownStore is true when the monitor opened the store itself and is
	// responsible for closing it.
	ownStore bool

	engine        *diff.Engine
	analyzer      *diff.Analyzer
	fingerprinter *diff.Fingerprinter
	dispatcher    *notify.Dispatcher

	// sink receives dispatched events. Defaults to notify.LogSink.
	sink notify.Sink

	// snowflakeNode generates unique IDs for history entries.
	snowflakeNode *snowflake.Node

	mu sync.RWMutex
}

// Option customizes a Monitor at construction time.
type Option func(*Monitor)

// WithStore uses the given store instead of opening one from the
// configuration. The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(m *Monitor) {
		m.store = s
		m.ownStore = false
	}
}

// WithSink routes dispatched events to the given sink instead of the
// default logging sink.
func WithSink(s notify.Sink) Option {
	return func(m *Monitor) {
		m.sink = s
	}
}

// NewMonitor creates a new Monitor.
//
// The configuration is defaulted and validated, the persistence backend is
// opened according to cfg.Store (unless WithStore overrides it), and an ID
// generator node is initialized.
func NewMonitor(cfg *core.Config, source core.ProfileDataSource, opts ...Option) (*Monitor, error) {
	if source == nil {
		return nil, core.NewMonitorError("NewMonitor", core.ErrInvalidConfig)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.NewMonitorError("NewMonitor", err)
	}

	m := &Monitor{
		config:        cfg,
		source:        source,
		engine:        diff.NewEngine(),
		analyzer:      diff.NewAnalyzer(),
		fingerprinter: diff.NewFingerprinter(),
		dispatcher:    notify.NewDispatcher(),
		sink:          notify.LogSink{},
		snowflakeNode: node,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		st, err := initStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		m.store = st
		m.ownStore = true
	}

	return m, nil
}

// initStore opens the persistence backend named by the configuration.
func initStore(cfg core.StoreConfig) (store.Store, error) {
	switch cfg.Provider {
	case "file":
		return fileStore.NewStore(&fileStore.Config{Root: cfg.Path})
	case "sqlite":
		return sqliteStore.NewStore(&sqliteStore.Config{DBPath: cfg.Path})
	case "postgres":
		return postgresStore.NewStore(&postgresStore.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		})
	default:
		return nil, core.NewMonitorError("initStore", core.ErrInvalidConfig)
	}
}

// RunResult is the outcome of one monitoring run for a subject.
type RunResult struct {
	// Username identifies the monitored subject.
	Username string

	// Baseline is true when there was no previous snapshot; Changes is
	// empty in that case.
	Baseline bool

	// Changes lists the detected differences against the previous snapshot.
	Changes []core.Change

	// Events lists the notification events the run produced after toggles
	// and dedup.
	Events []core.NotificationEvent

	// Entry is the committed history entry.
	Entry *core.HistoryEntry
}

// Run performs one monitoring pass for the username.
//
// The committed sequence is untouched when the fetch fails: the previous
// snapshot stays latest, no history entry is appended and no events are
// produced. A first successful run commits the baseline without reporting
// changes.
func (m *Monitor) Run(ctx context.Context, username string) (*RunResult, error) {
	cfg := m.configSnapshot()

	previous, err := m.store.LatestSnapshot(ctx, username)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	current, err := m.source.FetchProfile(ctx, username, cfg.Monitor.Authenticated)
	if err != nil {
		if errors.Is(err, core.ErrLoginRequired) {
			log.Printf("[Monitor] %s: fetch needs authentication, skipping run", username)
		} else {
			log.Printf("[Monitor] %s: fetch failed, keeping previous snapshot: %v", username, err)
		}
		return nil, err
	}
	if current.FetchedAt.IsZero() {
		current.FetchedAt = time.Now().UTC()
	}

	changes := m.engine.Diff(previous, current)

	if cfg.Monitor.TrackPictures && current.PictureURL != "" {
		if pictureChange, ok := m.trackPicture(ctx, cfg, username, previous, current); ok {
			changes = append(changes, pictureChange)
		}
	}

	entry := &core.HistoryEntry{
		ID:        m.snowflakeNode.Generate().Int64(),
		Timestamp: current.FetchedAt,
		Changes:   changes,
		Snapshot:  *current,
	}

	err = m.store.CommitSnapshot(ctx, entry, store.CommitOptions{
		HistoryKeep: cfg.Monitor.HistoryKeep,
		ChangesKeep: cfg.Monitor.ChangesKeep,
	})
	if err != nil {
		return nil, err
	}

	events := m.dispatcher.Dispatch(username, changes, cfg.Notify)
	m.deliver(ctx, events)

	return &RunResult{
		Username: username,
		Baseline: previous == nil,
		Changes:  changes,
		Events:   events,
		Entry:    entry,
	}, nil
}

// trackPicture downloads the current picture, classifies the transition
// against the stored artifact and persists the new one. The old artifact is
// archived before the replacement so it is never lost.
//
// Picture failures never fail the run; the textual pipeline proceeds.
func (m *Monitor) trackPicture(ctx context.Context, cfg core.Config, username string, previous, current *core.ProfileSnapshot) (core.Change, bool) {
	data, err := m.source.FetchImage(ctx, current.PictureURL)
	if err != nil {
		log.Printf("[Monitor] %s: picture download failed, skipping: %v", username, err)
		if previous != nil {
			current.PictureHash = previous.PictureHash
		}
		return core.Change{}, false
	}

	prevData, err := m.store.CurrentImage(ctx, username)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		log.Printf("[Monitor] %s: reading stored picture failed, skipping: %v", username, err)
		return core.Change{}, false
	}

	var emptyTemplate []byte
	if cfg.Monitor.EmptyPicturePath != "" {
		emptyTemplate, err = os.ReadFile(cfg.Monitor.EmptyPicturePath)
		if err != nil {
			log.Printf("[Monitor] empty picture template unreadable: %v", err)
			emptyTemplate = nil
		}
	}

	result := m.fingerprinter.Classify(prevData, data, emptyTemplate)
	current.PictureHash = diff.Fingerprint(data)

	switch result {
	case diff.ImageUnchanged:
		return core.Change{}, false
	case diff.ImageFirstSet:
		if err := m.store.SaveImage(ctx, username, data, false); err != nil {
			log.Printf("[Monitor] %s: saving picture failed: %v", username, err)
		}
		return core.Change{}, false
	default:
		if err := m.store.SaveImage(ctx, username, data, true); err != nil {
			log.Printf("[Monitor] %s: saving picture failed: %v", username, err)
			return core.Change{}, false
		}
		return core.Change{
			Kind:    core.ChangeImage,
			Field:   diff.FieldPicture,
			Subject: string(result),
		}, true
	}
}

// FriendsResult is the outcome of one friends analysis pass.
type FriendsResult struct {
	// Analysis holds the joined/left sets and the category partition.
	Analysis *core.FriendsAnalysis

	// Enqueued is how many usernames the analysis added to or upgraded in
	// the monitoring queue.
	Enqueued int

	// Events lists the dispatched friend change events.
	Events []core.NotificationEvent
}

// RunFriends fetches the subject's friend sets, analyzes them against the
// stored snapshot, persists the result and refreshes the monitoring queue
// from the category partition.
func (m *Monitor) RunFriends(ctx context.Context, username string) (*FriendsResult, error) {
	cfg := m.configSnapshot()

	current, err := m.source.FetchFriends(ctx, username)
	if err != nil {
		log.Printf("[Monitor] %s: friends fetch failed: %v", username, err)
		return nil, err
	}

	previous, err := m.store.LatestFriends(ctx, username)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	analysis, err := m.analyzer.Analyze(previous, current)
	if err != nil {
		return nil, err
	}

	if err := m.store.SaveFriends(ctx, current, analysis); err != nil {
		return nil, err
	}

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	enqueued := q.EnqueueAnalysis(analysis, cfg.Queue.MaxQueueSize, time.Now().UTC())
	if err := m.store.SaveQueue(ctx, q.Entries()); err != nil {
		return nil, err
	}

	events := m.dispatcher.Dispatch(username, analysis.Changes(), cfg.Notify)
	m.deliver(ctx, events)

	return &FriendsResult{Analysis: analysis, Enqueued: enqueued, Events: events}, nil
}

// ProcessBatch selects the next batch from the persistent queue and runs
// the monitoring pipeline for each selected account with bounded
// parallelism, then persists the updated queue.
func (m *Monitor) ProcessBatch(ctx context.Context) (scheduler.BatchResult, error) {
	cfg := m.configSnapshot()

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return scheduler.BatchResult{}, err
	}

	runner := &scheduler.BatchRunner{Parallel: cfg.Queue.MaxParallelFetch}
	result := runner.Run(ctx, q, cfg.Queue.BatchSize, cfg.Queue.MinRevisitInterval,
		func(ctx context.Context, username string) error {
			_, err := m.Run(ctx, username)
			return err
		})

	if err := m.store.SaveQueue(ctx, q.Entries()); err != nil {
		return result, err
	}
	return result, nil
}

// AddToQueue adds usernames to the monitoring queue in the manual category,
// the lowest priority. Returns how many entries were added or upgraded.
func (m *Monitor) AddToQueue(ctx context.Context, usernames []string) (int, error) {
	cfg := m.configSnapshot()

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return 0, err
	}
	added := q.Enqueue(usernames, core.CategoryManual, time.Now().UTC())
	if err := m.store.SaveQueue(ctx, q.Entries()); err != nil {
		return 0, err
	}
	return added, nil
}

// QueueEntries returns the persistent queue's entries sorted by username.
func (m *Monitor) QueueEntries(ctx context.Context) ([]core.QueueEntry, error) {
	cfg := m.configSnapshot()

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return q.Entries(), nil
}

// QueueStats returns per-state entry counts for the persistent queue.
func (m *Monitor) QueueStats(ctx context.Context) (map[core.QueueState]int, error) {
	cfg := m.configSnapshot()

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return q.Stats(), nil
}

// ResetQueue returns stalled entries to the queued state with a cleared
// attempt counter. Without arguments every stalled entry is reset.
func (m *Monitor) ResetQueue(ctx context.Context, usernames ...string) (int, error) {
	cfg := m.configSnapshot()

	q, err := m.loadQueue(ctx, cfg)
	if err != nil {
		return 0, err
	}
	reset := q.Reset(usernames...)
	if err := m.store.SaveQueue(ctx, q.Entries()); err != nil {
		return 0, err
	}
	return reset, nil
}

// loadQueue reads the persisted queue into a scheduler.Queue. Integrity
// problems in the stored entries are logged and the merged queue is used;
// a re-clone from storage never blocks on a duplicate row.
func (m *Monitor) loadQueue(ctx context.Context, cfg core.Config) (*scheduler.Queue, error) {
	entries, err := m.store.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}

	q := scheduler.NewQueue(scheduler.Options{
		PriorityOrder:    cfg.Queue.PriorityOrder,
		MaxRetryAttempts: cfg.Queue.MaxRetryAttempts,
	})
	if err := q.Load(entries); err != nil {
		if errors.Is(err, core.ErrQueueIntegrity) {
			log.Printf("[Monitor] queue integrity repaired on load: %v", err)
		} else {
			return nil, err
		}
	}
	return q, nil
}

// ReloadConfig swaps the configuration at a run boundary. In-flight runs
// keep the snapshot they started with. When the store settings changed, the
// new backend is opened before the old one is closed; a failed open keeps
// the previous configuration intact.
func (m *Monitor) ReloadConfig(cfg *core.Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ownStore && cfg.Store != m.config.Store {
		st, err := initStore(cfg.Store)
		if err != nil {
			return err
		}
		if err := m.store.Close(); err != nil {
			log.Printf("[Monitor] closing previous store: %v", err)
		}
		m.store = st
	}

	m.config = cfg
	return nil
}

// Close releases the monitor's resources.
func (m *Monitor) Close() error {
	if m.ownStore && m.store != nil {
		return m.store.Close()
	}
	return nil
}

// deliver pushes events to the sink. Delivery failures are logged, never
// propagated; the run already committed.
func (m *Monitor) deliver(ctx context.Context, events []core.NotificationEvent) {
	if len(events) == 0 {
		return
	}
	if err := m.sink.Deliver(ctx, events); err != nil {
		log.Printf("[Monitor] event delivery failed: %v", err)
	}
}

// configSnapshot returns a copy of the current configuration.
func (m *Monitor) configSnapshot() core.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}
