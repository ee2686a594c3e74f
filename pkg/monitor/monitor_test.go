package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/monitor"
	"github.com/profilewatch/profilewatch-go/pkg/notify"
	fileStore "github.com/profilewatch/profilewatch-go/pkg/store/file"
)

// fakeSource scripts FetchProfile responses per call and records images by
// URL. A nil snapshot in the script means the fetch fails.
type fakeSource struct {
	profiles []*core.ProfileSnapshot
	friends  *core.FriendsSnapshot
	images   map[string][]byte
	calls    int
}

func (f *fakeSource) FetchProfile(ctx context.Context, username string, authenticated bool) (*core.ProfileSnapshot, error) {
	if f.calls >= len(f.profiles) || f.profiles[f.calls] == nil {
		f.calls++
		return nil, &core.FetchError{Username: username}
	}
	s := f.profiles[f.calls]
	f.calls++
	copied := *s
	return &copied, nil
}

func (f *fakeSource) FetchFriends(ctx context.Context, username string) (*core.FriendsSnapshot, error) {
	if f.friends == nil {
		return nil, &core.FetchError{Username: username, LoginRequired: true}
	}
	return f.friends, nil
}

func (f *fakeSource) FetchImage(ctx context.Context, url string) ([]byte, error) {
	data, ok := f.images[url]
	if !ok {
		return nil, &core.FetchError{}
	}
	return data, nil
}

// captureSink records delivered events.
type captureSink struct {
	events []core.NotificationEvent
}

func (c *captureSink) Deliver(ctx context.Context, events []core.NotificationEvent) error {
	c.events = append(c.events, events...)
	return nil
}

var _ notify.Sink = (*captureSink)(nil)

func testConfig(t *testing.T) *core.Config {
	return &core.Config{
		Monitor: core.MonitorConfig{Authenticated: true},
		Notify:  core.NotifyConfig{Counts: true, Text: true, Flags: true, Pictures: true, Friends: true, Milestones: true},
		Store:   core.StoreConfig{Provider: "file", Path: t.TempDir()},
	}
}

func profile(followers int64, bio string) *core.ProfileSnapshot {
	return &core.ProfileSnapshot{
		Username:  "acct",
		FetchedAt: time.Now().UTC().Truncate(time.Second),
		Method:    core.FetchAuthenticated,
		Followers: core.Int64Ptr(followers),
		Biography: core.StringPtr(bio),
	}
}

func setupMonitor(t *testing.T, source core.ProfileDataSource) (*monitor.Monitor, *captureSink) {
	sink := &captureSink{}
	m, err := monitor.NewMonitor(testConfig(t), source, monitor.WithSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, sink
}

func TestMonitor_Run_BaselineThenChanges(t *testing.T) {
	source := &fakeSource{profiles: []*core.ProfileSnapshot{
		profile(100, "hello"),
		profile(110, "new bio"),
	}}
	m, sink := setupMonitor(t, source)
	ctx := context.Background()

	first, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, first.Baseline)
	assert.Empty(t, first.Changes)
	assert.Empty(t, first.Events)

	second, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, second.Baseline)
	require.Len(t, second.Changes, 2)
	assert.Len(t, second.Events, 2)
	assert.Len(t, sink.events, 2)
	assert.NotEqual(t, first.Entry.ID, second.Entry.ID)
}

func TestMonitor_Run_FailedFetchLeavesStateUntouched(t *testing.T) {
	source := &fakeSource{profiles: []*core.ProfileSnapshot{
		profile(100, "hello"),
		nil, // fetch failure
		profile(100, "hello"),
	}}
	m, sink := setupMonitor(t, source)
	ctx := context.Background()

	_, err := m.Run(ctx, "acct")
	require.NoError(t, err)

	// The failed run reports the error and commits nothing.
	_, err = m.Run(ctx, "acct")
	require.Error(t, err)
	assert.True(t, core.IsFetchError(err))
	assert.Empty(t, sink.events)

	// The next successful run diffs against the pre-failure snapshot and
	// sees no changes: the failure did not overwrite anything.
	third, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, third.Baseline)
	assert.Empty(t, third.Changes)
}

func TestMonitor_Run_MilestoneEvent(t *testing.T) {
	source := &fakeSource{profiles: []*core.ProfileSnapshot{
		profile(950, "x"),
		profile(1100, "x"),
	}}
	m, _ := setupMonitor(t, source)
	ctx := context.Background()

	_, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	second, err := m.Run(ctx, "acct")
	require.NoError(t, err)

	require.Len(t, second.Events, 2)
	assert.Equal(t, core.EventMilestone, second.Events[1].Kind)
	assert.Equal(t, int64(1000), second.Events[1].Payload["threshold"])
}

func TestMonitor_Run_PictureChange(t *testing.T) {
	first := profile(100, "x")
	first.PictureURL = "pic-v1"
	second := profile(100, "x")
	second.PictureURL = "pic-v2"

	source := &fakeSource{
		profiles: []*core.ProfileSnapshot{first, second},
		images: map[string][]byte{
			"pic-v1": []byte("old bytes"),
			"pic-v2": []byte("new bytes"),
		},
	}

	cfg := testConfig(t)
	cfg.Monitor.TrackPictures = true
	sink := &captureSink{}
	m, err := monitor.NewMonitor(cfg, source, monitor.WithSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	baseline, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, baseline.Changes, "first picture is the baseline, not a change")
	assert.NotEmpty(t, baseline.Entry.Snapshot.PictureHash)

	result, err := m.Run(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, core.ChangeImage, result.Changes[0].Kind)
	assert.Equal(t, "changed", result.Changes[0].Subject)
	assert.NotEqual(t, baseline.Entry.Snapshot.PictureHash, result.Entry.Snapshot.PictureHash)
}

func TestMonitor_RunFriends_FeedsQueue(t *testing.T) {
	source := &fakeSource{
		profiles: []*core.ProfileSnapshot{profile(100, "x")},
		friends: &core.FriendsSnapshot{
			Username:  "acct",
			FetchedAt: time.Now().UTC(),
			Followers: core.NewFriendSet(core.RelationFollowers, []string{"a", "b"}),
			Following: core.NewFriendSet(core.RelationFollowing, []string{"b", "c"}),
			Complete:  true,
		},
	}
	m, _ := setupMonitor(t, source)
	ctx := context.Background()

	result, err := m.RunFriends(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, result.Analysis.Baseline)
	assert.Equal(t, 3, result.Enqueued)

	entries, err := m.QueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	stats, err := m.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[core.StateQueued])
}

func TestMonitor_RunFriends_IncompleteRefused(t *testing.T) {
	source := &fakeSource{
		friends: &core.FriendsSnapshot{
			Username:  "acct",
			FetchedAt: time.Now().UTC(),
			Complete:  false,
		},
	}
	m, _ := setupMonitor(t, source)

	_, err := m.RunFriends(context.Background(), "acct")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIncompleteFriends)
}

func TestMonitor_AddToQueueAndReset(t *testing.T) {
	source := &fakeSource{}
	m, _ := setupMonitor(t, source)
	ctx := context.Background()

	added, err := m.AddToQueue(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Manual re-adds are idempotent.
	added, err = m.AddToQueue(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	entries, err := m.QueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.CategoryManual, entries[0].Category)

	reset, err := m.ResetQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset, "nothing stalled yet")
}

func TestMonitor_ProcessBatch(t *testing.T) {
	// Two queued accounts; the source only has documents for "acct".
	source := &fakeSource{profiles: []*core.ProfileSnapshot{profile(100, "x")}}
	m, _ := setupMonitor(t, source)
	ctx := context.Background()

	_, err := m.AddToQueue(ctx, []string{"acct"})
	require.NoError(t, err)

	result, err := m.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Selected)
	assert.Equal(t, 1, result.Succeeded)

	// The outcome was persisted: the entry now sits in cooldown.
	stats, err := m.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[core.StateCooldown])
}

func TestMonitor_ReloadConfig(t *testing.T) {
	source := &fakeSource{profiles: []*core.ProfileSnapshot{profile(100, "x"), profile(100, "x")}}

	root := t.TempDir()
	st, err := fileStore.NewStore(&fileStore.Config{Root: root})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &core.Config{Store: core.StoreConfig{Provider: "file", Path: root}}
	m, err := monitor.NewMonitor(cfg, source, monitor.WithStore(st))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Run(context.Background(), "acct")
	require.NoError(t, err)

	next := &core.Config{
		Monitor: core.MonitorConfig{HistoryKeep: 10},
		Store:   core.StoreConfig{Provider: "file", Path: root},
	}
	require.NoError(t, m.ReloadConfig(next))

	// Runs after the reload use the new settings and the same store.
	_, err = m.Run(context.Background(), "acct")
	require.NoError(t, err)
}

func TestMonitor_NewMonitor_InvalidConfig(t *testing.T) {
	_, err := monitor.NewMonitor(&core.Config{}, &fakeSource{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
