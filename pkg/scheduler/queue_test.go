package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/scheduler"
)

func newTestQueue() *scheduler.Queue {
	return scheduler.NewQueue(scheduler.Options{MaxRetryAttempts: 2})
}

func TestQueue_Enqueue_Dedup(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	added := q.Enqueue([]string{"alice", "bob"}, core.CategoryFollowersOnly, now)
	assert.Equal(t, 2, added)

	// Re-adding the same user under a higher-ranked category upgrades the
	// entry in place instead of duplicating it.
	added = q.Enqueue([]string{"alice"}, core.CategoryMutual, now.Add(time.Minute))
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, q.Len())

	entry, err := q.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, core.CategoryMutual, entry.Category)
	assert.Equal(t, now, entry.EnqueuedAt, "original EnqueuedAt is kept")
}

func TestQueue_Enqueue_LowerCategoryNoDowngrade(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"alice"}, core.CategoryMutual, now)
	q.Enqueue([]string{"alice"}, core.CategoryFollowingOnly, now)

	entry, err := q.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, core.CategoryMutual, entry.Category)
}

func TestQueue_EnqueueAnalysis_MutualCappedAtHalf(t *testing.T) {
	q := newTestQueue()

	analysis := &core.FriendsAnalysis{
		Categories: core.FriendCategories{
			Mutual:        []string{"m1", "m2", "m3", "m4", "m5", "m6"},
			FollowersOnly: []string{"f1", "f2", "f3"},
			FollowingOnly: []string{"g1"},
		},
	}

	added := q.EnqueueAnalysis(analysis, 8, time.Now().UTC())
	assert.Equal(t, 8, added)

	// Half the budget goes to mutual at most; the rest is left for the
	// lower categories.
	mutualCount := 0
	for _, e := range q.Entries() {
		if e.Category == core.CategoryMutual {
			mutualCount++
		}
	}
	assert.Equal(t, 4, mutualCount)
}

func TestQueue_NextBatch_PriorityOrder(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"follower"}, core.CategoryFollowersOnly, now)
	q.Enqueue([]string{"mutual"}, core.CategoryMutual, now)
	q.Enqueue([]string{"following"}, core.CategoryFollowingOnly, now)
	q.Enqueue([]string{"manual"}, core.CategoryManual, now)

	batch := q.NextBatch(2, time.Hour, now)
	require.Len(t, batch, 2)
	assert.Equal(t, "mutual", batch[0].Username)
	assert.Equal(t, "follower", batch[1].Username)
	assert.Equal(t, core.StateProcessing, batch[0].State)
}

func TestQueue_NextBatch_EnqueuedAtTiebreak(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"later"}, core.CategoryMutual, now.Add(time.Minute))
	q.Enqueue([]string{"earlier"}, core.CategoryMutual, now)

	batch := q.NextBatch(1, time.Hour, now.Add(2*time.Minute))
	require.Len(t, batch, 1)
	assert.Equal(t, "earlier", batch[0].Username)
}

func TestQueue_NextBatch_NeverProcessedFirst(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"processed", "fresh"}, core.CategoryMutual, now)
	batch := q.NextBatch(2, time.Hour, now)
	require.Len(t, batch, 2)
	require.NoError(t, q.Complete("processed", true, now))
	require.NoError(t, q.Complete("fresh", false, now))

	// After the revisit interval both are eligible; the never-processed
	// entry goes first.
	later := now.Add(2 * time.Hour)
	batch = q.NextBatch(2, time.Hour, later)
	require.Len(t, batch, 2)
	assert.Equal(t, "fresh", batch[0].Username)
	assert.Equal(t, "processed", batch[1].Username)
}

func TestQueue_NextBatch_RespectsRevisitInterval(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"alice"}, core.CategoryMutual, now)
	batch := q.NextBatch(1, time.Hour, now)
	require.Len(t, batch, 1)
	require.NoError(t, q.Complete("alice", true, now))

	// Within the interval the entry stays in cooldown.
	batch = q.NextBatch(1, time.Hour, now.Add(30*time.Minute))
	assert.Empty(t, batch)

	// After the interval it is selectable again.
	batch = q.NextBatch(1, time.Hour, now.Add(2*time.Hour))
	require.Len(t, batch, 1)
	assert.Equal(t, "alice", batch[0].Username)
}

func TestQueue_Complete_RetryThenStall(t *testing.T) {
	q := newTestQueue() // retry ceiling 2
	now := time.Now().UTC()

	q.Enqueue([]string{"flaky"}, core.CategoryMutual, now)

	at := now
	for i := 0; i < 2; i++ {
		batch := q.NextBatch(1, 0, at)
		require.Len(t, batch, 1)
		require.NoError(t, q.Complete("flaky", false, at))
		entry, err := q.Get("flaky")
		require.NoError(t, err)
		assert.Equal(t, core.StateQueued, entry.State)
		assert.Equal(t, i+1, entry.Attempts)
		require.NotNil(t, entry.RetryAt, "failed entry carries a backoff stamp")
		at = at.Add(2 * time.Hour) // past any backoff
	}

	// Third failure crosses the ceiling.
	batch := q.NextBatch(1, 0, at)
	require.Len(t, batch, 1)
	require.NoError(t, q.Complete("flaky", false, at))
	entry, err := q.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, core.StateStalled, entry.State)

	// Stalled entries are never selected.
	assert.Empty(t, q.NextBatch(1, 0, at.Add(2*time.Hour)))
}

func TestQueue_Complete_SuccessResetsAttempts(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"alice"}, core.CategoryMutual, now)
	q.NextBatch(1, 0, now)
	require.NoError(t, q.Complete("alice", false, now))

	later := now.Add(2 * time.Hour) // past the retry backoff
	q.NextBatch(1, 0, later)
	require.NoError(t, q.Complete("alice", true, later))

	entry, err := q.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, core.StateCooldown, entry.State)
	assert.Equal(t, 0, entry.Attempts)
	assert.Nil(t, entry.RetryAt, "success clears the backoff stamp")
	require.NotNil(t, entry.LastProcessedAt)
}

func TestQueue_Complete_RequiresProcessing(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"alice"}, core.CategoryMutual, now)

	// Never selected: the entry is still Queued.
	err := q.Complete("alice", true, now)
	require.ErrorIs(t, err, core.ErrQueueIntegrity)
	entry, _ := q.Get("alice")
	assert.Equal(t, core.StateQueued, entry.State)
	assert.Nil(t, entry.LastProcessedAt)

	// A second Complete after a legitimate one hits the guard too.
	q.NextBatch(1, 0, now)
	require.NoError(t, q.Complete("alice", true, now))
	err = q.Complete("alice", false, now)
	require.ErrorIs(t, err, core.ErrQueueIntegrity)
	entry, _ = q.Get("alice")
	assert.Equal(t, core.StateCooldown, entry.State)
	assert.Equal(t, 0, entry.Attempts)
}

func TestQueue_Reset(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"stalled", "healthy"}, core.CategoryMutual, now)
	at := now
	for i := 0; i < 3; i++ {
		q.NextBatch(2, 0, at)
		require.NoError(t, q.Complete("stalled", false, at))
		require.NoError(t, q.Complete("healthy", true, at))
		at = at.Add(2 * time.Hour) // past backoff and revisit interval
	}

	entry, _ := q.Get("stalled")
	require.Equal(t, core.StateStalled, entry.State)

	reset := q.Reset()
	assert.Equal(t, 1, reset)

	entry, _ = q.Get("stalled")
	assert.Equal(t, core.StateQueued, entry.State)
	assert.Equal(t, 0, entry.Attempts)
}

func TestQueue_EntriesLoadRoundTrip(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC().Truncate(time.Second)

	q.Enqueue([]string{"alice", "bob"}, core.CategoryMutual, now)
	q.NextBatch(1, 0, now)
	require.NoError(t, q.Complete("alice", true, now))

	entries := q.Entries()
	require.Len(t, entries, 2)

	restored := newTestQueue()
	require.NoError(t, restored.Load(entries))
	assert.Equal(t, entries, restored.Entries())
}

func TestQueue_Load_MergesDuplicates(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	entries := []core.QueueEntry{
		{Username: "alice", Category: core.CategoryFollowersOnly, State: core.StateQueued, Priority: 3, EnqueuedAt: now},
		{Username: "alice", Category: core.CategoryMutual, State: core.StateQueued, Priority: 4, EnqueuedAt: now.Add(time.Minute)},
	}

	err := q.Load(entries)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrQueueIntegrity)

	// The merged queue is usable: the higher-priority entry won.
	assert.Equal(t, 1, q.Len())
	entry, getErr := q.Get("alice")
	require.NoError(t, getErr)
	assert.Equal(t, 4, entry.Priority)
}

func TestQueue_Load_RecoversProcessing(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	// A crashed invocation left an entry in Processing.
	entries := []core.QueueEntry{
		{Username: "alice", Category: core.CategoryMutual, State: core.StateProcessing, Priority: 4, EnqueuedAt: now},
	}
	require.NoError(t, q.Load(entries))

	entry, err := q.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, entry.State)
}

func TestQueue_Stats(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()

	q.Enqueue([]string{"a", "b", "c"}, core.CategoryMutual, now)
	q.NextBatch(1, 0, now)
	require.NoError(t, q.Complete("a", true, now))

	stats := q.Stats()
	assert.Equal(t, 2, stats[core.StateQueued])
	assert.Equal(t, 1, stats[core.StateCooldown])
	assert.Equal(t, 0, stats[core.StateStalled])
}
