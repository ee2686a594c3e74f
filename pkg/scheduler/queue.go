// Package scheduler provides the persistent priority queue that turns a
// one-time friends analysis into an ongoing monitoring work-list, plus the
// batch runner and retry backoff policy that drive it across stateless
// invocations.
package scheduler

import (
	"log"
	"sort"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// Queue is the persistent priority work-list of accounts to monitor.
//
// It is keyed by username — at most one entry per username. Re-adding an
// already-queued user updates priority and metadata but never duplicates the
// entry, so repeated invocations with the same analysis are idempotent.
//
// Queue itself is not safe for concurrent use; within one invocation a
// single goroutine owns it (workers report back through Complete calls made
// by the owning runner).
type Queue struct {
	entries  map[string]*core.QueueEntry
	order    []core.FriendCategory
	maxRetry int
	backoff  BackoffPolicy
}

// Options configures a Queue.
type Options struct {
	// PriorityOrder ranks categories from highest to lowest priority.
	// Empty means core.DefaultPriorityOrder().
	PriorityOrder []core.FriendCategory

	// MaxRetryAttempts is the failure ceiling before an entry stalls.
	// Zero means core.DefaultMaxRetryAttempts.
	MaxRetryAttempts int

	// Backoff delays retries of failed entries. Zero values mean the
	// default policy (one minute doubling, capped at one hour).
	Backoff BackoffPolicy
}

// NewQueue creates an empty queue.
func NewQueue(opts Options) *Queue {
	if len(opts.PriorityOrder) == 0 {
		opts.PriorityOrder = core.DefaultPriorityOrder()
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = core.DefaultMaxRetryAttempts
	}
	return &Queue{
		entries:  make(map[string]*core.QueueEntry),
		order:    opts.PriorityOrder,
		maxRetry: opts.MaxRetryAttempts,
		backoff:  opts.Backoff,
	}
}

// priorityOf maps a category to its numeric weight: the first category in
// the order gets the highest number. Unknown categories rank below all
// configured ones.
func (q *Queue) priorityOf(category core.FriendCategory) int {
	for i, c := range q.order {
		if c == category {
			return len(q.order) - i
		}
	}
	return 0
}

// Enqueue adds usernames under the given category.
//
// Unseen usernames become Queued entries stamped with now. Already-known
// usernames keep their original EnqueuedAt and are upgraded in place when
// the new category ranks higher; a lower-ranked re-add leaves them alone.
// Returns the number of newly created entries.
func (q *Queue) Enqueue(usernames []string, category core.FriendCategory, now time.Time) int {
	priority := q.priorityOf(category)
	added := 0
	for _, username := range usernames {
		if existing, ok := q.entries[username]; ok {
			if priority > existing.Priority {
				existing.Priority = priority
				existing.Category = category
			}
			continue
		}
		q.entries[username] = &core.QueueEntry{
			Username:   username,
			Category:   category,
			State:      core.StateQueued,
			Priority:   priority,
			EnqueuedAt: now,
		}
		added++
	}
	if added > 0 {
		log.Printf("[Queue] enqueued %d new entries under %s", added, category)
	}
	return added
}

// EnqueueAnalysis feeds a friends analysis into the queue following the
// configured priority order, capped at maxSize total additions. Mutual
// connections are capped at half the budget so the lower categories still
// get slots, mirroring how the queue was originally built.
func (q *Queue) EnqueueAnalysis(analysis *core.FriendsAnalysis, maxSize int, now time.Time) int {
	if maxSize <= 0 {
		maxSize = core.DefaultMaxQueueSize
	}
	budget := maxSize
	added := 0
	for _, category := range q.order {
		if budget <= 0 {
			break
		}
		var users []string
		switch category {
		case core.CategoryMutual:
			users = analysis.Categories.Mutual
			if len(users) > maxSize/2 {
				users = users[:maxSize/2]
			}
		case core.CategoryFollowersOnly:
			users = analysis.Categories.FollowersOnly
		case core.CategoryFollowingOnly:
			users = analysis.Categories.FollowingOnly
		default:
			continue
		}
		if len(users) > budget {
			users = users[:budget]
		}
		n := q.Enqueue(users, category, now)
		added += n
		budget -= n
	}
	return added
}

// NextBatch selects up to batchSize entries in state Queued, ordered by
// priority descending, then least-recently processed first (never-processed
// entries sort before all others), then earliest EnqueuedAt. Entries whose
// LastProcessedAt is within minRevisit of now are excluded, as are entries
// in Cooldown whose interval has not elapsed. Selected entries transition to
// Processing.
func (q *Queue) NextBatch(batchSize int, minRevisit time.Duration, now time.Time) []*core.QueueEntry {
	if batchSize <= 0 {
		return nil
	}

	var eligible []*core.QueueEntry
	for _, e := range q.entries {
		switch e.State {
		case core.StateQueued:
		case core.StateCooldown:
			// Cooldown entries become eligible again once the revisit
			// interval has passed.
			if e.LastProcessedAt == nil || now.Sub(*e.LastProcessedAt) >= minRevisit {
				e.State = core.StateQueued
			} else {
				continue
			}
		default:
			continue
		}
		if e.LastProcessedAt != nil && now.Sub(*e.LastProcessedAt) < minRevisit {
			continue
		}
		// Failed entries wait out their backoff before retrying.
		if e.RetryAt != nil && now.Before(*e.RetryAt) {
			continue
		}
		eligible = append(eligible, e)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		an, bn := a.LastProcessedAt == nil, b.LastProcessedAt == nil
		if an != bn {
			return an
		}
		if !an && !a.LastProcessedAt.Equal(*b.LastProcessedAt) {
			return a.LastProcessedAt.Before(*b.LastProcessedAt)
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.Username < b.Username
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}
	for _, e := range eligible {
		e.State = core.StateProcessing
	}
	return eligible
}

// Complete reports the outcome of processing a username. The entry must be
// in Processing, i.e. selected by NextBatch; anything else returns
// ErrQueueIntegrity and leaves the entry untouched.
//
// On success the entry moves to Cooldown with LastProcessedAt stamped and
// the attempt counter reset. On failure the attempt counter increments and
// the entry returns to Queued with an exponential-backoff RetryAt stamp,
// unless the counter exceeds the retry ceiling, in which case the entry
// stalls until Reset.
func (q *Queue) Complete(username string, success bool, now time.Time) error {
	e, ok := q.entries[username]
	if !ok {
		return core.NewMonitorError("Complete", core.ErrNotFound)
	}
	if e.State != core.StateProcessing {
		return core.NewMonitorError("Complete", core.ErrQueueIntegrity)
	}

	if success {
		t := now
		e.LastProcessedAt = &t
		e.Attempts = 0
		e.RetryAt = nil
		e.State = core.StateCooldown
		return nil
	}

	e.Attempts++
	if e.Attempts > q.maxRetry {
		e.State = core.StateStalled
		e.RetryAt = nil
		log.Printf("[Queue] %s stalled after %d attempts", username, e.Attempts)
		return nil
	}
	retryAt := now.Add(q.backoff.Delay(e.Attempts))
	e.RetryAt = &retryAt
	e.State = core.StateQueued
	return nil
}

// Reset returns stalled entries to Queued with a cleared attempt counter.
// With no usernames given, every stalled entry is reset. Returns the number
// of entries reset.
func (q *Queue) Reset(usernames ...string) int {
	reset := func(e *core.QueueEntry) bool {
		if e.State != core.StateStalled {
			return false
		}
		e.State = core.StateQueued
		e.Attempts = 0
		e.RetryAt = nil
		return true
	}

	count := 0
	if len(usernames) == 0 {
		for _, e := range q.entries {
			if reset(e) {
				count++
			}
		}
	} else {
		for _, u := range usernames {
			if e, ok := q.entries[u]; ok && reset(e) {
				count++
			}
		}
	}
	if count > 0 {
		log.Printf("[Queue] reset %d stalled entries", count)
	}
	return count
}

// Remove deletes an entry. Removal is the only terminal transition.
func (q *Queue) Remove(username string) error {
	if _, ok := q.entries[username]; !ok {
		return core.NewMonitorError("Remove", core.ErrNotFound)
	}
	delete(q.entries, username)
	return nil
}

// Get returns a copy of the entry for username.
func (q *Queue) Get(username string) (core.QueueEntry, error) {
	e, ok := q.entries[username]
	if !ok {
		return core.QueueEntry{}, core.NewMonitorError("Get", core.ErrNotFound)
	}
	return *e, nil
}

// Len returns the number of entries in the queue.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns copies of all entries ordered by username, the canonical
// serialization order. The round trip Entries → Load reproduces the queue
// exactly, including attempt counts and timestamps.
func (q *Queue) Entries() []core.QueueEntry {
	out := make([]core.QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Load replaces the queue contents with persisted entries.
//
// Duplicate usernames are an integrity violation: they are merged by keeping
// the higher-priority entry (earliest EnqueuedAt on ties) and the anomaly is
// reported via a non-nil ErrQueueIntegrity error after the merge. Loading
// also recovers entries left in Processing by a crashed invocation,
// returning them to Queued.
func (q *Queue) Load(entries []core.QueueEntry) error {
	q.entries = make(map[string]*core.QueueEntry, len(entries))
	var violated bool
	for i := range entries {
		e := entries[i]
		existing, ok := q.entries[e.Username]
		if !ok {
			copied := e
			q.entries[e.Username] = &copied
			continue
		}
		violated = true
		if e.Priority > existing.Priority ||
			(e.Priority == existing.Priority && e.EnqueuedAt.Before(existing.EnqueuedAt)) {
			copied := e
			q.entries[e.Username] = &copied
		}
	}

	for _, e := range q.entries {
		if e.State == core.StateProcessing {
			e.State = core.StateQueued
		}
	}

	if violated {
		log.Printf("[Queue] merged duplicate entries at load time")
		return core.NewMonitorError("Load", core.ErrQueueIntegrity)
	}
	return nil
}

// Stats summarizes the queue by state.
func (q *Queue) Stats() map[core.QueueState]int {
	stats := map[core.QueueState]int{
		core.StateQueued:     0,
		core.StateProcessing: 0,
		core.StateCooldown:   0,
		core.StateStalled:    0,
	}
	for _, e := range q.entries {
		stats[e.State]++
	}
	return stats
}
