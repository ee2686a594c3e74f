package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/scheduler"
)

func TestBatchRunner_Run(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()
	q.Enqueue([]string{"a", "b", "c"}, core.CategoryMutual, now)

	var mu sync.Mutex
	processed := map[string]int{}

	runner := &scheduler.BatchRunner{Parallel: 2}
	result := runner.Run(context.Background(), q, 3, 0, func(ctx context.Context, username string) error {
		mu.Lock()
		processed[username]++
		mu.Unlock()
		if username == "b" {
			return errors.New("fetch blew up")
		}
		return nil
	})

	assert.Equal(t, 3, result.Selected)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// Each selected entry ran exactly once.
	for _, u := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, processed[u], u)
	}

	// Outcomes were reported back to the queue.
	entry, err := q.Get("a")
	require.NoError(t, err)
	assert.Equal(t, core.StateCooldown, entry.State)

	entry, err = q.Get("b")
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, entry.State)
	assert.Equal(t, 1, entry.Attempts)
}

func TestBatchRunner_Run_EmptyQueue(t *testing.T) {
	q := newTestQueue()

	runner := &scheduler.BatchRunner{}
	result := runner.Run(context.Background(), q, 5, 0, func(ctx context.Context, username string) error {
		t.Fatal("process func must not run on an empty queue")
		return nil
	})

	assert.Equal(t, scheduler.BatchResult{}, result)
}

func TestBatchRunner_Run_BoundedParallelism(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()
	q.Enqueue([]string{"a", "b", "c", "d", "e", "f"}, core.CategoryMutual, now)

	var mu sync.Mutex
	inFlight, peak := 0, 0

	runner := &scheduler.BatchRunner{Parallel: 2}
	result := runner.Run(context.Background(), q, 6, 0, func(ctx context.Context, username string) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	assert.Equal(t, 6, result.Succeeded)
	assert.LessOrEqual(t, peak, 2, "parallelism bound exceeded")
}

func TestBatchRunner_Run_CancelledContext(t *testing.T) {
	q := newTestQueue()
	now := time.Now().UTC()
	q.Enqueue([]string{"a", "b", "c"}, core.CategoryMutual, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &scheduler.BatchRunner{Parallel: 1}
	result := runner.Run(ctx, q, 3, 0, func(ctx context.Context, username string) error {
		return nil
	})

	assert.Equal(t, 3, result.Selected)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	// Unlaunched entries went back to Queued without burning an attempt.
	for _, u := range []string{"a", "b", "c"} {
		entry, err := q.Get(u)
		require.NoError(t, err)
		assert.Equal(t, core.StateQueued, entry.State, u)
		assert.Equal(t, 0, entry.Attempts, u)
	}
}

func TestBackoffPolicy_Delay(t *testing.T) {
	p := scheduler.DefaultBackoffPolicy()

	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 32*time.Minute, p.Delay(6))

	// Capped at the maximum.
	assert.Equal(t, time.Hour, p.Delay(7))
	assert.Equal(t, time.Hour, p.Delay(20))
}

func TestBackoffPolicy_Delay_ZeroAttempt(t *testing.T) {
	p := scheduler.DefaultBackoffPolicy()
	assert.Equal(t, time.Minute, p.Delay(0))
}
