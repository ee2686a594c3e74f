package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// ProcessFunc does the actual work for one queued username (fetch, diff,
// commit). It must be safe to call concurrently for different usernames;
// the runner never calls it twice for the same username within a pass.
type ProcessFunc func(ctx context.Context, username string) error

// BatchRunner executes one scheduling pass over a Queue: it selects the next
// batch and processes the entries with bounded parallelism.
//
// Queue mutations (state transitions, Complete calls) all happen on the
// runner's goroutine; only the ProcessFunc runs concurrently. Suspension
// happens at the fetch boundary inside ProcessFunc and at the stagger delay
// between item launches — nowhere else.
type BatchRunner struct {
	// Parallel bounds concurrent ProcessFunc calls. Zero means 3.
	Parallel int

	// Stagger is an optional delay between item launches, used to spread
	// fetches out for rate limiting. Zero disables it.
	Stagger time.Duration
}

// BatchResult reports the outcome of one pass.
type BatchResult struct {
	// Selected is the number of entries taken from the queue.
	Selected int

	// Succeeded and Failed count per-entry outcomes. A failed entry never
	// aborts the rest of the batch.
	Succeeded int
	Failed    int
}

// Run selects up to batchSize entries from the queue and processes them.
//
// Each entry's outcome is reported back to the queue via Complete before Run
// returns, so the caller can persist the queue afterwards. Context
// cancellation stops launching new items; items already in flight finish.
func (r *BatchRunner) Run(ctx context.Context, q *Queue, batchSize int, minRevisit time.Duration, fn ProcessFunc) BatchResult {
	now := time.Now().UTC()
	batch := q.NextBatch(batchSize, minRevisit, now)
	result := BatchResult{Selected: len(batch)}
	if len(batch) == 0 {
		return result
	}

	parallel := r.Parallel
	if parallel <= 0 {
		parallel = 3
	}

	type outcome struct {
		username string
		err      error
	}

	sem := make(chan struct{}, parallel)
	outcomes := make(chan outcome, len(batch))
	var wg sync.WaitGroup

	launched := 0
	for _, entry := range batch {
		if ctx.Err() != nil {
			break
		}
		if launched > 0 && r.Stagger > 0 {
			select {
			case <-time.After(r.Stagger):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		launched++

		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes <- outcome{username: username, err: fn(ctx, username)}
		}(entry.Username)
	}

	// Entries selected but never launched (cancellation) go straight back
	// to the queue as failures without counting an attempt; Complete would
	// burn a retry for work that never started.
	for i := launched; i < len(batch); i++ {
		batch[i].State = core.StateQueued
	}

	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			log.Printf("[Runner] %s failed: %v", o.username, o.err)
			result.Failed++
		} else {
			result.Succeeded++
		}
		_ = q.Complete(o.username, o.err == nil, time.Now().UTC())
	}

	return result
}
