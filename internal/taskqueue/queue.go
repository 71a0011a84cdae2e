// Package taskqueue implements AsyncTaskQueue (spec §4.2): a
// bounded-concurrency scheduler where non-barrier tasks run up to
// maxConcurrentTasks at once, FIFO among tasks eligible to run, and a
// barrier task runs alone with every other task drained first.
package taskqueue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/scribd/lucid/internal/storeerr"
)

// unboundedWeight stands in for "no concurrency bound" when New is called
// with maxConcurrentTasks <= 0. golang.org/x/sync/semaphore.Weighted needs a
// fixed capacity at construction, so a barrier (which must acquire the full
// capacity) still works: it just acquires this large constant instead of a
// small configured bound.
const unboundedWeight = int64(1) << 32

// TaskFunc is the work performed by one queued task. It must respect ctx's
// deadline and cancellation; the queue cannot preempt a running task.
type TaskFunc func(ctx context.Context) (interface{}, error)

// Queue is an AsyncTaskQueue instance. The zero value is not usable; use New.
type Queue struct {
	sem    *semaphore.Weighted
	weight int64
}

// New constructs a Queue. maxConcurrentTasks <= 0 means unbounded
// non-barrier concurrency (a barrier still excludes every other task).
func New(maxConcurrentTasks int64) *Queue {
	w := maxConcurrentTasks
	if w <= 0 {
		w = unboundedWeight
	}
	return &Queue{sem: semaphore.NewWeighted(w), weight: w}
}

type taskResult struct {
	value interface{}
	err   error
}

// Enqueue schedules fn and blocks until it completes, times out, or ctx is
// cancelled while waiting. A timeout <= 0 means no deadline beyond ctx's own.
//
// On timeout, Enqueue returns immediately with a timeoutElapsed error and
// force-releases fn's concurrency slot so other tasks can proceed — fn
// itself is not preempted and keeps running in the background until it
// returns, at which point it also releases its slot. Release is idempotent
// (sync.Once per task) so this double release is safe (spec §4.2).
func (q *Queue) Enqueue(ctx context.Context, timeout time.Duration, fn TaskFunc) (interface{}, error) {
	return q.enqueue(ctx, timeout, 1, fn)
}

// EnqueueBarrier schedules fn as a barrier task: every previously enqueued
// task runs to completion first, fn then runs alone, and only then may
// subsequently enqueued tasks start.
func (q *Queue) EnqueueBarrier(ctx context.Context, timeout time.Duration, fn TaskFunc) (interface{}, error) {
	return q.enqueue(ctx, timeout, q.weight, fn)
}

func (q *Queue) enqueue(ctx context.Context, timeout time.Duration, weight int64, fn TaskFunc) (interface{}, error) {
	if err := q.sem.Acquire(ctx, weight); err != nil {
		return nil, storeerr.Wrap("AsyncTaskQueue.Enqueue", storeerr.KindNetworkCancelled, err)
	}

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { q.sem.Release(weight) }) }

	resultCh := make(chan taskResult, 1)
	go func() {
		defer release()
		v, err := fn(ctx)
		resultCh <- taskResult{value: v, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-timeoutCh:
		release()
		return nil, storeerr.New("AsyncTaskQueue.Enqueue", storeerr.KindTimeoutElapsed)
	case <-ctx.Done():
		return nil, storeerr.Wrap("AsyncTaskQueue.Enqueue", storeerr.KindNetworkCancelled, ctx.Err())
	}
}
