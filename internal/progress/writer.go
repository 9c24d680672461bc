/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package progress

import (
	"context"
	"sync"
)

// phaseUpdate is one call queued onto a JobWriter.
type phaseUpdate struct {
	phase  Phase
	status Status
	pct    float64
	result chan<- updateResult
}

type updateResult struct {
	snap Snapshot
	err  error
}

// JobWriter serializes every phase callback for a single job run
// through one owning goroutine, so that even against a Store whose
// Update is not itself atomic, concurrent analyzer goroutines never
// race each other's read-modify-write. It is belt-and-suspenders on
// top of RedisStore's own Lua-script atomicity, not a replacement for
// it: callers holding only a Store (no JobWriter) still get atomic
// per-call updates.
type JobWriter struct {
	store   Store
	jobID   string
	updates chan phaseUpdate

	// closed signals Close; done closes once the owning goroutine has
	// exited. Updates are never sent on a closed channel, so a caller
	// racing Close gets an error instead of a panic.
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewJobWriter starts the owning goroutine for jobID. Call Close when
// the job run finishes to release it.
func NewJobWriter(ctx context.Context, store Store, jobID string) *JobWriter {
	w := &JobWriter{
		store:   store,
		jobID:   jobID,
		updates: make(chan phaseUpdate, 16),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *JobWriter) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			return
		case u := <-w.updates:
			// select picks at random among ready cases, so re-check
			// Close and cancellation before touching the store.
			select {
			case <-w.closed:
				return
			case <-ctx.Done():
				return
			default:
			}
			snap, err := w.store.Update(ctx, w.jobID, u.phase, u.status, u.pct)
			u.result <- updateResult{snap: snap, err: err}
		}
	}
}

// Update enqueues a phase update and blocks for its result, preserving
// the synchronous call shape orchestrator phase callbacks expect.
// After Close (or cancellation of the owning context) it returns an
// error without touching the store.
func (w *JobWriter) Update(ctx context.Context, phase Phase, status Status, pct float64) (Snapshot, error) {
	result := make(chan updateResult, 1)
	select {
	case w.updates <- phaseUpdate{phase: phase, status: status, pct: pct, result: result}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-w.done:
		return Snapshot{}, context.Canceled
	}

	select {
	case r := <-result:
		return r.snap, r.err
	case <-w.done:
		// Accepted into the buffer but the owner exited first.
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close stops the owning goroutine. Safe to call multiple times.
func (w *JobWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
	})
}
