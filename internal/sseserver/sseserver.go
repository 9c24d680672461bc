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

// Package sseserver streams progress snapshots to HTTP clients as
// Server-Sent Events, polling the shared progress store once per
// second and only emitting a new event when the snapshot actually
// changed.
package sseserver

import (
	"context"
	"time"

	"github.com/jordigilh/riskline/internal/progress"
)

// pollInterval is fixed at one second per the progress store's own
// observed write cadence; polling faster would only replay the same
// snapshot.
const pollInterval = time.Second

// Generator polls a Store for one job key and emits a Snapshot on
// Events() only when it differs (structurally) from the last one
// emitted on this connection, and never with a lower Overall than
// what was already sent unless the job has failed.
type Generator struct {
	store    progress.Store
	key      string
	events   chan progress.Snapshot
	interval time.Duration
}

// NewGenerator only builds the generator; polling starts when Run is
// called. Call Run in its own goroutine and Events to consume.
func NewGenerator(store progress.Store, key string) *Generator {
	return &Generator{store: store, key: key, events: make(chan progress.Snapshot), interval: pollInterval}
}

// Events yields snapshots as they pass the dedup/monotonicity filter.
// The channel is closed when Run returns.
func (g *Generator) Events() <-chan progress.Snapshot {
	return g.events
}

// Run polls until ctx is cancelled (e.g. the client disconnected) or
// the job reaches a terminal status, then closes Events().
func (g *Generator) Run(ctx context.Context) {
	defer close(g.events)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	var (
		lastSent     progress.Snapshot
		haveSent     bool
		highestOverall float64
	)

	emit := func(snap progress.Snapshot) bool {
		if haveSent && snap.Equal(lastSent) {
			return true
		}
		if haveSent && snap.Overall < highestOverall && snap.Status != progress.StatusFailed {
			return true
		}

		select {
		case g.events <- snap:
		case <-ctx.Done():
			return false
		}

		lastSent = snap
		haveSent = true
		if snap.Overall > highestOverall {
			highestOverall = snap.Overall
		}
		return true
	}

	for {
		snap, ok, err := g.store.Get(ctx, g.key)
		if err == nil && ok {
			if !emit(snap) {
				return
			}
			if snap.Status == progress.StatusCompleted || snap.Status == progress.StatusFailed {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
