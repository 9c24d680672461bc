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

import "context"

// TTL is how long a snapshot (and its paired start-time marker)
// survives in the backing cache.
const TTL = 24 * 60 * 60 // seconds, kept as an int for the Lua script

// Store is the keyed, TTL-bounded progress snapshot service used by
// both the orchestrator/export-runner (writer) and HTTP observers
// (readers, including SSE). Implementations MUST guarantee that
// Update is an atomic read-modify-write, or that callers serialize
// updates for one key through a single writer (see JobWriter).
type Store interface {
	// Init writes the initial snapshot with all four phases pending.
	Init(ctx context.Context, jobID string) error

	// Update recomputes overall/status and, when overall > 0, the
	// estimated remaining time.
	Update(ctx context.Context, jobID string, phase Phase, status Status, pct float64) (Snapshot, error)

	// Complete forces every phase to 100/completed and the job to completed.
	Complete(ctx context.Context, jobID string) error

	// Fail forces the job to failed, preserving last phase values.
	Fail(ctx context.Context, jobID string, errMsg string) error

	Get(ctx context.Context, jobID string) (Snapshot, bool, error)
	Delete(ctx context.Context, jobID string) error
}

// phaseOrderFor returns which phases a key tracks: the four analysis
// phases, or the single export phase. Export snapshots reuse the
// same Store under a distinct key prefix supplied by the caller
// (e.g. "export:" + export-id).
func phaseOrderFor(phases map[Phase]PhaseState) []Phase {
	if _, ok := phases[PhaseExport]; ok && len(phases) == 1 {
		return []Phase{PhaseExport}
	}
	return AnalysisPhases
}
