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

// Package progress maintains keyed, TTL-bounded progress snapshots
// for analysis jobs and export jobs, backed by a shared Redis
// instance so every worker and API process observes the same state.
package progress

// Phase is one of the four analysis phases, or "processing" for a
// single-phase export snapshot.
type Phase string

const (
	PhaseAudio Phase = "audio"
	PhaseOCR   Phase = "ocr"
	PhaseVideo Phase = "video"
	PhaseRisk  Phase = "risk"

	// PhaseExport is the lone phase tracked under an export key.
	PhaseExport Phase = "processing"
)

// AnalysisPhases lists the four phases in the fixed weighting order.
var AnalysisPhases = []Phase{PhaseAudio, PhaseOCR, PhaseVideo, PhaseRisk}

// DefaultWeights assigns each analysis phase equal weight.
var DefaultWeights = map[Phase]float64{
	PhaseAudio: 0.25,
	PhaseOCR:   0.25,
	PhaseVideo: 0.25,
	PhaseRisk:  0.25,
}

// Status is shared between phase-level and job-level status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// PhaseState is one phase's (status, percentage) pair.
type PhaseState struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
}

// Snapshot is the stable JSON progress document served to clients.
type Snapshot struct {
	JobID                      string                `json:"job_id"`
	Status                     Status                `json:"status"`
	Overall                    float64               `json:"overall"`
	Phases                     map[Phase]PhaseState  `json:"phases"`
	EstimatedRemainingSeconds  *float64              `json:"estimated_remaining_seconds"`
	Error                      *string               `json:"error,omitempty"`
}

// Equal performs the structural-equality comparison the SSE
// generator needs to decide whether a snapshot changed.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.JobID != other.JobID || s.Status != other.Status || s.Overall != other.Overall {
		return false
	}
	if (s.Error == nil) != (other.Error == nil) {
		return false
	}
	if s.Error != nil && *s.Error != *other.Error {
		return false
	}
	if (s.EstimatedRemainingSeconds == nil) != (other.EstimatedRemainingSeconds == nil) {
		return false
	}
	if s.EstimatedRemainingSeconds != nil && *s.EstimatedRemainingSeconds != *other.EstimatedRemainingSeconds {
		return false
	}
	if len(s.Phases) != len(other.Phases) {
		return false
	}
	for k, v := range s.Phases {
		ov, ok := other.Phases[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// DeriveStatus derives the job-level status from the phase states;
// it is the Go reference for the same derivation the store's Lua
// script performs server-side. For analysis snapshots the risk phase
// is the join point: once it is terminal it decides the outcome, so a
// degraded perceptual phase leaves the job processing (and ultimately
// completed) rather than failing it outright. Single-phase export
// snapshots fail on any failure.
func DeriveStatus(phases map[Phase]PhaseState, order []Phase) Status {
	if risk, ok := phases[PhaseRisk]; ok {
		switch risk.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCompleted:
			return StatusCompleted
		default:
			return StatusProcessing
		}
	}

	allCompleted := true
	for _, p := range order {
		st, ok := phases[p]
		if !ok {
			allCompleted = false
			continue
		}
		switch st.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return StatusCompleted
	}
	return StatusProcessing
}
