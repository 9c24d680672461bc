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

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/sseserver"
	"github.com/jordigilh/riskline/pkg/metrics"
)

// handleJobEvents streams progress snapshots as Server-Sent Events:
// the current snapshot (or {}) immediately on connect, then a
// `progress` event whenever the polled snapshot changes, and one
// final `complete` event when the job reaches a terminal status.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		writeError(w, s.log, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.SSEConnectionsOpen.Inc()
	defer metrics.SSEConnectionsOpen.Dec()

	// The connect-time emit happens before the generator starts so a
	// client always receives something, even when no snapshot exists
	// yet.
	if _, ok, err := s.progress.Get(ctx, jobID.String()); err != nil || !ok {
		fmt.Fprint(w, "event: progress\ndata: {}\n\n")
		flusher.Flush()
	}

	gen := sseserver.NewGenerator(s.progress, jobID.String())
	go gen.Run(ctx)

	var last progress.Snapshot
	var seen bool
	for snap := range gen.Events() {
		data, err := json.Marshal(snap)
		if err != nil {
			s.log.Warn("snapshot marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
		flusher.Flush()
		last, seen = snap, true
	}

	// The generator closes its channel either on client disconnect or
	// on a terminal snapshot; only the latter gets the complete event.
	if seen && (last.Status == progress.StatusCompleted || last.Status == progress.StatusFailed) {
		fmt.Fprintf(w, "event: complete\ndata: {\"status\":%q}\n\n", last.Status)
		flusher.Flush()
	}
}
