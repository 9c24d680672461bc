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
	"net/http"
	"time"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/taskqueue"
)

type exportJSON struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	OutputBlobPath *string `json:"output_blob_path,omitempty"`
	Error          *string `json:"error,omitempty"`
	CreatedAt      string  `json:"created_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

func exportToJSON(e domain.ExportJob) exportJSON {
	out := exportJSON{
		ID:             e.ID.String(),
		SessionID:      e.SessionID.String(),
		Status:         string(e.Status),
		OutputBlobPath: e.OutputBlobPath,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.CompletedAt != nil {
		completed := e.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &completed
	}
	return out
}

// handleStartExport enqueues a new export for the job's session,
// rejecting with 409 while a prior attempt is still in flight.
func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
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
	session, err := s.sessions.GetOrCreateSession(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	latest, err := s.exports.GetLatestForSession(ctx, session.ID)
	if err != nil && !errkind.Is(err, errkind.NotFound) {
		writeError(w, s.log, err)
		return
	}
	if err == nil && (latest.Status == domain.ExportPending || latest.Status == domain.ExportProcessing) {
		writeError(w, s.log, errkind.New(errkind.Conflict, "an export is already in flight for this session"))
		return
	}

	export, err := s.exports.CreateForSession(ctx, session.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.queue.Enqueue(ctx, taskqueue.Task{Kind: taskqueue.KindExport, ID: export.ID.String()}); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exportToJSON(export))
}

// handleExportStatus merges the latest export job's row with its
// progress snapshot.
func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
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
	session, err := s.sessions.GetOrCreateSession(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	latest, err := s.exports.GetLatestForSession(ctx, session.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	body := map[string]any{"export": exportToJSON(latest)}
	if snap, ok, err := s.progress.Get(ctx, "export:"+latest.ID.String()); err == nil && ok {
		body["progress"] = snap
	}
	writeJSON(w, http.StatusOK, body)
}

// handleExportDownload presigns the exported blob.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
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
	session, err := s.sessions.GetOrCreateSession(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	latest, err := s.exports.GetLatestForSession(ctx, session.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if latest.Status != domain.ExportCompleted || latest.OutputBlobPath == nil {
		writeError(w, s.log, errkind.New(errkind.NotFound, "no completed export for this session"))
		return
	}

	url, err := s.blobs.PresignGet(ctx, *latest.OutputBlobPath, presignExpiry)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(presignExpiry.Seconds()),
	})
}
