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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/progress"
)

// presignExpiry is the fixed lifetime of download URLs handed to
// clients.
const presignExpiry = 3600 * time.Second

type jobJSON struct {
	ID             string   `json:"id"`
	VideoID        string   `json:"video_id"`
	Status         string   `json:"status"`
	Purpose        string   `json:"purpose"`
	Platform       string   `json:"platform"`
	TargetAudience string   `json:"target_audience"`
	OverallScore   *float64 `json:"overall_score"`
	RiskLevel      *string  `json:"risk_level"`
	Error          *string  `json:"error,omitempty"`
	CreatedAt      string   `json:"created_at"`
	CompletedAt    *string  `json:"completed_at"`
}

func jobToJSON(job domain.AnalysisJob) jobJSON {
	out := jobJSON{
		ID:             job.ID.String(),
		VideoID:        job.VideoID.String(),
		Status:         string(job.Status),
		Purpose:        string(job.Purpose),
		Platform:       string(job.Platform),
		TargetAudience: job.TargetAudience,
		OverallScore:   job.OverallScore,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.RiskLevel != nil {
		level := string(*job.RiskLevel)
		out.RiskLevel = &level
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &completed
	}
	return out
}

type riskJSON struct {
	ID          string  `json:"id"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Score       float64 `json:"score"`
	Level       string  `json:"level"`
	Rationale   string  `json:"rationale"`
	Source      string  `json:"source"`
	Evidence    string  `json:"evidence"`
}

func riskToJSON(r domain.RiskItem) riskJSON {
	return riskJSON{
		ID:          r.ID.String(),
		StartSec:    r.StartSec,
		EndSec:      r.EndSec,
		Category:    string(r.Category),
		Subcategory: r.Subcategory,
		Score:       r.Score,
		Level:       string(r.Level),
		Rationale:   r.Rationale,
		Source:      string(r.Source),
		Evidence:    r.Evidence,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	out := make([]jobJSON, len(jobs))
	for i, job := range jobs {
		out[i] = jobToJSON(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToJSON(job))
}

// handleGetProgress serves the snapshot from the progress store, or
// an all-pending synthetic one when the worker has not initialized
// it yet.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, s.log, err)
		return
	}

	snap, ok, err := s.progress.Get(r.Context(), jobID.String())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !ok {
		snap = pendingSnapshot(jobID.String())
	}
	writeJSON(w, http.StatusOK, snap)
}

// pendingSnapshot is the synthetic all-pending document served
// before the worker's Init lands.
func pendingSnapshot(jobID string) progress.Snapshot {
	phases := make(map[progress.Phase]progress.PhaseState, len(progress.AnalysisPhases))
	for _, p := range progress.AnalysisPhases {
		phases[p] = progress.PhaseState{Status: progress.StatusPending}
	}
	return progress.Snapshot{
		JobID:  jobID,
		Status: progress.StatusPending,
		Phases: phases,
	}
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if job.Status != domain.JobCompleted {
		writeError(w, s.log, errkind.New(errkind.Validation, fmt.Sprintf("job is %s, not completed", job.Status)))
		return
	}

	risks, err := s.risks.ListByJob(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	riskOut := make([]riskJSON, len(risks))
	for i, risk := range risks {
		riskOut[i] = riskToJSON(risk)
	}

	body := map[string]any{
		"job":   jobToJSON(job),
		"risks": riskOut,
	}
	if video, err := s.videos.Get(ctx, job.VideoID); err == nil {
		if url, err := s.blobs.PresignGet(ctx, video.BlobPath, presignExpiry); err == nil {
			body["video_url"] = url
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleStreamVideo proxies the source blob to the client.
func (s *Server) handleStreamVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	video, err := s.videos.Get(ctx, job.VideoID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", video.OriginalName))
	if video.ByteSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(video.ByteSize, 10))
	}
	if err := s.blobs.Download(ctx, video.BlobPath, w); err != nil {
		// Headers are already on the wire; all that is left is to log.
		s.log.Warn("video stream aborted", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func (s *Server) handleVideoURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	video, err := s.videos.Get(ctx, job.VideoID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	url, err := s.blobs.PresignGet(ctx, video.BlobPath, presignExpiry)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(presignExpiry.Seconds()),
	})
}
