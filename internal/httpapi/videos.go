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
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/taskqueue"
	"github.com/jordigilh/riskline/pkg/metrics"
)

// multipartMemoryLimit is how much of the form is buffered in memory
// before spilling to disk; the video part itself streams from a temp
// file either way.
const multipartMemoryLimit = 10 << 20

type uploadFields struct {
	Purpose        string `validate:"required,oneof=ad_review influencer_post general"`
	Platform       string `validate:"required,oneof=tiktok youtube_shorts instagram_reels"`
	TargetAudience string `validate:"required,max=200"`
}

// handleUploadVideo validates the multipart upload, stores the blob
// under videos/{uuid}.mp4, inserts the Video and its pending
// AnalysisJob, and enqueues the analysis task.
func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The +1 MiB headroom covers the non-file form fields; the file
	// size itself is checked exactly below.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSizeBytes()+1<<20)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		metrics.RecordUpload("rejected")
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds the configured size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed multipart request"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	fields := uploadFields{
		Purpose:        r.FormValue("purpose"),
		Platform:       r.FormValue("platform"),
		TargetAudience: r.FormValue("target_audience"),
	}
	if err := checkStruct(fields); err != nil {
		metrics.RecordUpload("rejected")
		writeError(w, s.log, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		metrics.RecordUpload("rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
		return
	}
	defer file.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !s.extensionAllowed(ext) {
		metrics.RecordUpload("rejected")
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": fmt.Sprintf("unsupported file extension %q", ext)})
		return
	}
	if header.Size > s.cfg.MaxUploadSizeBytes() {
		metrics.RecordUpload("rejected")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds the configured size limit"})
		return
	}

	blobPath := fmt.Sprintf("videos/%s.%s", uuid.New(), ext)
	if err := s.blobs.Upload(ctx, blobPath, file, "video/mp4"); err != nil {
		metrics.RecordUpload("rejected")
		writeError(w, s.log, err)
		return
	}

	video, err := s.videos.Create(ctx, domain.Video{
		BlobPath:     blobPath,
		OriginalName: header.Filename,
		ByteSize:     header.Size,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	job, err := s.jobs.Create(ctx, domain.AnalysisJob{
		VideoID:        video.ID,
		Purpose:        domain.UploadPurpose(fields.Purpose),
		Platform:       domain.Platform(fields.Platform),
		TargetAudience: fields.TargetAudience,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.queue.Enqueue(ctx, taskqueue.Task{Kind: taskqueue.KindAnalysis, ID: job.ID.String()}); err != nil {
		writeError(w, s.log, err)
		return
	}

	metrics.RecordUpload("accepted")
	writeJSON(w, http.StatusAccepted, jobToJSON(job))
}

func (s *Server) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
