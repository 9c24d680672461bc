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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/config"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/editsession"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/taskqueue"
)

var _ = Describe("HTTP API", func() {
	var (
		videos      *fakeVideoStore
		jobs        *fakeJobStore
		risks       *fakeRiskStore
		sessionRepo *fakeSessionRepo
		exports     *fakeExportStore
		queue       *fakeQueue
		blobs       *fakeBlobStore
		progStore   *fakeProgressStore
		ts          *httptest.Server
	)

	BeforeEach(func() {
		videos = newFakeVideoStore()
		jobs = newFakeJobStore()
		risks = &fakeRiskStore{risks: make(map[uuid.UUID][]domain.RiskItem)}
		sessionRepo = newFakeSessionRepo()
		exports = newFakeExportStore()
		queue = &fakeQueue{}
		blobs = newFakeBlobStore()
		progStore = newFakeProgressStore()

		cfg := config.Default()
		cfg.Upload.MaxSizeMB = 1

		server := NewServer(
			cfg, zap.NewNop(),
			videos, jobs, risks,
			sessionRepo, editsession.NewService(sessionRepo), exports,
			blobs, queue, progStore,
		)
		ts = httptest.NewServer(server.Router())
	})

	AfterEach(func() {
		ts.Close()
	})

	seedJob := func(status domain.JobStatus) domain.AnalysisJob {
		video, err := videos.Create(context.Background(), domain.Video{
			BlobPath:     "videos/seed.mp4",
			OriginalName: "clip.mp4",
			ByteSize:     2048,
		})
		Expect(err).NotTo(HaveOccurred())
		job, err := jobs.Create(context.Background(), domain.AnalysisJob{
			VideoID:        video.ID,
			Purpose:        domain.PurposeGeneral,
			Platform:       domain.PlatformTikTok,
			TargetAudience: "teens",
		})
		Expect(err).NotTo(HaveOccurred())
		job.Status = status
		jobs.put(job)
		return job
	}

	uploadRequest := func(filename string, size int) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(bytes.Repeat([]byte("x"), size))
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.WriteField("purpose", "general")).To(Succeed())
		Expect(mw.WriteField("platform", "tiktok")).To(Succeed())
		Expect(mw.WriteField("target_audience", "teens")).To(Succeed())
		Expect(mw.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ts.URL+"/videos", &buf)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	Describe("POST /videos", func() {
		It("accepts a valid upload, stores the blob, and enqueues analysis", func() {
			resp, err := http.DefaultClient.Do(uploadRequest("clip.mp4", 2048))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var body jobJSON
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Status).To(Equal("pending"))

			tasks := queue.enqueued()
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].Kind).To(Equal(taskqueue.KindAnalysis))
			Expect(tasks[0].ID).To(Equal(body.ID))

			Expect(blobs.blobs).To(HaveLen(1))
		})

		It("rejects an unsupported extension with 415", func() {
			resp, err := http.DefaultClient.Do(uploadRequest("clip.mov", 64))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			Expect(queue.enqueued()).To(BeEmpty())
		})

		It("rejects an oversized upload with 413", func() {
			resp, err := http.DefaultClient.Do(uploadRequest("clip.mp4", 1<<20+1))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
		})

		It("rejects missing metadata fields with 400", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", "clip.mp4")
			Expect(err).NotTo(HaveOccurred())
			_, _ = part.Write([]byte("data"))
			Expect(mw.Close()).To(Succeed())

			req, err := http.NewRequest(http.MethodPost, ts.URL+"/videos", &buf)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", mw.FormDataContentType())

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /jobs/{id}", func() {
		It("returns 404 for an unknown job", func() {
			resp, err := http.Get(ts.URL + "/jobs/" + uuid.NewString())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns 404 for a malformed id", func() {
			resp, err := http.Get(ts.URL + "/jobs/not-a-uuid")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns the job summary", func() {
			job := seedJob(domain.JobProcessing)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body jobJSON
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.ID).To(Equal(job.ID.String()))
			Expect(body.Status).To(Equal("processing"))
		})
	})

	Describe("GET /jobs/{id}/progress", func() {
		It("serves a synthetic all-pending snapshot before the worker initializes one", func() {
			job := seedJob(domain.JobPending)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/progress")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var snap progress.Snapshot
			Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
			Expect(snap.Status).To(Equal(progress.StatusPending))
			Expect(snap.Phases).To(HaveLen(4))
			for _, state := range snap.Phases {
				Expect(state.Status).To(Equal(progress.StatusPending))
			}
		})

		It("serves the stored snapshot when present", func() {
			job := seedJob(domain.JobProcessing)
			snap := pendingSnapshot(job.ID.String())
			snap.Status = progress.StatusProcessing
			snap.Overall = 50
			progStore.put(job.ID.String(), snap)

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/progress")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var got progress.Snapshot
			Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
			Expect(got.Overall).To(Equal(50.0))
		})
	})

	Describe("GET /jobs/{id}/results", func() {
		It("rejects a job that has not completed with 400", func() {
			job := seedJob(domain.JobProcessing)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/results")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns risks ordered by start-sec with a presigned video URL", func() {
			job := seedJob(domain.JobCompleted)
			risks.risks[job.ID] = []domain.RiskItem{
				{ID: uuid.New(), JobID: job.ID, StartSec: 8, EndSec: 9, Category: domain.CategoryMisleading, Level: domain.RiskLow, Source: domain.SourceOCR},
				{ID: uuid.New(), JobID: job.ID, StartSec: 2, EndSec: 4, Category: domain.CategoryAggressiveness, Level: domain.RiskHigh, Source: domain.SourceAudio},
			}

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/results")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Risks    []riskJSON `json:"risks"`
				VideoURL string     `json:"video_url"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Risks).To(HaveLen(2))
			Expect(body.Risks[0].StartSec).To(Equal(2.0))
			Expect(body.Risks[1].StartSec).To(Equal(8.0))
			Expect(body.VideoURL).To(ContainSubstring("signed=1"))
		})
	})

	Describe("GET /jobs/{id}/video-url", func() {
		It("presigns the source blob with a one-hour expiry", func() {
			job := seedJob(domain.JobCompleted)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/video-url")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				URL       string `json:"url"`
				ExpiresIn int    `json:"expires_in"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.URL).To(ContainSubstring("videos/seed.mp4"))
			Expect(body.ExpiresIn).To(Equal(3600))
		})
	})

	Describe("GET /jobs/{id}/video", func() {
		It("streams the blob with inline disposition", func() {
			job := seedJob(domain.JobCompleted)
			content := strings.Repeat("x", 2048) // matches the seeded byte size
			Expect(blobs.Upload(context.Background(), "videos/seed.mp4", strings.NewReader(content), "video/mp4")).To(Succeed())

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/video")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`inline; filename="clip.mp4"`))
			Expect(resp.Header.Get("Content-Length")).To(Equal("2048"))

			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(HaveLen(2048))
		})
	})

	Describe("edit session", func() {
		It("creates the session lazily on first GET", func() {
			job := seedJob(domain.JobCompleted)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/edit-session")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body sessionJSON
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.JobID).To(Equal(job.ID.String()))
			Expect(body.Status).To(Equal("draft"))
			Expect(body.Actions).To(BeEmpty())
		})

		It("updates kept ids, deletes unkept ones, and creates the rest", func() {
			job := seedJob(domain.JobCompleted)
			session, err := sessionRepo.GetOrCreateSession(context.Background(), job.ID)
			Expect(err).NotTo(HaveOccurred())

			muteID, cutID := uuid.New(), uuid.New()
			sessionRepo.seedActions(session.ID, []domain.EditAction{
				{ID: muteID, SessionID: session.ID, Type: domain.ActionMute, StartSec: 0, EndSec: 2},
				{ID: cutID, SessionID: session.ID, Type: domain.ActionCut, StartSec: 3, EndSec: 5},
			})

			payload := fmt.Sprintf(`{"actions":[
				{"id":%q,"type":"mute","start_sec":1,"end_sec":2},
				{"type":"cut","start_sec":7,"end_sec":9}
			]}`, muteID)

			req, err := http.NewRequest(http.MethodPut, ts.URL+"/jobs/"+job.ID.String()+"/edit-session", strings.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body sessionJSON
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Actions).To(HaveLen(2))
			Expect(body.Actions[0].ID).To(Equal(muteID.String()))
			Expect(body.Actions[0].StartSec).To(Equal(1.0))
			Expect(body.Actions[1].Type).To(Equal("cut"))
			Expect(body.Actions[1].StartSec).To(Equal(7.0))
			Expect(body.Actions[1].ID).NotTo(Equal(cutID.String()))
		})

		It("rejects an action whose start is not before its end", func() {
			job := seedJob(domain.JobCompleted)
			payload := `{"actions":[{"type":"cut","start_sec":5,"end_sec":5}]}`

			req, err := http.NewRequest(http.MethodPut, ts.URL+"/jobs/"+job.ID.String()+"/edit-session", strings.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an id that does not belong to the session", func() {
			job := seedJob(domain.JobCompleted)
			payload := fmt.Sprintf(`{"actions":[{"id":%q,"type":"cut","start_sec":1,"end_sec":2}]}`, uuid.New())

			req, err := http.NewRequest(http.MethodPut, ts.URL+"/jobs/"+job.ID.String()+"/edit-session", strings.NewReader(payload))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /jobs/{id}/export", func() {
		It("enqueues an export task for an idle session", func() {
			job := seedJob(domain.JobCompleted)
			resp, err := http.Post(ts.URL+"/jobs/"+job.ID.String()+"/export", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			tasks := queue.enqueued()
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].Kind).To(Equal(taskqueue.KindExport))
		})

		It("rejects with 409 while an export is in flight, creating nothing", func() {
			job := seedJob(domain.JobCompleted)
			session, err := sessionRepo.GetOrCreateSession(context.Background(), job.ID)
			Expect(err).NotTo(HaveOccurred())
			exports.seed(session.ID, domain.ExportJob{
				ID: uuid.New(), SessionID: session.ID,
				Status: domain.ExportProcessing, CreatedAt: time.Now(),
			})

			resp, err := http.Post(ts.URL+"/jobs/"+job.ID.String()+"/export", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(exports.created).To(BeZero())
			Expect(queue.enqueued()).To(BeEmpty())
		})
	})

	Describe("GET /jobs/{id}/export/status", func() {
		It("merges the export row with its progress snapshot", func() {
			job := seedJob(domain.JobCompleted)
			session, err := sessionRepo.GetOrCreateSession(context.Background(), job.ID)
			Expect(err).NotTo(HaveOccurred())
			export := domain.ExportJob{
				ID: uuid.New(), SessionID: session.ID,
				Status: domain.ExportProcessing, CreatedAt: time.Now(),
			}
			exports.seed(session.ID, export)
			progStore.put("export:"+export.ID.String(), progress.Snapshot{
				JobID:   "export:" + export.ID.String(),
				Status:  progress.StatusProcessing,
				Overall: 42,
				Phases: map[progress.Phase]progress.PhaseState{
					progress.PhaseExport: {Status: progress.StatusProcessing, Progress: 42},
				},
			})

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/export/status")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Export   exportJSON        `json:"export"`
				Progress progress.Snapshot `json:"progress"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Export.Status).To(Equal("processing"))
			Expect(body.Progress.Overall).To(Equal(42.0))
		})

		It("returns 404 when no export was ever started", func() {
			job := seedJob(domain.JobCompleted)
			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/export/status")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /jobs/{id}/export/download", func() {
		It("presigns the exported blob once completed", func() {
			job := seedJob(domain.JobCompleted)
			session, err := sessionRepo.GetOrCreateSession(context.Background(), job.ID)
			Expect(err).NotTo(HaveOccurred())
			output := fmt.Sprintf("exports/%s/%s.mp4", job.ID, uuid.New())
			exports.seed(session.ID, domain.ExportJob{
				ID: uuid.New(), SessionID: session.ID,
				Status: domain.ExportCompleted, OutputBlobPath: &output,
				CreatedAt: time.Now(),
			})

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/export/download")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				URL string `json:"url"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.URL).To(ContainSubstring(output))
		})

		It("returns 404 while the latest export is not completed", func() {
			job := seedJob(domain.JobCompleted)
			session, err := sessionRepo.GetOrCreateSession(context.Background(), job.ID)
			Expect(err).NotTo(HaveOccurred())
			exports.seed(session.ID, domain.ExportJob{
				ID: uuid.New(), SessionID: session.ID,
				Status: domain.ExportFailed, CreatedAt: time.Now(),
			})

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/export/download")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /jobs/{id}/events", func() {
		It("emits the terminal snapshot and a complete event, then closes", func() {
			job := seedJob(domain.JobCompleted)
			snap := pendingSnapshot(job.ID.String())
			snap.Status = progress.StatusCompleted
			snap.Overall = 100
			for phase := range snap.Phases {
				snap.Phases[phase] = progress.PhaseState{Status: progress.StatusCompleted, Progress: 100}
			}
			progStore.put(job.ID.String(), snap)

			resp, err := http.Get(ts.URL + "/jobs/" + job.ID.String() + "/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			body := string(data)
			Expect(body).To(ContainSubstring("event: progress"))
			Expect(body).To(ContainSubstring(`"overall":100`))
			Expect(body).To(ContainSubstring("event: complete"))
			Expect(body).To(ContainSubstring(`"status":"completed"`))
		})
	})

	Describe("GET /health", func() {
		It("reports liveness", func() {
			resp, err := http.Get(ts.URL + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
