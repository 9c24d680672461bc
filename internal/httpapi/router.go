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
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/blobstore"
	"github.com/jordigilh/riskline/internal/config"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/editsession"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/taskqueue"
)

// VideoStore is the slice of the video repository the handlers need.
type VideoStore interface {
	Create(ctx context.Context, video domain.Video) (domain.Video, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Video, error)
}

// JobStore is the slice of the analysis-job repository the handlers need.
type JobStore interface {
	Create(ctx context.Context, job domain.AnalysisJob) (domain.AnalysisJob, error)
	Get(ctx context.Context, id uuid.UUID) (domain.AnalysisJob, error)
	List(ctx context.Context) ([]domain.AnalysisJob, error)
}

// RiskStore lists persisted risk items for the results endpoint.
type RiskStore interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.RiskItem, error)
}

// SessionStore loads (creating lazily) edit sessions and their actions.
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, jobID uuid.UUID) (domain.EditSession, error)
	ListActions(ctx context.Context, sessionID uuid.UUID) ([]domain.EditAction, error)
}

// SessionUpdater runs the edit-session reconciliation algorithm.
type SessionUpdater interface {
	UpdateSession(ctx context.Context, jobID uuid.UUID, inputs []editsession.ActionInput) ([]domain.EditAction, error)
}

// ExportStore creates and inspects export jobs for a session.
type ExportStore interface {
	CreateForSession(ctx context.Context, sessionID uuid.UUID) (domain.ExportJob, error)
	GetLatestForSession(ctx context.Context, sessionID uuid.UUID) (domain.ExportJob, error)
}

// TaskEnqueuer dispatches work to the background workers.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task taskqueue.Task) error
}

// Server is the HTTP surface: thin adapters from routes onto the job
// pipeline core. It carries no business logic of its own.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	videos     VideoStore
	jobs       JobStore
	risks      RiskStore
	sessions   SessionStore
	sessionSvc SessionUpdater
	exports    ExportStore
	blobs      blobstore.Store
	queue      TaskEnqueuer
	progress   progress.Store
}

func NewServer(
	cfg *config.Config,
	log *zap.Logger,
	videos VideoStore,
	jobs JobStore,
	risks RiskStore,
	sessions SessionStore,
	sessionSvc SessionUpdater,
	exports ExportStore,
	blobs blobstore.Store,
	queue TaskEnqueuer,
	progressStore progress.Store,
) *Server {
	return &Server{
		cfg: cfg, log: log,
		videos: videos, jobs: jobs, risks: risks,
		sessions: sessions, sessionSvc: sessionSvc, exports: exports,
		blobs: blobs, queue: queue, progress: progressStore,
	}
}

// Router assembles the chi mux with the shared middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/videos", s.handleUploadVideo)
	r.Get("/jobs", s.handleListJobs)
	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", s.handleGetJob)
		r.Get("/progress", s.handleGetProgress)
		r.Get("/events", s.handleJobEvents)
		r.Get("/results", s.handleGetResults)
		r.Get("/video", s.handleStreamVideo)
		r.Get("/video-url", s.handleVideoURL)
		r.Get("/edit-session", s.handleGetEditSession)
		r.Put("/edit-session", s.handlePutEditSession)
		r.Post("/export", s.handleStartExport)
		r.Get("/export/status", s.handleExportStatus)
		r.Get("/export/download", s.handleExportDownload)
	})

	return r
}

// jobIDParam parses the {jobID} URL segment. A string that is not a
// UUID can never name a job, so it surfaces as not-found rather than
// validation.
func jobIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errkind.New(errkind.NotFound, "job not found")
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request with method, path, status,
// and elapsed time, the shape the rest of the codebase's zap fields
// follow.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
