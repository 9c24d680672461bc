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
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/taskqueue"
)

type fakeVideoStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]domain.Video
}

func newFakeVideoStore() *fakeVideoStore {
	return &fakeVideoStore{videos: make(map[uuid.UUID]domain.Video)}
}

func (f *fakeVideoStore) Create(_ context.Context, video domain.Video) (domain.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	video.ID = uuid.New()
	video.CreatedAt = time.Now()
	f.videos[video.ID] = video
	return video, nil
}

func (f *fakeVideoStore) Get(_ context.Context, id uuid.UUID) (domain.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	video, ok := f.videos[id]
	if !ok {
		return domain.Video{}, errkind.New(errkind.NotFound, "video not found")
	}
	return video, nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.AnalysisJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]domain.AnalysisJob)}
}

func (f *fakeJobStore) Create(_ context.Context, job domain.AnalysisJob) (domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.New()
	job.Status = domain.JobPending
	job.CreatedAt = time.Now()
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobStore) Get(_ context.Context, id uuid.UUID) (domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.AnalysisJob{}, errkind.New(errkind.NotFound, "job not found")
	}
	return job, nil
}

func (f *fakeJobStore) List(_ context.Context) ([]domain.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AnalysisJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeJobStore) put(job domain.AnalysisJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

type fakeRiskStore struct {
	risks map[uuid.UUID][]domain.RiskItem
}

func (f *fakeRiskStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.RiskItem, error) {
	out := append([]domain.RiskItem(nil), f.risks[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out, nil
}

// fakeSessionRepo backs both the handler-facing SessionStore and the
// editsession.Repository the real Service reconciles against.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.EditSession
	actions  map[uuid.UUID][]domain.EditAction
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[uuid.UUID]domain.EditSession),
		actions:  make(map[uuid.UUID][]domain.EditAction),
	}
}

func (f *fakeSessionRepo) GetOrCreateSession(_ context.Context, jobID uuid.UUID) (domain.EditSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[jobID]; ok {
		return session, nil
	}
	session := domain.EditSession{
		ID:        uuid.New(),
		JobID:     jobID,
		Status:    domain.EditSessionDraft,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.sessions[jobID] = session
	return session, nil
}

func (f *fakeSessionRepo) ListActions(_ context.Context, sessionID uuid.UUID) ([]domain.EditAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.EditAction(nil), f.actions[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out, nil
}

func (f *fakeSessionRepo) ApplyDiff(_ context.Context, sessionID uuid.UUID, toUpdate, toCreate []domain.EditAction, toDeleteIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	deleted := make(map[uuid.UUID]bool, len(toDeleteIDs))
	for _, id := range toDeleteIDs {
		deleted[id] = true
	}
	updated := make(map[uuid.UUID]domain.EditAction, len(toUpdate))
	for _, a := range toUpdate {
		updated[a.ID] = a
	}

	var next []domain.EditAction
	for _, a := range f.actions[sessionID] {
		if deleted[a.ID] {
			continue
		}
		if u, ok := updated[a.ID]; ok {
			next = append(next, u)
			continue
		}
		next = append(next, a)
	}
	next = append(next, toCreate...)
	f.actions[sessionID] = next
	return nil
}

func (f *fakeSessionRepo) seedActions(sessionID uuid.UUID, actions []domain.EditAction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[sessionID] = actions
}

type fakeExportStore struct {
	mu      sync.Mutex
	exports map[uuid.UUID][]domain.ExportJob
	created int
}

func newFakeExportStore() *fakeExportStore {
	return &fakeExportStore{exports: make(map[uuid.UUID][]domain.ExportJob)}
}

func (f *fakeExportStore) CreateForSession(_ context.Context, sessionID uuid.UUID) (domain.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	export := domain.ExportJob{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    domain.ExportPending,
		CreatedAt: time.Now(),
	}
	f.exports[sessionID] = append(f.exports[sessionID], export)
	f.created++
	return export, nil
}

func (f *fakeExportStore) GetLatestForSession(_ context.Context, sessionID uuid.UUID) (domain.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.exports[sessionID]
	if len(all) == 0 {
		return domain.ExportJob{}, errkind.New(errkind.NotFound, "no export job for session")
	}
	return all[len(all)-1], nil
}

func (f *fakeExportStore) seed(sessionID uuid.UUID, export domain.ExportJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports[sessionID] = append(f.exports[sessionID], export)
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []taskqueue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task taskqueue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) enqueued() []taskqueue.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskqueue.Task(nil), f.tasks...)
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobStore) Download(_ context.Context, key string, dst io.Writer) error {
	f.mu.Lock()
	data, ok := f.blobs[key]
	f.mu.Unlock()
	if !ok {
		return errkind.New(errkind.NotFound, "blob not found")
	}
	_, err := io.Copy(dst, bytes.NewReader(data))
	return err
}

func (f *fakeBlobStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.example/" + key + "?signed=1", nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

// fakeProgressStore is a map-backed progress.Store; the handlers only
// exercise Get.
type fakeProgressStore struct {
	mu        sync.Mutex
	snapshots map[string]progress.Snapshot
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{snapshots: make(map[string]progress.Snapshot)}
}

func (f *fakeProgressStore) Init(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[jobID] = pendingSnapshot(jobID)
	return nil
}

func (f *fakeProgressStore) Update(_ context.Context, jobID string, phase progress.Phase, status progress.Status, pct float64) (progress.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshots[jobID]
	if snap.Phases == nil {
		snap = pendingSnapshot(jobID)
	}
	snap.Phases[phase] = progress.PhaseState{Status: status, Progress: pct}
	f.snapshots[jobID] = snap
	return snap, nil
}

func (f *fakeProgressStore) Complete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshots[jobID]
	snap.Status = progress.StatusCompleted
	snap.Overall = 100
	f.snapshots[jobID] = snap
	return nil
}

func (f *fakeProgressStore) Fail(_ context.Context, jobID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshots[jobID]
	snap.Status = progress.StatusFailed
	snap.Error = &errMsg
	f.snapshots[jobID] = snap
	return nil
}

func (f *fakeProgressStore) Get(_ context.Context, jobID string) (progress.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[jobID]
	return snap, ok, nil
}

func (f *fakeProgressStore) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, jobID)
	return nil
}

func (f *fakeProgressStore) put(jobID string, snap progress.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[jobID] = snap
}
