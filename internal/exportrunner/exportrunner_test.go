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

package exportrunner

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/progress"
)

var _ = Describe("Runner.Run", func() {
	var (
		repo      *fakeRepository
		blobs     *fakeBlobStore
		processor *fakeProcessor
		store     progress.Store
		exportID  uuid.UUID
		ctx       context.Context
	)

	BeforeEach(func() {
		exportID = uuid.New()
		repo = &fakeRepository{ctx: ExportContext{
			JobID:           uuid.New(),
			SourceBlobPath:  "videos/source.mp4",
			DurationSeconds: 30,
			Actions: []domain.EditAction{
				{Type: domain.ActionCut, StartSec: 1, EndSec: 2},
			},
		}}
		blobs = newFakeBlobStore()
		processor = &fakeProcessor{reportProgress: []float64{10, 50, 100}}
		store = progressStoreForTest()
		ctx = context.Background()
	})

	It("uploads the compiled output and marks the export completed", func() {
		runner := NewRunner(repo, blobs, processor, store, "", zap.NewNop())
		err := runner.Run(ctx, exportID)
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.processing).To(BeTrue())
		Expect(repo.completed).To(ContainSubstring(repo.ctx.JobID.String()))
		Expect(blobs.uploaded[repo.completed]).To(Equal([]byte("compiled video bytes")))

		snap, ok, err := store.Get(ctx, progressKeyFor(exportID))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(snap.Status).To(Equal(progress.StatusCompleted))
	})

	It("marks the export failed when the source download fails", func() {
		blobs.downloadErr = errDownloadFailed
		runner := NewRunner(repo, blobs, processor, store, "", zap.NewNop())

		err := runner.Run(ctx, exportID)
		Expect(err).To(HaveOccurred())
		Expect(repo.failed).NotTo(BeEmpty())
	})

	It("marks the export failed when the media processor errors", func() {
		processor.runErr = errDownloadFailed
		runner := NewRunner(repo, blobs, processor, store, "", zap.NewNop())

		err := runner.Run(ctx, exportID)
		Expect(err).To(HaveOccurred())
		Expect(repo.failed).NotTo(BeEmpty())
	})
})

// progressStoreForTest returns a minimal in-memory progress.Store;
// exportrunner only ever uses the single "export" phase key, so a
// lightweight fake (rather than miniredis) is enough here.
func progressStoreForTest() progress.Store {
	return &inMemoryStore{snaps: map[string]progress.Snapshot{}}
}

type inMemoryStore struct {
	snaps map[string]progress.Snapshot
}

func (s *inMemoryStore) Init(_ context.Context, key string) error {
	s.snaps[key] = progress.Snapshot{JobID: key, Status: progress.StatusPending, Phases: map[progress.Phase]progress.PhaseState{
		progress.PhaseExport: {Status: progress.StatusPending},
	}}
	return nil
}

func (s *inMemoryStore) Update(_ context.Context, key string, phase progress.Phase, status progress.Status, pct float64) (progress.Snapshot, error) {
	snap, ok := s.snaps[key]
	if !ok {
		snap = progress.Snapshot{JobID: key, Phases: map[progress.Phase]progress.PhaseState{}}
	}
	snap.Phases[phase] = progress.PhaseState{Status: status, Progress: pct}
	snap.Status = status
	snap.Overall = pct
	s.snaps[key] = snap
	return snap, nil
}

func (s *inMemoryStore) Complete(_ context.Context, key string) error {
	snap := s.snaps[key]
	snap.Status = progress.StatusCompleted
	snap.Overall = 100
	s.snaps[key] = snap
	return nil
}

func (s *inMemoryStore) Fail(_ context.Context, key string, msg string) error {
	snap := s.snaps[key]
	snap.Status = progress.StatusFailed
	snap.Error = &msg
	s.snaps[key] = snap
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, key string) (progress.Snapshot, bool, error) {
	snap, ok := s.snaps[key]
	return snap, ok, nil
}

func (s *inMemoryStore) Delete(_ context.Context, key string) error {
	delete(s.snaps, key)
	return nil
}
