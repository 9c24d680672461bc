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

package orchestrator

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/analyzer"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/progress"
)

var _ = Describe("Orchestrator.Run", func() {
	var (
		progressStore *memProgressStore
		riskRepo      *fakeRiskRepository
		jobRepo       *fakeJobRepository
		jobID         uuid.UUID
		ctx           context.Context
	)

	BeforeEach(func() {
		progressStore = newMemProgressStore()
		riskRepo = newFakeRiskRepository()
		jobRepo = newFakeJobRepository()
		jobID = uuid.New()
		ctx = context.Background()
		Expect(progressStore.Init(ctx, jobID.String())).To(Succeed())
	})

	It("completes the job and persists risk items when every phase succeeds", func() {
		o := New(
			fakeSpeechAnalyzer{result: analyzer.SpeechResult{}},
			fakeOCRAnalyzer{result: analyzer.OCRResult{}},
			fakeVisionAnalyzer{result: analyzer.VisionResult{}},
			fakeReasoner{assessment: domain.RiskAssessment{
				OverallScore: 60, RiskLevel: domain.RiskMedium,
				Risks: []domain.RiskItem{{Category: domain.CategoryMisleading, Level: domain.RiskMedium, Score: 60}},
			}},
			progressStore, riskRepo, jobRepo, zap.NewNop(),
		)

		summary, err := o.Run(ctx, JobInput{JobID: jobID, VideoPath: "/tmp/video.mp4"})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.OverallScore).To(Equal(60.0))
		Expect(summary.RiskCount).To(Equal(1))

		Expect(riskRepo.saved[jobID]).To(HaveLen(1))
		Expect(jobRepo.completed[jobID].RiskLevel).To(Equal(domain.RiskMedium))

		snap, ok, err := progressStore.Get(ctx, jobID.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(snap.Status).To(Equal(progress.StatusCompleted))
	})

	It("degrades a failed analyzer phase instead of aborting the run", func() {
		o := New(
			fakeSpeechAnalyzer{err: errBoom},
			fakeOCRAnalyzer{result: analyzer.OCRResult{}},
			fakeVisionAnalyzer{result: analyzer.VisionResult{}},
			fakeReasoner{assessment: domain.EmptyAssessment()},
			progressStore, riskRepo, jobRepo, zap.NewNop(),
		)

		summary, err := o.Run(ctx, JobInput{JobID: jobID, VideoPath: "/tmp/video.mp4"})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.RiskLevel).To(Equal(domain.RiskNone))

		// The job still completes; the degraded phase keeps its failed
		// marker in the snapshot.
		Expect(jobRepo.completed).To(HaveKey(jobID))
		snap, _, _ := progressStore.Get(ctx, jobID.String())
		Expect(snap.Status).To(Equal(progress.StatusCompleted))
		Expect(snap.Phases[progress.PhaseAudio].Status).To(Equal(progress.StatusFailed))
	})

	It("fails the job when the reasoner call itself errors", func() {
		o := New(
			fakeSpeechAnalyzer{result: analyzer.SpeechResult{}},
			fakeOCRAnalyzer{result: analyzer.OCRResult{}},
			fakeVisionAnalyzer{result: analyzer.VisionResult{}},
			fakeReasoner{err: errBoom},
			progressStore, riskRepo, jobRepo, zap.NewNop(),
		)

		_, err := o.Run(ctx, JobInput{JobID: jobID, VideoPath: "/tmp/video.mp4"})
		Expect(err).To(HaveOccurred())
		Expect(jobRepo.failed).To(HaveKey(jobID))
	})

	It("fails the job when risk persistence errors", func() {
		riskRepo.returnErr = errBoom
		o := New(
			fakeSpeechAnalyzer{result: analyzer.SpeechResult{}},
			fakeOCRAnalyzer{result: analyzer.OCRResult{}},
			fakeVisionAnalyzer{result: analyzer.VisionResult{}},
			fakeReasoner{assessment: domain.EmptyAssessment()},
			progressStore, riskRepo, jobRepo, zap.NewNop(),
		)

		_, err := o.Run(ctx, JobInput{JobID: jobID, VideoPath: "/tmp/video.mp4"})
		Expect(err).To(HaveOccurred())
		Expect(jobRepo.failed).To(HaveKey(jobID))
	})
})
