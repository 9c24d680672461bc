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

// Package orchestrator runs one analysis job's three perceptual
// phases in parallel, fuses their output through a RiskReasoner, and
// persists the resulting risk items.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/riskline/internal/analyzer"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/reasoner"
	"github.com/jordigilh/riskline/pkg/metrics"
)

// maxConcurrentPhases bounds the fan-out to the three perceptual
// analyzers; raised above 3 it would simply never saturate since
// there are only three phases per job.
const maxConcurrentPhases = 3

// JobInput is everything one analysis run needs.
type JobInput struct {
	JobID          uuid.UUID
	VideoPath      string
	Purpose        domain.UploadPurpose
	Platform       domain.Platform
	TargetAudience string
}

// RiskRepository persists the fused risk assessment. ReplaceRiskItems
// MUST delete any risk items already attached to jobID and bulk-insert
// the new set in a single transaction, since a job is only ever
// re-scored as a whole.
type RiskRepository interface {
	ReplaceRiskItems(ctx context.Context, jobID uuid.UUID, risks []domain.RiskItem) error
}

// JobRepository records the job-level outcome once the pipeline
// reaches a terminal state.
type JobRepository interface {
	CompleteJob(ctx context.Context, jobID uuid.UUID, summary domain.Summary) error
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error
}

// Orchestrator wires the three analyzers, the reasoner, the progress
// store, and persistence together into the one-operation pipeline
// described for analysis jobs.
type Orchestrator struct {
	speech   analyzer.SpeechAnalyzer
	ocr      analyzer.OCRAnalyzer
	vision   analyzer.VisionAnalyzer
	reason   reasoner.RiskReasoner
	progress progress.Store
	risks    RiskRepository
	jobs     JobRepository
	log      *zap.Logger

	breakers map[progress.Phase]*gobreaker.CircuitBreaker
}

func New(
	speech analyzer.SpeechAnalyzer,
	ocr analyzer.OCRAnalyzer,
	vision analyzer.VisionAnalyzer,
	reason reasoner.RiskReasoner,
	progressStore progress.Store,
	risks RiskRepository,
	jobs JobRepository,
	log *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		speech: speech, ocr: ocr, vision: vision,
		reason: reason, progress: progressStore, risks: risks, jobs: jobs, log: log,
		breakers: make(map[progress.Phase]*gobreaker.CircuitBreaker),
	}
	for _, phase := range progress.AnalysisPhases {
		phase := phase
		o.breakers[phase] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(phase),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return o
}

// Run executes the three-phase fan-out, the risk fusion, and
// persistence, returning the job's summary. A failure in one
// perceptual phase degrades that phase's contribution to the fusion
// input rather than aborting the whole job; only a reasoner call
// failure (not a malformed reasoner *output*, which degrades to an
// empty assessment) or a persistence failure returns a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, job JobInput) (domain.Summary, error) {
	ctx, span := otel.Tracer("riskline/orchestrator").Start(ctx, "analysis.run",
		trace.WithAttributes(attribute.String("job_id", job.JobID.String())))
	defer span.End()

	// All phase callbacks for this run funnel through one JobWriter,
	// so concurrent analyzer goroutines never interleave their
	// read-modify-writes even against a non-atomic store.
	pw := progress.NewJobWriter(ctx, o.progress, job.JobID.String())
	defer pw.Close()

	var (
		speechResult analyzer.SpeechResult
		ocrResult    analyzer.OCRResult
		visionResult analyzer.VisionResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPhases)

	g.Go(func() error {
		speechResult = o.runSpeechPhase(gctx, job, pw)
		return nil
	})
	g.Go(func() error {
		ocrResult = o.runOCRPhase(gctx, job, pw)
		return nil
	})
	g.Go(func() error {
		visionResult = o.runVisionPhase(gctx, job, pw)
		return nil
	})
	// Errors are absorbed inside each phase runner (degrade-not-abort),
	// so every goroutine returns nil and Wait reports no error.
	if err := g.Wait(); err != nil {
		return domain.Summary{}, err
	}

	if _, err := pw.Update(ctx, progress.PhaseRisk, progress.StatusProcessing, 0); err != nil {
		o.log.Warn("progress update failed", zap.Error(err))
	}

	assessment, err := o.reason.Evaluate(ctx, reasoner.FusionInput{
		Speech: speechResult, OCR: ocrResult, Vision: visionResult,
		Purpose: job.Purpose, Platform: job.Platform, TargetAudience: job.TargetAudience,
	})
	if err != nil {
		o.log.Error("reasoner call failed", zap.String("job_id", job.JobID.String()), zap.Error(err))
		_, _ = pw.Update(ctx, progress.PhaseRisk, progress.StatusFailed, 0)
		_ = o.jobs.FailJob(ctx, job.JobID, err.Error())
		return domain.Summary{}, err
	}

	for i := range assessment.Risks {
		assessment.Risks[i].ID = uuid.New()
		assessment.Risks[i].JobID = job.JobID
	}
	if err := o.risks.ReplaceRiskItems(ctx, job.JobID, assessment.Risks); err != nil {
		_, _ = pw.Update(ctx, progress.PhaseRisk, progress.StatusFailed, 0)
		_ = o.jobs.FailJob(ctx, job.JobID, err.Error())
		return domain.Summary{}, err
	}

	if _, err := pw.Update(ctx, progress.PhaseRisk, progress.StatusCompleted, 100); err != nil {
		o.log.Warn("progress update failed", zap.Error(err))
	}

	summary := domain.Summary{
		OverallScore: assessment.OverallScore,
		RiskLevel:    assessment.RiskLevel,
		RiskCount:    len(assessment.Risks),
	}

	snap, ok, err := o.progress.Get(ctx, job.JobID.String())
	if err == nil && (!ok || snap.Status != progress.StatusFailed) {
		if err := o.jobs.CompleteJob(ctx, job.JobID, summary); err != nil {
			o.log.Error("failed to record job completion", zap.Error(err))
			return domain.Summary{}, err
		}
		// Complete forces every phase to 100/completed, which would
		// erase a degraded phase's failed marker; a partially-failed
		// run keeps its derived (completed) snapshot instead.
		if !ok || allPhasesCompleted(snap) {
			if err := o.progress.Complete(ctx, job.JobID.String()); err != nil {
				o.log.Warn("progress complete failed", zap.Error(err))
			}
		}
	}

	return summary, nil
}

func allPhasesCompleted(snap progress.Snapshot) bool {
	for _, p := range progress.AnalysisPhases {
		if snap.Phases[p].Status != progress.StatusCompleted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) runSpeechPhase(ctx context.Context, job JobInput, pw *progress.JobWriter) analyzer.SpeechResult {
	ctx, span := otel.Tracer("riskline/orchestrator").Start(ctx, "analysis.phase.audio")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordPhase(string(progress.PhaseAudio), time.Since(start)) }()

	_, _ = pw.Update(ctx, progress.PhaseAudio, progress.StatusProcessing, 0)

	result, err := o.breakers[progress.PhaseAudio].Execute(func() (interface{}, error) {
		return o.speech.Analyze(ctx, job.VideoPath)
	})
	if err != nil {
		o.log.Warn("speech analysis failed", zap.String("job_id", job.JobID.String()), zap.Error(err))
		_, _ = pw.Update(ctx, progress.PhaseAudio, progress.StatusFailed, 0)
		return analyzer.SpeechResult{}
	}

	_, _ = pw.Update(ctx, progress.PhaseAudio, progress.StatusCompleted, 100)
	return result.(analyzer.SpeechResult)
}

func (o *Orchestrator) runOCRPhase(ctx context.Context, job JobInput, pw *progress.JobWriter) analyzer.OCRResult {
	ctx, span := otel.Tracer("riskline/orchestrator").Start(ctx, "analysis.phase.ocr")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordPhase(string(progress.PhaseOCR), time.Since(start)) }()

	_, _ = pw.Update(ctx, progress.PhaseOCR, progress.StatusProcessing, 0)

	result, err := o.breakers[progress.PhaseOCR].Execute(func() (interface{}, error) {
		return o.ocr.Analyze(ctx, job.VideoPath)
	})
	if err != nil {
		o.log.Warn("ocr analysis failed", zap.String("job_id", job.JobID.String()), zap.Error(err))
		_, _ = pw.Update(ctx, progress.PhaseOCR, progress.StatusFailed, 0)
		return analyzer.OCRResult{}
	}

	_, _ = pw.Update(ctx, progress.PhaseOCR, progress.StatusCompleted, 100)
	return result.(analyzer.OCRResult)
}

func (o *Orchestrator) runVisionPhase(ctx context.Context, job JobInput, pw *progress.JobWriter) analyzer.VisionResult {
	ctx, span := otel.Tracer("riskline/orchestrator").Start(ctx, "analysis.phase.video")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordPhase(string(progress.PhaseVideo), time.Since(start)) }()

	_, _ = pw.Update(ctx, progress.PhaseVideo, progress.StatusProcessing, 0)

	result, err := o.breakers[progress.PhaseVideo].Execute(func() (interface{}, error) {
		return o.vision.Analyze(ctx, job.VideoPath)
	})
	if err != nil {
		o.log.Warn("vision analysis failed", zap.String("job_id", job.JobID.String()), zap.Error(err))
		_, _ = pw.Update(ctx, progress.PhaseVideo, progress.StatusFailed, 0)
		return analyzer.VisionResult{}
	}

	_, _ = pw.Update(ctx, progress.PhaseVideo, progress.StatusCompleted, 100)
	return result.(analyzer.VisionResult)
}
