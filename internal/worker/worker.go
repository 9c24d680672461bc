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

// Package worker consumes the task queue and executes analysis and
// export jobs, applying the bounded retry policy per task kind.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/blobstore"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/orchestrator"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/taskqueue"
	"github.com/jordigilh/riskline/pkg/metrics"
)

const (
	// analysisMaxAttempts and exportMaxAttempts bound how many times
	// one task is delivered before the job is marked failed for good.
	analysisMaxAttempts = 3
	exportMaxAttempts   = 2

	// retryBackoff spaces re-deliveries of a failed task.
	retryBackoff = 60 * time.Second

	// dequeueTimeout is how long one blocking pop waits before the
	// loop re-checks its context.
	dequeueTimeout = 5 * time.Second
)

// Queue is the task transport the worker consumes from and
// re-enqueues retries into.
type Queue interface {
	Enqueue(ctx context.Context, task taskqueue.Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (taskqueue.Task, bool, error)
	Ack(ctx context.Context, task taskqueue.Task) error
}

// JobStore is the slice of the analysis-job repository the worker
// needs to drive a job through its state machine.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.AnalysisJob, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error
}

// VideoStore resolves a job's source video.
type VideoStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Video, error)
}

// Pipeline is the analysis orchestrator's single operation.
type Pipeline interface {
	Run(ctx context.Context, job orchestrator.JobInput) (domain.Summary, error)
}

// Exporter is the export runner's single operation.
type Exporter interface {
	Run(ctx context.Context, exportID uuid.UUID) error
}

// Worker drains the queue until its context is cancelled. Run one
// Worker per process; parallelism comes from running multiple worker
// processes against the same queue.
type Worker struct {
	queue    Queue
	jobs     JobStore
	videos   VideoStore
	blobs    blobstore.Store
	pipeline Pipeline
	exporter Exporter
	progress progress.Store
	log      *zap.Logger

	backoff time.Duration
}

func New(
	queue Queue,
	jobs JobStore,
	videos VideoStore,
	blobs blobstore.Store,
	pipeline Pipeline,
	exporter Exporter,
	progressStore progress.Store,
	log *zap.Logger,
) *Worker {
	return &Worker{
		queue: queue, jobs: jobs, videos: videos, blobs: blobs,
		pipeline: pipeline, exporter: exporter, progress: progressStore, log: log,
		backoff: retryBackoff,
	}
}

// Run blocks, consuming tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, ok, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task taskqueue.Task) {
	tracer := otel.Tracer("riskline/worker")
	ctx, span := tracer.Start(ctx, "worker.task")
	span.SetAttributes(
		attribute.String("task.kind", string(task.Kind)),
		attribute.String("task.id", task.ID),
		attribute.Int("task.attempt", task.Attempt),
	)
	defer span.End()

	var err error
	switch task.Kind {
	case taskqueue.KindAnalysis:
		err = w.runAnalysis(ctx, task)
	case taskqueue.KindExport:
		err = w.runExport(ctx, task)
	default:
		w.log.Error("unknown task kind", zap.String("kind", string(task.Kind)))
	}

	if ackErr := w.queue.Ack(ctx, task); ackErr != nil {
		w.log.Warn("ack failed", zap.Error(ackErr))
	}
	if err == nil {
		return
	}

	if errkind.Retriable(err) && task.Attempt+1 < maxAttemptsFor(task.Kind) {
		w.log.Warn("task failed, scheduling retry",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
		w.requeueLater(ctx, taskqueue.Task{Kind: task.Kind, ID: task.ID, Attempt: task.Attempt + 1})
		return
	}

	w.log.Error("task failed terminally",
		zap.String("task_id", task.ID),
		zap.Int("attempt", task.Attempt),
		zap.Error(err))
	w.markTerminalFailure(ctx, task, err)
}

func maxAttemptsFor(kind taskqueue.TaskKind) int {
	if kind == taskqueue.KindExport {
		return exportMaxAttempts
	}
	return analysisMaxAttempts
}

// requeueLater re-enqueues task after the backoff without blocking
// the consume loop.
func (w *Worker) requeueLater(ctx context.Context, task taskqueue.Task) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff):
		}
		if err := w.queue.Enqueue(ctx, task); err != nil {
			w.log.Error("retry enqueue failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()
}

// markTerminalFailure records the give-up on whatever entity the task
// was driving. Export attempts already record their own terminal
// status inside the runner; analysis jobs are failed here because the
// retry decision lives at this level.
func (w *Worker) markTerminalFailure(ctx context.Context, task taskqueue.Task, taskErr error) {
	if task.Kind != taskqueue.KindAnalysis {
		return
	}
	jobID, err := uuid.Parse(task.ID)
	if err != nil {
		return
	}
	if err := w.jobs.FailJob(ctx, jobID, taskErr.Error()); err != nil {
		w.log.Error("failed to mark job failed", zap.String("job_id", task.ID), zap.Error(err))
	}
	if err := w.progress.Fail(ctx, task.ID, taskErr.Error()); err != nil {
		w.log.Warn("progress fail failed", zap.String("job_id", task.ID), zap.Error(err))
	}
	metrics.RecordJobFailed()
}

// runAnalysis downloads the job's source video into a scratch
// directory and hands it to the orchestrator.
func (w *Worker) runAnalysis(ctx context.Context, task taskqueue.Task) error {
	jobID, err := uuid.Parse(task.ID)
	if err != nil {
		w.log.Error("malformed job id in task", zap.String("task_id", task.ID))
		return nil
	}

	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
		// A redelivered task for an already-terminal job is a no-op.
		return nil
	}

	metrics.RecordJobStarted()
	if err := w.jobs.MarkProcessing(ctx, jobID); err != nil {
		return err
	}
	if err := w.progress.Init(ctx, jobID.String()); err != nil {
		w.log.Warn("progress init failed", zap.String("job_id", task.ID), zap.Error(err))
	}

	video, err := w.videos.Get(ctx, job.VideoID)
	if err != nil {
		return err
	}

	scratchDir, err := os.MkdirTemp("", "riskline-analysis-*")
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "create scratch dir")
	}
	defer os.RemoveAll(scratchDir)

	localPath := filepath.Join(scratchDir, "source.mp4")
	f, err := os.Create(localPath)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "create scratch file")
	}
	downloadErr := w.blobs.Download(ctx, video.BlobPath, f)
	_ = f.Close()
	if downloadErr != nil {
		return errkind.Wrap(errkind.TransientUpstream, downloadErr, "download source video")
	}

	summary, err := w.pipeline.Run(ctx, orchestrator.JobInput{
		JobID:          jobID,
		VideoPath:      localPath,
		Purpose:        job.Purpose,
		Platform:       job.Platform,
		TargetAudience: job.TargetAudience,
	})
	if err != nil {
		return errkind.Wrap(errkind.TransientUpstream, err, "run analysis pipeline")
	}

	metrics.RecordJobCompleted()
	w.log.Info("analysis completed",
		zap.String("job_id", task.ID),
		zap.Float64("overall_score", summary.OverallScore),
		zap.String("risk_level", string(summary.RiskLevel)),
		zap.Int("risk_count", summary.RiskCount))
	return nil
}

func (w *Worker) runExport(ctx context.Context, task taskqueue.Task) error {
	exportID, err := uuid.Parse(task.ID)
	if err != nil {
		w.log.Error("malformed export id in task", zap.String("task_id", task.ID))
		return nil
	}

	start := time.Now()
	if err := w.exporter.Run(ctx, exportID); err != nil {
		metrics.RecordExport("failed", time.Since(start))
		return errkind.Wrap(errkind.TransientUpstream, err, "run export")
	}
	metrics.RecordExport("completed", time.Since(start))
	return nil
}
