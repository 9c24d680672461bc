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

// Package exportrunner drives one export job end to end: download the
// source video to a scratch directory, compile the edit session's
// actions into a filter graph, invoke the media processor, upload the
// result, and record the terminal status.
package exportrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/blobstore"
	"github.com/jordigilh/riskline/internal/compiler"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/pkg/metrics"
)

// Repository is the persistence port for one export attempt's
// lifecycle; it is expected to also flip the owning edit session's
// status to exporting/completed alongside the export job row.
type Repository interface {
	LoadExportContext(ctx context.Context, exportID uuid.UUID) (ExportContext, error)
	MarkProcessing(ctx context.Context, exportID uuid.UUID) error
	MarkCompleted(ctx context.Context, exportID uuid.UUID, outputBlobPath string) error
	MarkFailed(ctx context.Context, exportID uuid.UUID, errMsg string) error
}

// ExportContext is everything one export needs: the source video's
// blob path and duration, and the actions to compile.
type ExportContext struct {
	JobID           uuid.UUID
	SourceBlobPath  string
	DurationSeconds float64
	Actions         []domain.EditAction
}

// Processor is the media-compile port, satisfied by
// *mediaproc.Processor; a distinct interface here keeps this package
// testable without spawning a real ffmpeg subprocess.
type Processor interface {
	Run(ctx context.Context, inputPath, outputPath string, graph compiler.Graph, durationSeconds float64, onProgress func(pct float64)) error
}

// Runner executes export jobs. It is safe to run many Runners
// concurrently against distinct export ids; a scratch directory is
// created and destroyed per run.
type Runner struct {
	repo      Repository
	blobs     blobstore.Store
	processor Processor
	progress  progress.Store
	fontPath  string
	log       *zap.Logger
}

// NewRunner builds a Runner; fontPath overrides the compiler's
// default caption font when non-empty.
func NewRunner(repo Repository, blobs blobstore.Store, processor Processor, progressStore progress.Store, fontPath string, log *zap.Logger) *Runner {
	return &Runner{repo: repo, blobs: blobs, processor: processor, progress: progressStore, fontPath: fontPath, log: log}
}

// Run executes export exportID, reporting progress under the
// "export:<id>" key so it never collides with the owning job's
// four-phase analysis snapshot.
func (r *Runner) Run(ctx context.Context, exportID uuid.UUID) error {
	ctx, span := otel.Tracer("riskline/exportrunner").Start(ctx, "export.run",
		trace.WithAttributes(attribute.String("export_id", exportID.String())))
	defer span.End()

	progressKey := progressKeyFor(exportID)

	exportCtx, err := r.repo.LoadExportContext(ctx, exportID)
	if err != nil {
		_ = r.progress.Fail(ctx, progressKey, err.Error())
		return err
	}

	if err := r.repo.MarkProcessing(ctx, exportID); err != nil {
		return err
	}
	if err := r.progress.Init(ctx, progressKey); err != nil {
		r.log.Warn("export progress init failed", zap.Error(err))
	}
	if _, err := r.progress.Update(ctx, progressKey, progress.PhaseExport, progress.StatusProcessing, 0); err != nil {
		r.log.Warn("export progress update failed", zap.Error(err))
	}

	outputBlobPath, err := r.runCompileAndUpload(ctx, exportID, exportCtx, progressKey)
	if err != nil {
		r.log.Error("export failed", zap.String("export_id", exportID.String()), zap.Error(err))
		_ = r.repo.MarkFailed(ctx, exportID, err.Error())
		_ = r.progress.Fail(ctx, progressKey, err.Error())
		return err
	}

	if err := r.repo.MarkCompleted(ctx, exportID, outputBlobPath); err != nil {
		return err
	}
	if err := r.progress.Complete(ctx, progressKey); err != nil {
		r.log.Warn("export progress complete failed", zap.Error(err))
	}
	return nil
}

func (r *Runner) runCompileAndUpload(ctx context.Context, exportID uuid.UUID, exportCtx ExportContext, progressKey string) (string, error) {
	scratchDir, err := os.MkdirTemp("", "riskline-export-*")
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, err, "create scratch dir")
	}
	defer os.RemoveAll(scratchDir)

	inputPath := filepath.Join(scratchDir, "input.mp4")
	outputPath := filepath.Join(scratchDir, "output.mp4")

	inputFile, err := os.Create(inputPath)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, err, "create scratch input file")
	}
	downloadErr := r.blobs.Download(ctx, exportCtx.SourceBlobPath, inputFile)
	_ = inputFile.Close()
	if downloadErr != nil {
		return "", downloadErr
	}

	compileStart := time.Now()
	var graph compiler.Graph
	if r.fontPath != "" {
		graph, err = compiler.CompileWithFont(exportCtx.Actions, r.fontPath)
	} else {
		graph, err = compiler.Compile(exportCtx.Actions)
	}
	metrics.FilterCompileDuration.Observe(time.Since(compileStart).Seconds())
	if err != nil {
		return "", errkind.Wrap(errkind.Validation, err, "compile filter graph")
	}

	onProgress := func(pct float64) {
		if _, err := r.progress.Update(ctx, progressKey, progress.PhaseExport, progress.StatusProcessing, pct); err != nil {
			r.log.Warn("export progress update failed", zap.Error(err))
		}
	}
	if err := r.processor.Run(ctx, inputPath, outputPath, graph, exportCtx.DurationSeconds, onProgress); err != nil {
		return "", err
	}

	outputFile, err := os.Open(outputPath)
	if err != nil {
		return "", errkind.Wrap(errkind.CorruptOutput, err, "open compiled output")
	}
	defer outputFile.Close()

	outputBlobPath := fmt.Sprintf("exports/%s/%s.mp4", exportCtx.JobID, exportID)
	if err := r.blobs.Upload(ctx, outputBlobPath, outputFile, "video/mp4"); err != nil {
		return "", err
	}

	return outputBlobPath, nil
}

func progressKeyFor(exportID uuid.UUID) string {
	return "export:" + exportID.String()
}
