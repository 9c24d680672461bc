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

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/pkg/datastorage/repository/sqlutil"
)

type analysisJobRow struct {
	ID             uuid.UUID       `db:"id"`
	VideoID        uuid.UUID       `db:"video_id"`
	Status         string          `db:"status"`
	Purpose        string          `db:"purpose"`
	Platform       string          `db:"platform"`
	TargetAudience string          `db:"target_audience"`
	OverallScore   sql.NullFloat64 `db:"overall_score"`
	RiskLevel      sql.NullString  `db:"risk_level"`
	Error          sql.NullString  `db:"error_message"`
	CreatedAt      sql.NullTime    `db:"created_at"`
	CompletedAt    sql.NullTime    `db:"completed_at"`
}

func (r analysisJobRow) toDomain() domain.AnalysisJob {
	job := domain.AnalysisJob{
		ID:             r.ID,
		VideoID:        r.VideoID,
		Status:         domain.JobStatus(r.Status),
		Purpose:        domain.UploadPurpose(r.Purpose),
		Platform:       domain.Platform(r.Platform),
		TargetAudience: r.TargetAudience,
		OverallScore:   sqlutil.FromNullFloat64(r.OverallScore),
		Error:          sqlutil.FromNullString(r.Error),
		CreatedAt:      r.CreatedAt.Time,
		CompletedAt:    sqlutil.FromNullTime(r.CompletedAt),
	}
	if r.RiskLevel.Valid {
		lvl := domain.RiskLevel(r.RiskLevel.String)
		job.RiskLevel = &lvl
	}
	return job
}

const analysisJobColumns = `id, video_id, status, purpose, platform, target_audience,
		overall_score, risk_level, error_message, created_at, completed_at`

// AnalysisJobRepository persists the AnalysisJob aggregate and its
// state-machine transitions (pending -> processing -> completed|failed).
type AnalysisJobRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewAnalysisJobRepository(db *sqlx.DB, log *zap.Logger) *AnalysisJobRepository {
	return &AnalysisJobRepository{db: db, log: log}
}

// Create inserts a new job in status pending, one per Video.
func (r *AnalysisJobRepository) Create(ctx context.Context, job domain.AnalysisJob) (domain.AnalysisJob, error) {
	var row analysisJobRow
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO analysis_jobs (video_id, status, purpose, platform, target_audience)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+analysisJobColumns,
		job.VideoID, domain.JobPending, job.Purpose, job.Platform, job.TargetAudience,
	).StructScan(&row)
	if err != nil {
		return domain.AnalysisJob{}, errkind.Wrap(errkind.Internal, err, "insert analysis job")
	}
	return row.toDomain(), nil
}

// Get loads one job by id.
func (r *AnalysisJobRepository) Get(ctx context.Context, id uuid.UUID) (domain.AnalysisJob, error) {
	var row analysisJobRow
	err := r.db.GetContext(ctx, &row, `SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnalysisJob{}, errkind.New(errkind.NotFound, "analysis job not found")
	}
	if err != nil {
		return domain.AnalysisJob{}, errkind.Wrap(errkind.Internal, err, "get analysis job")
	}
	return row.toDomain(), nil
}

// List returns every job, newest first, per GET /jobs.
func (r *AnalysisJobRepository) List(ctx context.Context) ([]domain.AnalysisJob, error) {
	var rows []analysisJobRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+analysisJobColumns+` FROM analysis_jobs ORDER BY created_at DESC`); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list analysis jobs")
	}
	jobs := make([]domain.AnalysisJob, len(rows))
	for i, row := range rows {
		jobs[i] = row.toDomain()
	}
	return jobs, nil
}

// MarkProcessing transitions a pending job to processing, the step the
// worker takes before handing the job to the orchestrator.
func (r *AnalysisJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE analysis_jobs SET status = $1 WHERE id = $2`, domain.JobProcessing, id)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "mark job processing")
	}
	return nil
}

// CompleteJob records the terminal summary computed by risk fusion.
// completed_at is set here and in FailJob, the two transitions to a
// terminal status.
func (r *AnalysisJobRepository) CompleteJob(ctx context.Context, jobID uuid.UUID, summary domain.Summary) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $1, overall_score = $2, risk_level = $3, completed_at = now()
		WHERE id = $4`,
		domain.JobCompleted, summary.OverallScore, summary.RiskLevel, jobID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "complete analysis job")
	}
	return nil
}

// FailJob records a fatal-pipeline failure.
func (r *AnalysisJobRepository) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $1, error_message = $2, completed_at = now()
		WHERE id = $3`,
		domain.JobFailed, errMsg, jobID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "fail analysis job")
	}
	return nil
}
