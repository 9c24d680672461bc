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
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
	"github.com/jordigilh/riskline/internal/exportrunner"
	"github.com/jordigilh/riskline/pkg/datastorage/repository/sqlutil"
)

type exportJobRow struct {
	ID             uuid.UUID      `db:"id"`
	SessionID      uuid.UUID      `db:"session_id"`
	Status         string         `db:"status"`
	OutputBlobPath sql.NullString `db:"output_blob_path"`
	Error          sql.NullString `db:"error_message"`
	CreatedAt      time.Time      `db:"created_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

func (r exportJobRow) toDomain() domain.ExportJob {
	return domain.ExportJob{
		ID: r.ID, SessionID: r.SessionID, Status: domain.ExportJobStatus(r.Status),
		OutputBlobPath: sqlutil.FromNullString(r.OutputBlobPath),
		Error:          sqlutil.FromNullString(r.Error),
		CreatedAt:      r.CreatedAt,
		CompletedAt:    sqlutil.FromNullTime(r.CompletedAt),
	}
}

// ExportJobRepository backs internal/exportrunner.Repository and also
// serves the httpapi's create/status/conflict-check operations on
// export jobs.
type ExportJobRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewExportJobRepository(db *sqlx.DB, log *zap.Logger) *ExportJobRepository {
	return &ExportJobRepository{db: db, log: log}
}

// CreateForSession inserts a new ExportJob in status pending, unless
// the latest ExportJob for sessionID is still pending or processing,
// in which case it returns a conflict error (an export is
// already in flight).
func (r *ExportJobRepository) CreateForSession(ctx context.Context, sessionID uuid.UUID) (domain.ExportJob, error) {
	latest, err := r.GetLatestForSession(ctx, sessionID)
	if err != nil && !errkind.Is(err, errkind.NotFound) {
		return domain.ExportJob{}, err
	}
	if err == nil && (latest.Status == domain.ExportPending || latest.Status == domain.ExportProcessing) {
		return domain.ExportJob{}, errkind.New(errkind.Conflict, "an export is already in flight for this session")
	}

	var row exportJobRow
	scanErr := r.db.QueryRowxContext(ctx, `
		INSERT INTO export_jobs (session_id, status) VALUES ($1, $2)
		RETURNING id, session_id, status, output_blob_path, error_message, created_at, completed_at`,
		sessionID, domain.ExportPending,
	).StructScan(&row)
	if scanErr != nil {
		return domain.ExportJob{}, errkind.Wrap(errkind.Internal, scanErr, "insert export job")
	}
	return row.toDomain(), nil
}

// GetLatestForSession returns the most recently created ExportJob for
// sessionID, used both for the conflict check and GET .../export/status.
func (r *ExportJobRepository) GetLatestForSession(ctx context.Context, sessionID uuid.UUID) (domain.ExportJob, error) {
	var row exportJobRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, session_id, status, output_blob_path, error_message, created_at, completed_at
		FROM export_jobs WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExportJob{}, errkind.New(errkind.NotFound, "no export job for session")
	}
	if err != nil {
		return domain.ExportJob{}, errkind.Wrap(errkind.Internal, err, "get latest export job")
	}
	return row.toDomain(), nil
}

// LoadExportContext assembles everything the export runner needs:
// the owning session's job id, the source video's blob path and
// duration, and the session's current actions.
func (r *ExportJobRepository) LoadExportContext(ctx context.Context, exportID uuid.UUID) (exportrunner.ExportContext, error) {
	var dest struct {
		JobID          uuid.UUID       `db:"job_id"`
		SourceBlobPath string          `db:"blob_path"`
		DurationSec    sql.NullFloat64 `db:"duration_sec"`
		SessionID      uuid.UUID       `db:"session_id"`
	}
	err := r.db.GetContext(ctx, &dest, `
		SELECT es.job_id AS job_id, v.blob_path AS blob_path, v.duration_sec AS duration_sec, es.id AS session_id
		FROM export_jobs ej
		JOIN edit_sessions es ON es.id = ej.session_id
		JOIN analysis_jobs aj ON aj.id = es.job_id
		JOIN videos v ON v.id = aj.video_id
		WHERE ej.id = $1`, exportID)
	if errors.Is(err, sql.ErrNoRows) {
		return exportrunner.ExportContext{}, errkind.New(errkind.NotFound, "export job not found")
	}
	if err != nil {
		return exportrunner.ExportContext{}, errkind.Wrap(errkind.Internal, err, "load export context")
	}

	var actionRows []editActionRow
	if err := r.db.SelectContext(ctx, &actionRows, `SELECT `+editActionColumns+` FROM edit_actions WHERE session_id = $1 ORDER BY start_sec, end_sec, id`, dest.SessionID); err != nil {
		return exportrunner.ExportContext{}, errkind.Wrap(errkind.Internal, err, "load export session actions")
	}
	actions := make([]domain.EditAction, len(actionRows))
	for i, row := range actionRows {
		actions[i] = row.toDomain()
	}

	duration := 0.0
	if dest.DurationSec.Valid {
		duration = dest.DurationSec.Float64
	}
	return exportrunner.ExportContext{
		JobID:           dest.JobID,
		SourceBlobPath:  dest.SourceBlobPath,
		DurationSeconds: duration,
		Actions:         actions,
	}, nil
}

// MarkProcessing flips both the ExportJob and its owning EditSession
// in one transaction.
func (r *ExportJobRepository) MarkProcessing(ctx context.Context, exportID uuid.UUID) (err error) {
	tx, err := beginTx(ctx, r.db)
	if err != nil {
		return err
	}
	defer finish(tx, &err)

	if _, execErr := tx.ExecContext(ctx, `UPDATE export_jobs SET status = $1 WHERE id = $2`, domain.ExportProcessing, exportID); execErr != nil {
		err = errkind.Wrap(errkind.Internal, execErr, "mark export processing")
		return err
	}
	if _, execErr := tx.ExecContext(ctx, `
		UPDATE edit_sessions SET status = $1, updated_at = now()
		WHERE id = (SELECT session_id FROM export_jobs WHERE id = $2)`,
		domain.EditSessionExporting, exportID); execErr != nil {
		err = errkind.Wrap(errkind.Internal, execErr, "mark edit session exporting")
		return err
	}
	return nil
}

// MarkCompleted records the output blob path and flips the owning
// session to completed.
func (r *ExportJobRepository) MarkCompleted(ctx context.Context, exportID uuid.UUID, outputBlobPath string) (err error) {
	tx, err := beginTx(ctx, r.db)
	if err != nil {
		return err
	}
	defer finish(tx, &err)

	if _, execErr := tx.ExecContext(ctx, `
		UPDATE export_jobs SET status = $1, output_blob_path = $2, completed_at = now()
		WHERE id = $3`, domain.ExportCompleted, outputBlobPath, exportID); execErr != nil {
		err = errkind.Wrap(errkind.Internal, execErr, "mark export completed")
		return err
	}
	if _, execErr := tx.ExecContext(ctx, `
		UPDATE edit_sessions SET status = $1, updated_at = now()
		WHERE id = (SELECT session_id FROM export_jobs WHERE id = $2)`,
		domain.EditSessionCompleted, exportID); execErr != nil {
		err = errkind.Wrap(errkind.Internal, execErr, "mark edit session completed")
		return err
	}
	return nil
}

// MarkFailed records the terminal failure; the owning
// session is left as-is so a caller can re-export without first
// resetting it back to draft.
func (r *ExportJobRepository) MarkFailed(ctx context.Context, exportID uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET status = $1, error_message = $2, completed_at = now()
		WHERE id = $3`, domain.ExportFailed, errMsg, exportID)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "mark export failed")
	}
	return nil
}
