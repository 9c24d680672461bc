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
	"github.com/jordigilh/riskline/pkg/datastorage/repository/sqlutil"
)

type editSessionRow struct {
	ID        uuid.UUID `db:"id"`
	JobID     uuid.UUID `db:"job_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r editSessionRow) toDomain() domain.EditSession {
	return domain.EditSession{
		ID:        r.ID,
		JobID:     r.JobID,
		Status:    domain.EditSessionStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type editActionRow struct {
	ID              uuid.UUID       `db:"id"`
	SessionID       uuid.UUID       `db:"session_id"`
	Type            string          `db:"type"`
	StartSec        float64         `db:"start_sec"`
	EndSec          float64         `db:"end_sec"`
	RiskItemID      sql.NullString  `db:"risk_item_id"`
	MosaicX         sql.NullInt64   `db:"mosaic_x"`
	MosaicY         sql.NullInt64   `db:"mosaic_y"`
	MosaicWidth     sql.NullInt64   `db:"mosaic_width"`
	MosaicHeight    sql.NullInt64   `db:"mosaic_height"`
	MosaicBlur      sql.NullInt64   `db:"mosaic_blur_strength"`
	TelopText       sql.NullString  `db:"telop_text"`
	TelopX          sql.NullInt64   `db:"telop_x"`
	TelopY          sql.NullInt64   `db:"telop_y"`
	TelopFontSize   sql.NullInt64   `db:"telop_font_size"`
	TelopFontColor  sql.NullString  `db:"telop_font_color"`
	TelopBackground sql.NullString  `db:"telop_background_color"`
}

func (r editActionRow) toDomain() domain.EditAction {
	action := domain.EditAction{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Type:       domain.EditActionType(r.Type),
		StartSec:   r.StartSec,
		EndSec:     r.EndSec,
		RiskItemID: sqlutil.FromNullUUID(r.RiskItemID),
	}
	if action.Type == domain.ActionMosaic {
		action.Mosaic = &domain.MosaicOptions{
			X: int(r.MosaicX.Int64), Y: int(r.MosaicY.Int64),
			Width: int(r.MosaicWidth.Int64), Height: int(r.MosaicHeight.Int64),
			BlurStrength: int(r.MosaicBlur.Int64),
		}
	}
	if action.Type == domain.ActionTelop {
		action.Telop = &domain.TelopOptions{
			Text: r.TelopText.String, X: int(r.TelopX.Int64), Y: int(r.TelopY.Int64),
			FontSize: int(r.TelopFontSize.Int64), FontColor: r.TelopFontColor.String,
			BackgroundColor: sqlutil.FromNullString(r.TelopBackground),
		}
	}
	return action
}

func editActionToRow(a domain.EditAction) editActionRow {
	row := editActionRow{
		ID: a.ID, SessionID: a.SessionID, Type: string(a.Type),
		StartSec: a.StartSec, EndSec: a.EndSec,
		RiskItemID: sqlutil.ToNullUUID(a.RiskItemID),
	}
	if a.Mosaic != nil {
		row.MosaicX = sql.NullInt64{Int64: int64(a.Mosaic.X), Valid: true}
		row.MosaicY = sql.NullInt64{Int64: int64(a.Mosaic.Y), Valid: true}
		row.MosaicWidth = sql.NullInt64{Int64: int64(a.Mosaic.Width), Valid: true}
		row.MosaicHeight = sql.NullInt64{Int64: int64(a.Mosaic.Height), Valid: true}
		row.MosaicBlur = sql.NullInt64{Int64: int64(a.Mosaic.BlurStrength), Valid: true}
	}
	if a.Telop != nil {
		row.TelopText = sqlutil.ToNullStringValue(a.Telop.Text)
		row.TelopX = sql.NullInt64{Int64: int64(a.Telop.X), Valid: true}
		row.TelopY = sql.NullInt64{Int64: int64(a.Telop.Y), Valid: true}
		row.TelopFontSize = sql.NullInt64{Int64: int64(a.Telop.FontSize), Valid: true}
		row.TelopFontColor = sqlutil.ToNullStringValue(a.Telop.FontColor)
		row.TelopBackground = sqlutil.ToNullString(a.Telop.BackgroundColor)
	}
	return row
}

const editActionColumns = `id, session_id, type, start_sec, end_sec, risk_item_id,
		mosaic_x, mosaic_y, mosaic_width, mosaic_height, mosaic_blur_strength,
		telop_text, telop_x, telop_y, telop_font_size, telop_font_color, telop_background_color`

// EditSessionRepository backs internal/editsession.Repository: it
// reconciles the session's action list against the caller's declared
// post-image in one transaction.
type EditSessionRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewEditSessionRepository(db *sqlx.DB, log *zap.Logger) *EditSessionRepository {
	return &EditSessionRepository{db: db, log: log}
}

// GetOrCreateSession loads the session for jobID, lazily creating it
// in status draft on first access (at most one per job, enforced by a
// unique constraint on job_id).
func (r *EditSessionRepository) GetOrCreateSession(ctx context.Context, jobID uuid.UUID) (domain.EditSession, error) {
	var row editSessionRow
	err := r.db.GetContext(ctx, &row, `SELECT id, job_id, status, created_at, updated_at FROM edit_sessions WHERE job_id = $1`, jobID)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.EditSession{}, errkind.Wrap(errkind.Internal, err, "get edit session")
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO edit_sessions (job_id, status) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET job_id = EXCLUDED.job_id
		RETURNING id, job_id, status, created_at, updated_at`,
		jobID, domain.EditSessionDraft,
	).StructScan(&row)
	if err != nil {
		return domain.EditSession{}, errkind.Wrap(errkind.Internal, err, "create edit session")
	}
	return row.toDomain(), nil
}

// ListActions returns every action currently persisted for sessionID,
// ordered by start time so downstream consumers (the reconciliation
// post-image, the filter-graph compiler) see a stable sequence.
func (r *EditSessionRepository) ListActions(ctx context.Context, sessionID uuid.UUID) ([]domain.EditAction, error) {
	var rows []editActionRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+editActionColumns+` FROM edit_actions WHERE session_id = $1 ORDER BY start_sec, end_sec, id`, sessionID); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list edit actions")
	}
	actions := make([]domain.EditAction, len(rows))
	for i, row := range rows {
		actions[i] = row.toDomain()
	}
	return actions, nil
}

// ApplyDiff runs every update/create/delete plus the session's
// updated_at bump in a single transaction.
func (r *EditSessionRepository) ApplyDiff(ctx context.Context, sessionID uuid.UUID, toUpdate, toCreate []domain.EditAction, toDeleteIDs []uuid.UUID) (err error) {
	tx, err := beginTx(ctx, r.db)
	if err != nil {
		return err
	}
	defer finish(tx, &err)

	for _, a := range toUpdate {
		row := editActionToRow(a)
		_, execErr := tx.NamedExecContext(ctx, `
			UPDATE edit_actions SET
				type = :type, start_sec = :start_sec, end_sec = :end_sec, risk_item_id = :risk_item_id,
				mosaic_x = :mosaic_x, mosaic_y = :mosaic_y, mosaic_width = :mosaic_width,
				mosaic_height = :mosaic_height, mosaic_blur_strength = :mosaic_blur_strength,
				telop_text = :telop_text, telop_x = :telop_x, telop_y = :telop_y,
				telop_font_size = :telop_font_size, telop_font_color = :telop_font_color,
				telop_background_color = :telop_background_color
			WHERE id = :id AND session_id = :session_id`, row)
		if execErr != nil {
			err = errkind.Wrap(errkind.Internal, execErr, "update edit action")
			return err
		}
	}

	for _, a := range toCreate {
		row := editActionToRow(a)
		_, execErr := tx.NamedExecContext(ctx, `
			INSERT INTO edit_actions (`+editActionColumns+`)
			VALUES (:id, :session_id, :type, :start_sec, :end_sec, :risk_item_id,
				:mosaic_x, :mosaic_y, :mosaic_width, :mosaic_height, :mosaic_blur_strength,
				:telop_text, :telop_x, :telop_y, :telop_font_size, :telop_font_color, :telop_background_color)`,
			row)
		if execErr != nil {
			err = errkind.Wrap(errkind.Internal, execErr, "create edit action")
			return err
		}
	}

	if len(toDeleteIDs) > 0 {
		query, args, buildErr := sqlx.In(`DELETE FROM edit_actions WHERE id IN (?)`, toDeleteIDs)
		if buildErr != nil {
			err = errkind.Wrap(errkind.Internal, buildErr, "build delete query")
			return err
		}
		query = tx.Rebind(query)
		if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
			err = errkind.Wrap(errkind.Internal, execErr, "delete edit actions")
			return err
		}
	}

	if _, execErr := tx.ExecContext(ctx, `UPDATE edit_sessions SET updated_at = now() WHERE id = $1`, sessionID); execErr != nil {
		err = errkind.Wrap(errkind.Internal, execErr, "bump edit session updated_at")
		return err
	}
	return nil
}
