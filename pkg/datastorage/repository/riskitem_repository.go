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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
)

type riskItemRow struct {
	ID          uuid.UUID `db:"id"`
	JobID       uuid.UUID `db:"job_id"`
	StartSec    float64   `db:"start_sec"`
	EndSec      float64   `db:"end_sec"`
	Category    string    `db:"category"`
	Subcategory string    `db:"subcategory"`
	Score       float64   `db:"score"`
	Level       string    `db:"level"`
	Rationale   string    `db:"rationale"`
	Source      string    `db:"source"`
	Evidence    string    `db:"evidence"`
}

func (r riskItemRow) toDomain() domain.RiskItem {
	return domain.RiskItem{
		ID:          r.ID,
		JobID:       r.JobID,
		StartSec:    r.StartSec,
		EndSec:      r.EndSec,
		Category:    domain.RiskCategory(r.Category),
		Subcategory: r.Subcategory,
		Score:       r.Score,
		Level:       domain.RiskLevel(r.Level),
		Rationale:   r.Rationale,
		Source:      domain.RiskSource(r.Source),
		Evidence:    r.Evidence,
	}
}

// RiskItemRepository persists the immutable RiskItem aggregate. Risk
// items are only ever written as a whole replacement for a job's
// prior set, keeping task-queue retries idempotent.
type RiskItemRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRiskItemRepository(db *sqlx.DB, log *zap.Logger) *RiskItemRepository {
	return &RiskItemRepository{db: db, log: log}
}

// ReplaceRiskItems deletes any risk items already attached to jobID
// and bulk-inserts risks, atomically, so a task-queue retry of a
// whole orchestrator run never double-inserts (retry policy
// option (a)).
func (r *RiskItemRepository) ReplaceRiskItems(ctx context.Context, jobID uuid.UUID, risks []domain.RiskItem) (err error) {
	tx, err := beginTx(ctx, r.db)
	if err != nil {
		return err
	}
	defer finish(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM risk_items WHERE job_id = $1`, jobID); err != nil {
		err = errkind.Wrap(errkind.Internal, err, "delete prior risk items")
		return err
	}

	for _, risk := range risks {
		id := risk.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, execErr := tx.NamedExecContext(ctx, `
			INSERT INTO risk_items (id, job_id, start_sec, end_sec, category, subcategory, score, level, rationale, source, evidence)
			VALUES (:id, :job_id, :start_sec, :end_sec, :category, :subcategory, :score, :level, :rationale, :source, :evidence)`,
			riskItemRow{
				ID: id, JobID: jobID, StartSec: risk.StartSec, EndSec: risk.EndSec,
				Category: string(risk.Category), Subcategory: risk.Subcategory, Score: risk.Score,
				Level: string(risk.Level), Rationale: risk.Rationale, Source: string(risk.Source), Evidence: risk.Evidence,
			})
		if execErr != nil {
			err = errkind.Wrap(errkind.Internal, execErr, "insert risk item")
			return err
		}
	}
	return nil
}

// ListByJob returns every risk item for jobID ordered by start-sec
// ascending, the shape GET /jobs/{id}/results serves.
func (r *RiskItemRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.RiskItem, error) {
	var rows []riskItemRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, job_id, start_sec, end_sec, category, subcategory, score, level, rationale, source, evidence
		FROM risk_items WHERE job_id = $1 ORDER BY start_sec ASC`, jobID); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list risk items")
	}
	risks := make([]domain.RiskItem, len(rows))
	for i, row := range rows {
		risks[i] = row.toDomain()
	}
	return risks, nil
}
