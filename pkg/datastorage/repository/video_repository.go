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

// videoRow is the wire shape sqlx scans the videos table into; the
// nullable duration column maps to domain.Video.DurationSec through
// sqlutil rather than forcing the domain type itself to carry
// sql.Null* noise.
type videoRow struct {
	ID           uuid.UUID       `db:"id"`
	BlobPath     string          `db:"blob_path"`
	OriginalName string          `db:"original_name"`
	ByteSize     int64           `db:"byte_size"`
	DurationSec  sql.NullFloat64 `db:"duration_sec"`
	CreatedAt    sql.NullTime    `db:"created_at"`
}

func (r videoRow) toDomain() domain.Video {
	return domain.Video{
		ID:           r.ID,
		BlobPath:     r.BlobPath,
		OriginalName: r.OriginalName,
		ByteSize:     r.ByteSize,
		DurationSec:  sqlutil.FromNullFloat64(r.DurationSec),
		CreatedAt:    r.CreatedAt.Time,
	}
}

// VideoRepository persists the immutable Video aggregate.
type VideoRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewVideoRepository(db *sqlx.DB, log *zap.Logger) *VideoRepository {
	return &VideoRepository{db: db, log: log}
}

// Create inserts video, assigning its id and created_at server-side.
func (r *VideoRepository) Create(ctx context.Context, video domain.Video) (domain.Video, error) {
	var row videoRow
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO videos (blob_path, original_name, byte_size, duration_sec)
		VALUES ($1, $2, $3, $4)
		RETURNING id, blob_path, original_name, byte_size, duration_sec, created_at`,
		video.BlobPath, video.OriginalName, video.ByteSize, sqlutil.ToNullFloat64(video.DurationSec),
	).StructScan(&row)
	if err != nil {
		return domain.Video{}, errkind.Wrap(errkind.Internal, err, "insert video")
	}
	return row.toDomain(), nil
}

// Get loads one video by id.
func (r *VideoRepository) Get(ctx context.Context, id uuid.UUID) (domain.Video, error) {
	var row videoRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, blob_path, original_name, byte_size, duration_sec, created_at
		FROM videos WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Video{}, errkind.New(errkind.NotFound, "video not found")
	}
	if err != nil {
		return domain.Video{}, errkind.Wrap(errkind.Internal, err, "get video")
	}
	return row.toDomain(), nil
}
