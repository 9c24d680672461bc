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

// Package repository is the Job Record Store: the durable relational
// store of videos, analysis jobs, risk items, edit sessions, edit
// actions, and export jobs, backed by Postgres via pgx/sqlx.
package repository

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/jordigilh/riskline/internal/errkind"
)

// NewPgxConnConfig parses dsn and forces DefaultQueryExecMode to
// DescribeExec rather than pgx's default CacheStatement. The cached
// mode pins prepared-statement plans to the schema seen at connection
// time; a goose migration run while the pool is live then produces
// "cached plan must not change result type" errors. DescribeExec
// re-describes each query (picking up the correct OIDs for JSONB-ish
// parameters) without caching the plan across schema changes.
func NewPgxConnConfig(dsn string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "failed to parse PostgreSQL connection string")
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	return cfg, nil
}

// Open connects to Postgres, returning an *sqlx.DB wrapping a
// pgxpool-backed *sql.DB (via pgx/v5/stdlib) so repositories can use
// sqlx's NamedExec/Get/Select conveniences while still running on the
// pgx driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	connConfig, err := NewPgxConnConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "parse pgxpool config")
	}
	poolCfg.ConnConfig.DefaultQueryExecMode = connConfig.DefaultQueryExecMode

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "create pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "ping database")
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	return sqlx.NewDb(sqlDB, "pgx"), nil
}

// beginTx is the shared helper every repository's multi-statement
// method uses to guarantee rollback on any error path.
func beginTx(ctx context.Context, db *sqlx.DB) (*sqlx.Tx, error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "begin transaction")
	}
	return tx, nil
}

func finish(tx *sqlx.Tx, err *error) {
	if p := recover(); p != nil {
		_ = tx.Rollback()
		panic(p)
	}
	if *err != nil {
		_ = tx.Rollback()
		return
	}
	if commitErr := tx.Commit(); commitErr != nil {
		*err = errkind.Wrap(errkind.Internal, commitErr, "commit transaction")
	}
}
