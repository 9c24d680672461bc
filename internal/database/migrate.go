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

// Package database owns the schema migrations for the Job Record
// Store, applied with goose against the same Postgres database the
// repository layer reads and writes.
package database

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/jordigilh/riskline/internal/errkind"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration under migrations/ to db.
// It is safe to call on every process start: goose tracks applied
// versions in its own bookkeeping table and is a no-op once current.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errkind.Wrap(errkind.Internal, err, "set goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errkind.Wrap(errkind.Internal, err, "apply migrations")
	}
	return nil
}
