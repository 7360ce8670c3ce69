/*
Copyright 2024 The Orchest Authors.

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

// Package store is the State Store (SS): the relational persistence layer
// of projects, pipelines, environments, builds, sessions, runs, jobs,
// image mappings and scheduler-job rows. Every repository in this package
// takes a *sqlx.DB (or, mid-transaction, a *sqlx.Tx) driven by
// github.com/jackc/pgx/v5/stdlib, and a *zap.Logger, the same pairing
// jordigilh-kubernaut's pkg/datastorage/repository package is exercised
// with in test/unit/datastorage/workflow_repository_test.go.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store bundles one repository per aggregate behind a single handle, and
// owns the *sqlx.DB connection pool and the transaction helper every
// repository's "_transaction" half of a TPE operation relies on.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger

	EnvironmentBuilds *EnvironmentBuildRepository
	JupyterBuilds     *JupyterBuildRepository
	Sessions          *SessionRepository
	Runs              *RunRepository
	Jobs              *JobRepository
	ImageMappings     *ImageMappingRepository
	SchedulerJobs     *SchedulerJobRepository
}

// Open connects to Postgres via pgx's database/sql driver and wires up
// every repository against the same pool.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return New(db, logger), nil
}

// New wires every repository against an already-open *sqlx.DB. Exported
// separately from Open so tests can pass a sqlmock-backed *sqlx.DB.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:                db,
		logger:            logger,
		EnvironmentBuilds: &EnvironmentBuildRepository{db: db, logger: logger},
		JupyterBuilds:     &JupyterBuildRepository{db: db, logger: logger},
		Sessions:          &SessionRepository{db: db, logger: logger},
		Runs:              &RunRepository{db: db, logger: logger},
		Jobs:              &JobRepository{db: db, logger: logger},
		ImageMappings:     &ImageMappingRepository{db: db, logger: logger},
		SchedulerJobs:     &SchedulerJobRepository{db: db, logger: logger},
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the underlying connection pool can reach
// Postgres, used by the HTTP facade's readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is the read-committed transaction handle every TPE "transaction"
// phase runs inside. It is a thin rename of *sqlx.Tx so that repository
// method signatures read as SS-domain code rather than generic SQL code.
type Tx = sqlx.Tx

// WithTx opens one read-committed transaction, runs fn, and commits iff
// fn returns a nil error; otherwise it rolls back. This is the single
// SS transaction a TPE batch's "transaction" phases all share (§4.1.1).
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
