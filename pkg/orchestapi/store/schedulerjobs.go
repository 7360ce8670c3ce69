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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// SchedulerJobRepository is the SS half of §4.5: one singleton row per
// v1.SchedulerJobType, row-locked so concurrent replicas serialize on it
// (invariant I7, grounded on _HandleRecurringSchedulerJob's row-lock and
// epsilon-timestamp check).
type SchedulerJobRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// GetForUpdate locks the row for jobType, creating it with a zero
// last_run timestamp the first time it's seen so the epsilon check in
// the scheduler package always has a row to compare against.
func (r *SchedulerJobRepository) GetForUpdate(ctx context.Context, tx *Tx, jobType v1.SchedulerJobType) (v1.SchedulerJob, error) {
	const selQ = `SELECT type, timestamp FROM scheduler_jobs WHERE type = $1 FOR UPDATE`
	var j v1.SchedulerJob
	err := tx.GetContext(ctx, &j, selQ, jobType)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("store: get scheduler job for update: %w", err)
	}

	const insQ = `INSERT INTO scheduler_jobs (type, timestamp) VALUES ($1, $2) ON CONFLICT (type) DO NOTHING`
	zeroTime := time.Unix(0, 0).UTC()
	if _, err := tx.ExecContext(ctx, insQ, jobType, zeroTime); err != nil {
		return j, fmt.Errorf("store: seed scheduler job: %w", err)
	}
	if err := tx.GetContext(ctx, &j, selQ, jobType); err != nil {
		return j, fmt.Errorf("store: get scheduler job after seed: %w", err)
	}
	return j, nil
}

// SetTimestamp advances the row's timestamp after a firing completes,
// within the same transaction that holds the row lock acquired by
// GetForUpdate.
func (r *SchedulerJobRepository) SetTimestamp(ctx context.Context, tx *Tx, jobType v1.SchedulerJobType, at time.Time) error {
	const q = `UPDATE scheduler_jobs SET timestamp = $1 WHERE type = $2`
	if _, err := tx.ExecContext(ctx, q, at, jobType); err != nil {
		return fmt.Errorf("store: set scheduler job timestamp: %w", err)
	}
	return nil
}
