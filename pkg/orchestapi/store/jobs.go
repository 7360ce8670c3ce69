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

// JobRepository is the SS half of §4.2.5.
type JobRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func (r *JobRepository) Insert(ctx context.Context, tx *Tx, j v1.Job) error {
	const q = `
INSERT INTO jobs (uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec,
                   job_parameters, schedule, next_scheduled_time, total_scheduled_executions, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := tx.ExecContext(ctx, q, j.UUID, j.ProjectUUID, j.PipelineUUID, j.PipelineDefinition, j.PipelineRunSpec,
		j.JobParameters, j.Schedule, j.NextScheduledTime, j.TotalScheduledExecutions, j.Status)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, uuid string) (v1.Job, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters,
       schedule, next_scheduled_time, total_scheduled_executions, status
FROM jobs WHERE uuid = $1`
	var j v1.Job
	if err := r.db.GetContext(ctx, &j, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

// List returns every job, for the HTTP facade's list endpoint.
func (r *JobRepository) List(ctx context.Context) ([]v1.Job, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters,
       schedule, next_scheduled_time, total_scheduled_executions, status
FROM jobs ORDER BY uuid`
	var rows []v1.Job
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	return rows, nil
}

func (r *JobRepository) GetForUpdate(ctx context.Context, tx *Tx, uuid string) (v1.Job, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters,
       schedule, next_scheduled_time, total_scheduled_executions, status
FROM jobs WHERE uuid = $1 FOR UPDATE`
	var j v1.Job
	if err := tx.GetContext(ctx, &j, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, fmt.Errorf("store: get job for update: %w", err)
	}
	return j, nil
}

// ListDueUUIDs returns the uuids of every STARTED job whose
// next_scheduled_time has arrived, with no lock held: a cheap, unlocked
// candidate list the poller fans out over, each candidate then re-checked
// and locked individually by GetDueForUpdate.
func (r *JobRepository) ListDueUUIDs(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
SELECT uuid FROM jobs
WHERE status = 'STARTED' AND next_scheduled_time IS NOT NULL AND next_scheduled_time <= $1
ORDER BY next_scheduled_time`
	var uuids []string
	if err := r.db.SelectContext(ctx, &uuids, q, now); err != nil {
		return nil, fmt.Errorf("store: list due job uuids: %w", err)
	}
	return uuids, nil
}

// GetDueForUpdate re-checks and row-locks a single candidate job inside
// the caller's transaction: SKIP LOCKED so a replica racing to claim the
// same job simply sees no row back rather than blocking, and the WHERE
// clause re-applies the due condition so a job another replica already
// advanced past its next tick is correctly skipped. The caller is
// expected to keep this row locked across run instantiation and
// AdvanceSchedule in the same transaction (§4.5, §4.2.5, P5) — unlike the
// old two-transaction split, the lock here is held for the whole claim,
// not just the initial select.
func (r *JobRepository) GetDueForUpdate(ctx context.Context, tx *Tx, uuid string, now time.Time) (v1.Job, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, pipeline_definition, pipeline_run_spec, job_parameters,
       schedule, next_scheduled_time, total_scheduled_executions, status
FROM jobs
WHERE uuid = $1 AND status = 'STARTED' AND next_scheduled_time IS NOT NULL AND next_scheduled_time <= $2
FOR UPDATE SKIP LOCKED`
	var j v1.Job
	if err := tx.GetContext(ctx, &j, q, uuid, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, fmt.Errorf("store: get due job for update: %w", err)
	}
	return j, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, tx *Tx, uuid string, status v1.JobStatus) error {
	const q = `UPDATE jobs SET status = $1 WHERE uuid = $2`
	if _, err := tx.ExecContext(ctx, q, status, uuid); err != nil {
		return fmt.Errorf("store: update job status: %w", err)
	}
	return nil
}

// AdvanceSchedule increments total_scheduled_executions and sets the
// next scheduled time after a batch of runs was produced for `schedule`.
func (r *JobRepository) AdvanceSchedule(ctx context.Context, tx *Tx, uuid string, executionsDelta int, next *time.Time) error {
	const q = `
UPDATE jobs SET total_scheduled_executions = total_scheduled_executions + $1, next_scheduled_time = $2
WHERE uuid = $3`
	if _, err := tx.ExecContext(ctx, q, executionsDelta, next, uuid); err != nil {
		return fmt.Errorf("store: advance job schedule: %w", err)
	}
	return nil
}

func (r *JobRepository) SetNextScheduledTime(ctx context.Context, tx *Tx, uuid string, next *time.Time) error {
	const q = `UPDATE jobs SET next_scheduled_time = $1 WHERE uuid = $2`
	if _, err := tx.ExecContext(ctx, q, next, uuid); err != nil {
		return fmt.Errorf("store: set next scheduled time: %w", err)
	}
	return nil
}
