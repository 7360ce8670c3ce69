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

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// RunRepository is the SS half of §4.2.4: PipelineRun and its
// PipelineRunStep children.
type RunRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func (r *RunRepository) Insert(ctx context.Context, tx *Tx, run v1.PipelineRun, steps []v1.PipelineRunStep) error {
	const runQ = `
INSERT INTO pipeline_runs (uuid, project_uuid, pipeline_uuid, status, kind, job_uuid, job_schedule_number, pipeline_parameters)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, runQ, run.UUID, run.ProjectUUID, run.PipelineUUID, run.Status, run.Kind, run.JobUUID, run.JobScheduleNumber, run.PipelineParameters); err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	const stepQ = `INSERT INTO pipeline_run_steps (run_uuid, step_uuid, status) VALUES ($1, $2, $3)`
	for _, s := range steps {
		if _, err := tx.ExecContext(ctx, stepQ, run.UUID, s.StepUUID, s.Status); err != nil {
			return fmt.Errorf("store: insert run step: %w", err)
		}
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, uuid string) (v1.PipelineRun, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, status, started_time, finished_time, kind, job_uuid, job_schedule_number, pipeline_parameters
FROM pipeline_runs WHERE uuid = $1`
	var run v1.PipelineRun
	if err := r.db.GetContext(ctx, &run, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, ErrNotFound
		}
		return run, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, tx *Tx, uuid string, upd v1.StatusUpdate) error {
	const q = `
UPDATE pipeline_runs
SET status = $1, started_time = COALESCE($2, started_time), finished_time = COALESCE($3, finished_time)
WHERE uuid = $4 AND status IN ('PENDING', 'STARTED')`
	res, err := tx.ExecContext(ctx, q, upd.Status, upd.StartedTime, upd.FinishedTime, uuid)
	if err != nil {
		return fmt.Errorf("store: update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotUpdated
	}
	return nil
}

func (r *RunRepository) UpdateStepStatus(ctx context.Context, tx *Tx, runUUID, stepUUID string, upd v1.StatusUpdate) error {
	const q = `
UPDATE pipeline_run_steps
SET status = $1, started_time = COALESCE($2, started_time), finished_time = COALESCE($3, finished_time)
WHERE run_uuid = $4 AND step_uuid = $5 AND status IN ('PENDING', 'STARTED')`
	res, err := tx.ExecContext(ctx, q, upd.Status, upd.StartedTime, upd.FinishedTime, runUUID, stepUUID)
	if err != nil {
		return fmt.Errorf("store: update run step status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotUpdated
	}
	return nil
}

// ActiveForSession returns every non-terminal interactive run for a
// (project, pipeline) pair, used by InteractiveSession.stop to abort runs
// before tearing the session down.
func (r *RunRepository) ActiveForSession(ctx context.Context, tx *Tx, projectUUID, pipelineUUID string) ([]v1.PipelineRun, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, status, started_time, finished_time, kind, job_uuid, job_schedule_number, pipeline_parameters
FROM pipeline_runs
WHERE project_uuid = $1 AND pipeline_uuid = $2 AND kind = 'interactive' AND status IN ('PENDING', 'STARTED')
FOR UPDATE`
	var rows []v1.PipelineRun
	if err := tx.SelectContext(ctx, &rows, q, projectUUID, pipelineUUID); err != nil {
		return nil, fmt.Errorf("store: active interactive runs: %w", err)
	}
	return rows, nil
}

// ActiveForJob returns every non-terminal run belonging to a job, used by
// Job.abort to cancel all of a job's outstanding runs.
func (r *RunRepository) ActiveForJob(ctx context.Context, tx *Tx, jobUUID string) ([]v1.PipelineRun, error) {
	const q = `
SELECT uuid, project_uuid, pipeline_uuid, status, started_time, finished_time, kind, job_uuid, job_schedule_number, pipeline_parameters
FROM pipeline_runs WHERE job_uuid = $1 AND status IN ('PENDING', 'STARTED') FOR UPDATE`
	var rows []v1.PipelineRun
	if err := tx.SelectContext(ctx, &rows, q, jobUUID); err != nil {
		return nil, fmt.Errorf("store: active job runs: %w", err)
	}
	return rows, nil
}

// ReferencingDockerImage reports whether any non-terminal run has a
// PipelineRunImageMapping row pointing at imgID, used by the GC's
// dangling-image check (invariant I6).
func (r *RunRepository) ReferencingDockerImage(ctx context.Context, imgID string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM pipeline_run_image_mappings m
	JOIN pipeline_runs r ON r.uuid = m.run_uuid
	WHERE m.docker_img_id = $1 AND r.status IN ('PENDING', 'STARTED')
)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, q, imgID); err != nil {
		return false, fmt.Errorf("store: referencing docker image: %w", err)
	}
	return exists, nil
}
