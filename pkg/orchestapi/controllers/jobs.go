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

package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	cron "gopkg.in/robfig/cron.v2"

	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

// JobController implements §4.2.5.
type JobController struct {
	store  *store.Store
	ex     *tpe.Executor
	runs   *PipelineRunController
	logger *zap.Logger
}

// NewJobController wires a JobController.
func NewJobController(st *store.Store, ex *tpe.Executor, runs *PipelineRunController, logger *zap.Logger) *JobController {
	return &JobController{store: st, ex: ex, runs: runs, logger: logger}
}

// JobRequest is the input to JobController.Create.
type JobRequest struct {
	ProjectUUID        string
	PipelineUUID       string
	PipelineDefinition json.RawMessage
	PipelineRunSpec    json.RawMessage
	JobParameters      json.RawMessage
	Schedule           *string
}

// Create inserts a job in DRAFT.
func (c *JobController) Create(ctx context.Context, req JobRequest) (v1.Job, error) {
	job := v1.Job{
		UUID:               uuid.NewString(),
		ProjectUUID:        req.ProjectUUID,
		PipelineUUID:       req.PipelineUUID,
		PipelineDefinition: req.PipelineDefinition,
		PipelineRunSpec:    req.PipelineRunSpec,
		JobParameters:      req.JobParameters,
		Schedule:           req.Schedule,
		Status:             v1.JobDraft,
	}
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.Jobs.Insert(ctx, tx, job)
	})
	return job, err
}

// Get returns a single job by uuid, for the HTTP facade's read endpoint.
func (c *JobController) Get(ctx context.Context, uuid string) (v1.Job, error) {
	return c.store.Jobs.Get(ctx, uuid)
}

// List returns every job, for the HTTP facade's list endpoint.
func (c *JobController) List(ctx context.Context) ([]v1.Job, error) {
	return c.store.Jobs.List(ctx)
}

// Start computes next_scheduled_time from the job's five-field UTC cron
// expression (for a one-shot job, the start time itself, so the job
// poller fires it exactly once on its next tick) and flips the job to
// STARTED.
func (c *JobController) Start(ctx context.Context, jobUUID string) error {
	now := time.Now().UTC()
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		job, err := c.store.Jobs.GetForUpdate(ctx, tx, jobUUID)
		if err != nil {
			return err
		}

		var next *time.Time
		if job.Schedule != nil {
			schedule, err := cron.Parse(*job.Schedule)
			if err != nil {
				return fmt.Errorf("controllers: parse job schedule %q: %w", *job.Schedule, err)
			}
			t := schedule.Next(now)
			next = &t
		} else {
			next = &now
		}

		if err := c.store.Jobs.SetNextScheduledTime(ctx, tx, jobUUID, next); err != nil {
			return err
		}
		return c.store.Jobs.UpdateStatus(ctx, tx, jobUUID, v1.JobStarted)
	})
}

// Abort cancels every non-terminal run belonging to the job and sets it
// to ABORTED.
func (c *JobController) Abort(ctx context.Context, jobUUID string) error {
	if err := c.runs.AbortActiveForJob(ctx, jobUUID); err != nil {
		return err
	}
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.Jobs.UpdateStatus(ctx, tx, jobUUID, v1.JobAborted)
	})
}

// jobParameterCombinations returns the cartesian product of job
// parameter sets, one merged JSON object per combination. job_parameters is
// stored as a JSON array of arrays of parameter objects; each inner
// array is one parameterized variable's possible values.
func jobParameterCombinations(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return []json.RawMessage{nil}, nil
	}
	var sets [][]json.RawMessage
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("controllers: parse job parameters: %w", err)
	}
	if len(sets) == 0 {
		return []json.RawMessage{nil}, nil
	}

	combos := []json.RawMessage{nil}
	for _, set := range sets {
		var next []json.RawMessage
		for _, prefix := range combos {
			for _, v := range set {
				if prefix == nil {
					next = append(next, v)
					continue
				}
				merged, err := mergeJSONObjects(prefix, v)
				if err != nil {
					return nil, err
				}
				next = append(next, merged)
			}
		}
		combos = next
	}
	return combos, nil
}

func mergeJSONObjects(a, b json.RawMessage) (json.RawMessage, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(a, &merged); err != nil {
		return nil, err
	}
	var next map[string]json.RawMessage
	if err := json.Unmarshal(b, &next); err != nil {
		return nil, err
	}
	for k, v := range next {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ClaimDueRuns is the recurring scheduler's per-tick entry point into
// job firing (§4.5 driving §4.2.5). It first lists due job uuids with no
// lock held, then claims each individually via claimOne, so one
// replica's slow or failing job doesn't block another replica (or this
// same poller's next candidate) from making progress.
func (c *JobController) ClaimDueRuns(ctx context.Context, now time.Time) error {
	uuids, err := c.store.Jobs.ListDueUUIDs(ctx, now)
	if err != nil {
		return fmt.Errorf("controllers: list due job uuids: %w", err)
	}
	for _, jobUUID := range uuids {
		if err := c.claimOne(ctx, jobUUID, now); err != nil {
			c.logger.Error("controllers: claim due job failed", zap.String("job_uuid", jobUUID), zap.Error(err))
		}
	}
	return nil
}

// claimOne holds jobUUID's row lock (GetDueForUpdate's FOR UPDATE SKIP
// LOCKED) across re-checking it is still due, instantiating every run
// in the cartesian product of its job parameters, and advancing its
// schedule — all inside one transaction. That is what closes the race
// the two-transaction version had: a concurrent replica's own
// GetDueForUpdate call against the same uuid returns no row (SKIP
// LOCKED) until this transaction commits, by which point
// next_scheduled_time/total_scheduled_executions have already moved
// past the condition that made the job due, so it is never claimed
// twice for the same tick (§4.5, §4.2.5, P5). Run-creation collaterals
// (task-bus enqueues) only fire after the transaction commits, the same
// post-commit ordering §4.1 requires of a TPE batch.
func (c *JobController) claimOne(ctx context.Context, jobUUID string, now time.Time) error {
	var collaterals []func(context.Context) error
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		job, err := c.store.Jobs.GetDueForUpdate(ctx, tx, jobUUID, now)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Already claimed by a concurrent replica (SKIP LOCKED),
				// or no longer due by the time we got the lock.
				return nil
			}
			return err
		}

		var definition PipelineDefinition
		if err := json.Unmarshal(job.PipelineDefinition, &definition); err != nil {
			return fmt.Errorf("controllers: parse pipeline definition: %w", err)
		}
		combos, err := jobParameterCombinations(job.JobParameters)
		if err != nil {
			return err
		}

		for i, params := range combos {
			scheduleNumber := job.TotalScheduledExecutions
			_, collateral, err := c.runs.createInTx(ctx, tx, RunSpec{
				ProjectUUID:        job.ProjectUUID,
				PipelineUUID:       job.PipelineUUID,
				Kind:               v1.KindNonInteractive,
				JobUUID:            &job.UUID,
				JobScheduleNumber:  &scheduleNumber,
				Definition:         definition,
				PipelineParameters: params,
			})
			if err != nil {
				return fmt.Errorf("controllers: instantiate job run %d: %w", i, err)
			}
			metrics.JobRunsInstantiated.WithLabelValues(job.UUID).Inc()
			collaterals = append(collaterals, collateral)
		}

		var next *time.Time
		if job.Schedule != nil {
			schedule, err := cron.Parse(*job.Schedule)
			if err != nil {
				return fmt.Errorf("controllers: parse job schedule %q: %w", *job.Schedule, err)
			}
			t := schedule.Next(now)
			next = &t
		}
		if err := c.store.Jobs.AdvanceSchedule(ctx, tx, job.UUID, 1, next); err != nil {
			return err
		}
		if job.Schedule == nil {
			return c.store.Jobs.UpdateStatus(ctx, tx, job.UUID, v1.JobSuccess)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, fn := range collaterals {
		if err := fn(ctx); err != nil {
			c.logger.Error("controllers: run collateral failed", zap.Error(err))
		}
	}
	return nil
}
