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
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/lock"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

// PipelineDefinition is the subset of a pipeline definition the run
// controller needs to resolve environment references (§4.2.4).
type PipelineDefinition struct {
	Steps    []PipelineStep    `json:"steps"`
	Services []PipelineService `json:"services"`
}

type PipelineStep struct {
	UUID        string          `json:"uuid"`
	Environment string          `json:"environment"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type PipelineService struct {
	Image string `json:"image"`
}

// ReferencedEnvironments returns the distinct environment UUIDs a
// pipeline definition references, from both steps[*].environment and
// any services[*].image of the form "environment@<uuid>".
func (d PipelineDefinition) ReferencedEnvironments() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(env string) {
		if env == "" {
			return
		}
		if _, ok := seen[env]; ok {
			return
		}
		seen[env] = struct{}{}
		out = append(out, env)
	}
	for _, s := range d.Steps {
		add(s.Environment)
	}
	for _, svc := range d.Services {
		if env, ok := strings.CutPrefix(svc.Image, "environment@"); ok {
			add(env)
		}
	}
	return out
}

// WithParameters returns a copy of d with each step's Parameters field
// stamped from runParameters, a JSON object keyed by step uuid (the
// cartesian-product job parameter shape namespace_experiments.py's
// successor stamps onto a job's generated runs). Steps with no entry in
// runParameters keep whatever parameters they already carried.
func (d PipelineDefinition) WithParameters(runParameters json.RawMessage) (PipelineDefinition, error) {
	if len(runParameters) == 0 {
		return d, nil
	}
	var byStep map[string]json.RawMessage
	if err := json.Unmarshal(runParameters, &byStep); err != nil {
		return d, fmt.Errorf("controllers: parse run parameters: %w", err)
	}

	out := d
	out.Steps = make([]PipelineStep, len(d.Steps))
	copy(out.Steps, d.Steps)
	for i, s := range out.Steps {
		if params, ok := byStep[s.UUID]; ok {
			out.Steps[i].Parameters = params
		}
	}
	return out, nil
}

// RunSpec is the input to PipelineRunController.Create.
type RunSpec struct {
	ProjectUUID        string
	PipelineUUID       string
	Kind               v1.RunKind
	JobUUID            *string
	JobScheduleNumber  *int
	Definition         PipelineDefinition
	PipelineParameters json.RawMessage
}

// PipelineRunController implements §4.2.4.
type PipelineRunController struct {
	store   *store.Store
	ex      *tpe.Executor
	tb      taskbus.TaskBus
	runtime cra.CRA
	locker  *lock.Locker
	logger  *zap.Logger
}

// NewPipelineRunController wires a PipelineRunController.
func NewPipelineRunController(st *store.Store, ex *tpe.Executor, tb taskbus.TaskBus, runtime cra.CRA, locker *lock.Locker, logger *zap.Logger) *PipelineRunController {
	return &PipelineRunController{store: st, ex: ex, tb: tb, runtime: runtime, locker: locker, logger: logger}
}

// runCreateResult is what createInTx produces: the inserted run plus a
// collateral thunk the caller must invoke once (and only once) its own
// transaction has committed.
type runCreateResult struct {
	run        v1.PipelineRun
	collateral func(context.Context) error
}

// createInTx performs the SS half of run creation — resolving referenced
// environments, locking their images (§4.4), and inserting the run and
// its step rows as PENDING — against a transaction the caller already
// holds open, rather than opening its own. This lets a caller that must
// keep another row locked across the whole operation (the job scheduler
// holding a job row lock across instantiating its due runs, §4.2.5) fold
// this insert into that same transaction instead of racing a second one.
// The returned collateral thunk (the task-bus enqueue) must only run
// after the caller's transaction commits, per §4.1's post-commit
// ordering; Create below is the single-run case, wrapping this in its
// own TPE op.
func (c *PipelineRunController) createInTx(ctx context.Context, tx *store.Tx, spec RunSpec) (v1.PipelineRun, func(context.Context) error, error) {
	run := v1.PipelineRun{
		UUID:               uuid.NewString(),
		ProjectUUID:        spec.ProjectUUID,
		PipelineUUID:       spec.PipelineUUID,
		Status:             v1.Pending,
		Kind:               spec.Kind,
		JobUUID:            spec.JobUUID,
		JobScheduleNumber:  spec.JobScheduleNumber,
		PipelineParameters: spec.PipelineParameters,
	}

	envs := spec.Definition.ReferencedEnvironments()
	if _, err := c.locker.LockImages(ctx, tx, c.store.ImageMappings, run.UUID, spec.ProjectUUID, envs); err != nil {
		return run, nil, err
	}

	steps := make([]v1.PipelineRunStep, 0, len(spec.Definition.Steps))
	for _, s := range spec.Definition.Steps {
		steps = append(steps, v1.PipelineRunStep{RunUUID: run.UUID, StepUUID: s.UUID, Status: v1.Pending})
	}
	if err := c.store.Runs.Insert(ctx, tx, run, steps); err != nil {
		return run, nil, err
	}
	metrics.ResourceTransitions.WithLabelValues("pipeline_run", string(v1.Pending)).Inc()

	collateral := func(ctx context.Context) error {
		substituted, err := spec.Definition.WithParameters(spec.PipelineParameters)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(struct {
			RunUUID            string             `json:"run_uuid"`
			PipelineDefinition PipelineDefinition `json:"pipeline_definition"`
		}{RunUUID: run.UUID, PipelineDefinition: substituted})
		if err != nil {
			return err
		}
		return c.tb.Enqueue(ctx, taskbus.Task{UUID: run.UUID, Type: taskbus.RunPipeline, Payload: payload})
	}
	return run, collateral, nil
}

// Create resolves referenced environments, locks their images (§4.4),
// inserts the run and its step rows as PENDING, and enqueues the run's
// task.
func (c *PipelineRunController) Create(ctx context.Context, spec RunSpec) (v1.PipelineRun, error) {
	op := tpe.Op[runCreateResult]{
		Transaction: func(tx *store.Tx) (runCreateResult, error) {
			run, collateral, err := c.createInTx(ctx, tx, spec)
			return runCreateResult{run: run, collateral: collateral}, err
		},
		Collateral: func(ctx context.Context, v runCreateResult) error {
			return v.collateral(ctx)
		},
		Revert: func(ctx context.Context, v runCreateResult) error {
			return c.store.WithTx(ctx, func(tx *store.Tx) error {
				return c.store.Runs.UpdateStatus(ctx, tx, v.run.UUID, v1.StatusUpdate{Status: v1.Failure})
			})
		},
	}
	result, err := tpe.RunOne(ctx, c.ex, op)
	return result.run, err
}

// Abort sets a run's status to ABORTED if it is not already terminal,
// then revokes/aborts its task and stops any containers it started.
func (c *PipelineRunController) Abort(ctx context.Context, runUUID string) error {
	op := tpe.Op[v1.PipelineRun]{
		Transaction: func(tx *store.Tx) (v1.PipelineRun, error) {
			run, err := c.store.Runs.Get(ctx, runUUID)
			if err != nil {
				return run, err
			}
			if v1.Terminal(run.Status) {
				return run, nil
			}
			if err := c.store.Runs.UpdateStatus(ctx, tx, runUUID, v1.StatusUpdate{Status: v1.Aborted}); err != nil {
				if errors.Is(err, store.ErrNotUpdated) {
					return run, nil
				}
				return run, err
			}
			run.Status = v1.Aborted
			metrics.ResourceTransitions.WithLabelValues("pipeline_run", string(v1.Aborted)).Inc()
			return run, nil
		},
		Collateral: func(ctx context.Context, run v1.PipelineRun) error {
			if run.Status != v1.Aborted {
				return nil
			}
			if err := c.tb.Revoke(ctx, run.UUID); err != nil {
				c.logger.Error("revoke aborted run failed", zap.Error(err))
			}
			if err := c.tb.Abort(ctx, run.UUID); err != nil {
				c.logger.Error("abort aborted run failed", zap.Error(err))
			}
			if err := c.runtime.Stop(ctx, run.UUID); err != nil && !errors.Is(err, cra.ErrContainerNotFound) {
				c.logger.Error("stop run container failed", zap.Error(err))
			}
			return nil
		},
	}
	_, err := tpe.RunOne(ctx, c.ex, op)
	return err
}

// AbortActiveForSession aborts every non-terminal interactive run for a
// (project, pipeline) pair, used by InteractiveSession.Stop (§4.2.3).
func (c *PipelineRunController) AbortActiveForSession(ctx context.Context, projectUUID, pipelineUUID string) error {
	var active []v1.PipelineRun
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		active, err = c.store.Runs.ActiveForSession(ctx, tx, projectUUID, pipelineUUID)
		return err
	})
	if err != nil {
		return fmt.Errorf("controllers: list active session runs: %w", err)
	}
	for _, run := range active {
		if err := c.Abort(ctx, run.UUID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a single run by uuid, for the HTTP facade's read endpoint.
func (c *PipelineRunController) Get(ctx context.Context, uuid string) (v1.PipelineRun, error) {
	return c.store.Runs.Get(ctx, uuid)
}

// ApplyStatusUpdate implements the worker status-update callback of
// §4.3: silently drops updates targeting an already-terminal row (I5).
func (c *PipelineRunController) ApplyStatusUpdate(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.Runs.UpdateStatus(ctx, tx, uuid, upd)
	})
	if errors.Is(err, store.ErrNotUpdated) {
		return nil
	}
	if err == nil {
		metrics.ResourceTransitions.WithLabelValues("pipeline_run", string(upd.Status)).Inc()
	}
	return err
}

// AbortActiveForJob aborts every non-terminal run belonging to a job,
// used by Job.Abort (§4.2.5).
func (c *PipelineRunController) AbortActiveForJob(ctx context.Context, jobUUID string) error {
	var active []v1.PipelineRun
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		active, err = c.store.Runs.ActiveForJob(ctx, tx, jobUUID)
		return err
	})
	if err != nil {
		return fmt.Errorf("controllers: list active job runs: %w", err)
	}
	for _, run := range active {
		if err := c.Abort(ctx, run.UUID); err != nil {
			return err
		}
	}
	return nil
}
