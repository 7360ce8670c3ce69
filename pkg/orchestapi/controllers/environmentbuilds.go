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
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

// EnvironmentBuildRequest is one element of a create batch (§4.2.1).
type EnvironmentBuildRequest struct {
	ProjectUUID     string
	EnvironmentUUID string
	ProjectPath     string
}

// FailedRequest reports why one request in a batch did not succeed.
type FailedRequest struct {
	Request EnvironmentBuildRequest
	Reason  string
}

// EnvironmentBuildController implements §4.2.1.
type EnvironmentBuildController struct {
	store   *store.Store
	ex      *tpe.Executor
	tb      taskbus.TaskBus
	runtime cra.CRA
	logger  *zap.Logger
}

// NewEnvironmentBuildController wires an EnvironmentBuildController.
func NewEnvironmentBuildController(st *store.Store, ex *tpe.Executor, tb taskbus.TaskBus, runtime cra.CRA, logger *zap.Logger) *EnvironmentBuildController {
	return &EnvironmentBuildController{store: st, ex: ex, tb: tb, runtime: runtime, logger: logger}
}

type envBuildOpValue struct {
	build     v1.EnvironmentBuild
	supersede []v1.EnvironmentBuild
}

// Create deduplicates requests by (project_uuid, environment_uuid,
// project_path) and, for each unique tuple, runs its own TPE batch of one:
// supersede any active build and insert a fresh PENDING row with an
// enqueued build_environment task. Each tuple's transaction is isolated
// from its siblings' (one tpe.RunOne call per tuple, not one shared
// batch), so a single failing tuple reports into the returned
// FailedRequest slice instead of rolling back every other tuple's
// already-committed insert — the per-request isolation §6's "500 if
// some requests failed" / "failed_requests" contract requires.
func (c *EnvironmentBuildController) Create(ctx context.Context, requests []EnvironmentBuildRequest) ([]v1.EnvironmentBuild, []FailedRequest, error) {
	unique := dedupeRequests(requests)

	builds := make([]v1.EnvironmentBuild, 0, len(unique))
	var failed []FailedRequest
	for _, req := range unique {
		build, err := c.createOne(ctx, req)
		if err != nil {
			c.logger.Error("create environment build failed", zap.String("project_uuid", req.ProjectUUID),
				zap.String("environment_uuid", req.EnvironmentUUID), zap.Error(err))
			failed = append(failed, FailedRequest{Request: req, Reason: err.Error()})
			continue
		}
		builds = append(builds, build)
	}
	return builds, failed, nil
}

func (c *EnvironmentBuildController) createOne(ctx context.Context, req EnvironmentBuildRequest) (v1.EnvironmentBuild, error) {
	op := tpe.Op[envBuildOpValue]{
		Transaction: func(tx *store.Tx) (envBuildOpValue, error) {
			active, err := c.store.EnvironmentBuilds.ActiveForTuple(ctx, tx, req.ProjectUUID, req.EnvironmentUUID, req.ProjectPath)
			if err != nil {
				return envBuildOpValue{}, err
			}
			for i := range active {
				if err := c.store.EnvironmentBuilds.UpdateStatus(ctx, tx, active[i].UUID, v1.StatusUpdate{Status: v1.Aborted}); err != nil && !errors.Is(err, store.ErrNotUpdated) {
					return envBuildOpValue{}, err
				}
			}

			build := v1.EnvironmentBuild{
				UUID:            uuid.NewString(),
				ProjectUUID:     req.ProjectUUID,
				EnvironmentUUID: req.EnvironmentUUID,
				ProjectPath:     req.ProjectPath,
				RequestedTime:   time.Now().UTC(),
				Status:          v1.Pending,
			}
			if err := c.store.EnvironmentBuilds.Insert(ctx, tx, build); err != nil {
				return envBuildOpValue{}, err
			}
			metrics.ResourceTransitions.WithLabelValues("environment_build", string(v1.Pending)).Inc()
			return envBuildOpValue{build: build, supersede: active}, nil
		},
		Collateral: func(ctx context.Context, v envBuildOpValue) error {
			for _, old := range v.supersede {
				if err := c.tb.Revoke(ctx, old.UUID); err != nil {
					c.logger.Error("revoke superseded build task failed", zap.Error(err))
				}
				if err := c.tb.Abort(ctx, old.UUID); err != nil {
					c.logger.Error("abort superseded build task failed", zap.Error(err))
				}
			}
			payload, err := json.Marshal(map[string]string{
				"project_uuid":     v.build.ProjectUUID,
				"environment_uuid": v.build.EnvironmentUUID,
				"project_path":     v.build.ProjectPath,
			})
			if err != nil {
				return err
			}
			return c.tb.Enqueue(ctx, taskbus.Task{UUID: v.build.UUID, Type: taskbus.BuildEnvironment, Payload: payload})
		},
		Revert: func(ctx context.Context, v envBuildOpValue) error {
			return c.store.WithTx(ctx, func(tx *store.Tx) error {
				return c.store.EnvironmentBuilds.UpdateStatus(ctx, tx, v.build.UUID, v1.StatusUpdate{Status: v1.Failure})
			})
		},
	}

	v, err := tpe.RunOne(ctx, c.ex, op)
	if err != nil {
		return v1.EnvironmentBuild{}, fmt.Errorf("controllers: create environment build: %w", err)
	}
	return v.build, nil
}

// Abort flips a build to ABORTED iff it is not yet terminal (I5), then
// revokes/aborts its task and removes any intermediate images it
// published.
func (c *EnvironmentBuildController) Abort(ctx context.Context, uuid string) error {
	op := tpe.Op[v1.EnvironmentBuild]{
		Transaction: func(tx *store.Tx) (v1.EnvironmentBuild, error) {
			build, err := c.store.EnvironmentBuilds.Get(ctx, uuid)
			if err != nil {
				return build, err
			}
			if err := c.store.EnvironmentBuilds.UpdateStatus(ctx, tx, uuid, v1.StatusUpdate{Status: v1.Aborted}); err != nil {
				if errors.Is(err, store.ErrNotUpdated) {
					return build, nil
				}
				return build, err
			}
			build.Status = v1.Aborted
			metrics.ResourceTransitions.WithLabelValues("environment_build", string(v1.Aborted)).Inc()
			return build, nil
		},
		Collateral: func(ctx context.Context, build v1.EnvironmentBuild) error {
			if build.Status != v1.Aborted {
				return nil
			}
			if err := c.tb.Revoke(ctx, build.UUID); err != nil {
				c.logger.Error("revoke aborted build task failed", zap.Error(err))
			}
			if err := c.tb.Abort(ctx, build.UUID); err != nil {
				c.logger.Error("abort aborted build task failed", zap.Error(err))
			}
			images, err := c.runtime.ListImagesByLabel(ctx, cra.LabelEnvBuildTaskUUID, build.UUID)
			if err != nil {
				c.logger.Error("list intermediate images failed", zap.Error(err))
				return nil
			}
			for _, img := range images {
				if err := c.runtime.RemoveImage(ctx, img.ID); err != nil && !errors.Is(err, cra.ErrImageNotFound) {
					c.logger.Error("remove intermediate image failed", zap.String("image_id", img.ID), zap.Error(err))
				}
			}
			return nil
		},
	}
	_, err := tpe.RunOne(ctx, c.ex, op)
	return err
}

// DeleteForProject aborts the most recent build per environment (if
// active) then hard-deletes every build row belonging to the project.
func (c *EnvironmentBuildController) DeleteForProject(ctx context.Context, projectUUID string) error {
	envs, err := c.store.EnvironmentBuilds.DistinctEnvironmentsForProject(ctx, projectUUID)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if err := c.DeleteForEnv(ctx, projectUUID, env); err != nil {
			return err
		}
	}
	return nil
}

// DeleteForEnv aborts the head build for (project, env) if active, then
// hard-deletes every build row for that pair.
func (c *EnvironmentBuildController) DeleteForEnv(ctx context.Context, projectUUID, environmentUUID string) error {
	builds, err := c.store.EnvironmentBuilds.ForProjectEnvironmentOrderedDesc(ctx, projectUUID, environmentUUID)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		return nil
	}
	if !v1.Terminal(builds[0].Status) {
		if err := c.Abort(ctx, builds[0].UUID); err != nil {
			return err
		}
	}

	uuids := make([]string, 0, len(builds))
	for _, b := range builds {
		uuids = append(uuids, b.UUID)
	}
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.EnvironmentBuilds.Delete(ctx, tx, uuids)
	})
}

// Get returns a single build by uuid, for the HTTP facade's read
// endpoint.
func (c *EnvironmentBuildController) Get(ctx context.Context, uuid string) (v1.EnvironmentBuild, error) {
	return c.store.EnvironmentBuilds.Get(ctx, uuid)
}

// List returns every build, for the HTTP facade's list endpoint.
func (c *EnvironmentBuildController) List(ctx context.Context) ([]v1.EnvironmentBuild, error) {
	return c.store.EnvironmentBuilds.List(ctx)
}

// MostRecentPerEnvironment returns the latest build per environment for
// a project.
func (c *EnvironmentBuildController) MostRecentPerEnvironment(ctx context.Context, projectUUID string) ([]v1.EnvironmentBuild, error) {
	return c.store.EnvironmentBuilds.MostRecentPerEnvironment(ctx, projectUUID)
}

// MostRecentForEnvironment returns the latest build for a single
// environment, nil if none exists.
func (c *EnvironmentBuildController) MostRecentForEnvironment(ctx context.Context, projectUUID, environmentUUID string) (*v1.EnvironmentBuild, error) {
	return c.store.EnvironmentBuilds.MostRecentForEnvironment(ctx, projectUUID, environmentUUID)
}

// ApplyStatusUpdate implements the worker status-update callback of
// §4.3: silently drops updates targeting an already-terminal row (I5)
// rather than surfacing them as an error.
func (c *EnvironmentBuildController) ApplyStatusUpdate(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.EnvironmentBuilds.UpdateStatus(ctx, tx, uuid, upd)
	})
	if errors.Is(err, store.ErrNotUpdated) {
		return nil
	}
	if err == nil {
		metrics.ResourceTransitions.WithLabelValues("environment_build", string(upd.Status)).Inc()
	}
	return err
}

func dedupeRequests(requests []EnvironmentBuildRequest) []EnvironmentBuildRequest {
	seen := make(map[EnvironmentBuildRequest]struct{}, len(requests))
	unique := make([]EnvironmentBuildRequest, 0, len(requests))
	for _, r := range requests {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}
