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
	"errors"
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

// JupyterBuildController implements §4.2.2: the same shape as
// EnvironmentBuildController with a single logical slot.
type JupyterBuildController struct {
	store   *store.Store
	ex      *tpe.Executor
	tb      taskbus.TaskBus
	runtime cra.CRA
	logger  *zap.Logger
}

// NewJupyterBuildController wires a JupyterBuildController.
func NewJupyterBuildController(st *store.Store, ex *tpe.Executor, tb taskbus.TaskBus, runtime cra.CRA, logger *zap.Logger) *JupyterBuildController {
	return &JupyterBuildController{store: st, ex: ex, tb: tb, runtime: runtime, logger: logger}
}

type jupyterBuildOpValue struct {
	build     v1.JupyterBuild
	supersede []v1.JupyterBuild
}

// Create fails with ErrSessionInProgress if any session is active (I2);
// otherwise it supersedes any active jupyter build and enqueues a new
// build_jupyter task.
func (c *JupyterBuildController) Create(ctx context.Context) (v1.JupyterBuild, error) {
	op := tpe.Op[jupyterBuildOpValue]{
		Transaction: func(tx *store.Tx) (jupyterBuildOpValue, error) {
			active, err := c.store.Sessions.AnyActive(ctx, tx)
			if err != nil {
				return jupyterBuildOpValue{}, err
			}
			if active {
				return jupyterBuildOpValue{}, ErrSessionInProgress
			}

			supersede, err := c.store.JupyterBuilds.Active(ctx, tx)
			if err != nil {
				return jupyterBuildOpValue{}, err
			}
			for i := range supersede {
				if err := c.store.JupyterBuilds.UpdateStatus(ctx, tx, supersede[i].UUID, v1.StatusUpdate{Status: v1.Aborted}); err != nil && !errors.Is(err, store.ErrNotUpdated) {
					return jupyterBuildOpValue{}, err
				}
			}

			build := v1.JupyterBuild{UUID: uuid.NewString(), RequestedTime: time.Now().UTC(), Status: v1.Pending}
			if err := c.store.JupyterBuilds.Insert(ctx, tx, build); err != nil {
				return jupyterBuildOpValue{}, err
			}
			return jupyterBuildOpValue{build: build, supersede: supersede}, nil
		},
		Collateral: func(ctx context.Context, v jupyterBuildOpValue) error {
			for _, old := range v.supersede {
				if err := c.tb.Revoke(ctx, old.UUID); err != nil {
					c.logger.Error("revoke superseded jupyter build failed", zap.Error(err))
				}
				if err := c.tb.Abort(ctx, old.UUID); err != nil {
					c.logger.Error("abort superseded jupyter build failed", zap.Error(err))
				}
			}
			return c.tb.Enqueue(ctx, taskbus.Task{UUID: v.build.UUID, Type: taskbus.BuildJupyter})
		},
		Revert: func(ctx context.Context, v jupyterBuildOpValue) error {
			return c.store.WithTx(ctx, func(tx *store.Tx) error {
				return c.store.JupyterBuilds.UpdateStatus(ctx, tx, v.build.UUID, v1.StatusUpdate{Status: v1.Failure})
			})
		},
	}

	v, err := tpe.RunOne(ctx, c.ex, op)
	return v.build, err
}

// Abort flips a build to ABORTED iff not yet terminal, then revokes/
// aborts its task.
func (c *JupyterBuildController) Abort(ctx context.Context, uuid string) error {
	op := tpe.Op[v1.JupyterBuild]{
		Transaction: func(tx *store.Tx) (v1.JupyterBuild, error) {
			build, err := c.store.JupyterBuilds.Get(ctx, uuid)
			if err != nil {
				return build, err
			}
			if err := c.store.JupyterBuilds.UpdateStatus(ctx, tx, uuid, v1.StatusUpdate{Status: v1.Aborted}); err != nil {
				if errors.Is(err, store.ErrNotUpdated) {
					return build, nil
				}
				return build, err
			}
			build.Status = v1.Aborted
			metrics.ResourceTransitions.WithLabelValues("jupyter_build", string(v1.Aborted)).Inc()
			return build, nil
		},
		Collateral: func(ctx context.Context, build v1.JupyterBuild) error {
			if build.Status != v1.Aborted {
				return nil
			}
			if err := c.tb.Revoke(ctx, build.UUID); err != nil {
				c.logger.Error("revoke aborted jupyter build failed", zap.Error(err))
			}
			if err := c.tb.Abort(ctx, build.UUID); err != nil {
				c.logger.Error("abort aborted jupyter build failed", zap.Error(err))
			}
			return nil
		},
	}
	_, err := tpe.RunOne(ctx, c.ex, op)
	return err
}

// Get returns a single build by uuid, for the HTTP facade's read
// endpoint.
func (c *JupyterBuildController) Get(ctx context.Context, uuid string) (v1.JupyterBuild, error) {
	return c.store.JupyterBuilds.Get(ctx, uuid)
}

// List returns every Jupyter build, for the HTTP facade's list endpoint.
func (c *JupyterBuildController) List(ctx context.Context) ([]v1.JupyterBuild, error) {
	return c.store.JupyterBuilds.List(ctx)
}

// ApplyStatusUpdate implements the worker status-update callback of
// §4.3: silently drops updates targeting an already-terminal row (I5).
func (c *JupyterBuildController) ApplyStatusUpdate(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return c.store.JupyterBuilds.UpdateStatus(ctx, tx, uuid, upd)
	})
	if errors.Is(err, store.ErrNotUpdated) {
		return nil
	}
	if err == nil {
		metrics.ResourceTransitions.WithLabelValues("jupyter_build", string(upd.Status)).Inc()
	}
	return err
}
