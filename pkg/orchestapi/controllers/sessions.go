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
	"fmt"

	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

// SessionController implements §4.2.3: LAUNCHING -> RUNNING -> STOPPING
// -> STOPPED, strictly forward, STOPPED terminal.
type SessionController struct {
	store   *store.Store
	ex      *tpe.Executor
	runtime cra.CRA
	runs    *PipelineRunController
	jupyter *JupyterGatewayClient
	logger  *zap.Logger
}

// NewSessionController wires a SessionController. runs is the
// PipelineRunController used to abort a session's interactive runs
// before tearing its containers down; jupyter shuts the session's
// kernel gateway down alongside the CRA container stop.
func NewSessionController(st *store.Store, ex *tpe.Executor, runtime cra.CRA, runs *PipelineRunController, jupyter *JupyterGatewayClient, logger *zap.Logger) *SessionController {
	return &SessionController{store: st, ex: ex, runtime: runtime, runs: runs, jupyter: jupyter, logger: logger}
}

// Launch creates a session in LAUNCHING, failing with ErrConflict if one
// already exists for the pair (I3).
func (c *SessionController) Launch(ctx context.Context, projectUUID, pipelineUUID string) (v1.InteractiveSession, error) {
	op := tpe.Op[v1.InteractiveSession]{
		Transaction: func(tx *store.Tx) (v1.InteractiveSession, error) {
			session := v1.InteractiveSession{ProjectUUID: projectUUID, PipelineUUID: pipelineUUID, Status: v1.Launching}
			if err := c.store.Sessions.Insert(ctx, tx, session); err != nil {
				return session, fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return session, nil
		},
		Collateral: func(ctx context.Context, session v1.InteractiveSession) error {
			result, err := c.runtime.Run(ctx, cra.RunSpec{
				Name:   sessionContainerName(projectUUID, pipelineUUID),
				Labels: map[string]string{cra.LabelProjectUUID: projectUUID},
			})
			if err != nil {
				c.logger.Error("session container launch failed", zap.Error(err))
				return err
			}
			return c.store.WithTx(ctx, func(tx *store.Tx) error {
				_, err := c.store.Sessions.TransitionForward(ctx, tx, projectUUID, pipelineUUID, v1.Launching, v1.Running, result.Endpoints)
				return err
			})
		},
	}
	return tpe.RunOne(ctx, c.ex, op)
}

// Stop moves a session through STOPPING to STOPPED. Before its own TPE
// operation it aborts any interactive PipelineRuns for the pair
// (§4.2.4's abort) as separate operations: those aborts are not part of
// the transaction that flips the session to STOPPING and are not undone
// if that transaction fails. Its collateral shuts the Jupyter Gateway
// down and then instructs the CRA to stop the session container.
func (c *SessionController) Stop(ctx context.Context, projectUUID, pipelineUUID string) error {
	if err := c.runs.AbortActiveForSession(ctx, projectUUID, pipelineUUID); err != nil {
		return fmt.Errorf("controllers: abort session runs: %w", err)
	}

	op := tpe.Op[v1.InteractiveSession]{
		Transaction: func(tx *store.Tx) (v1.InteractiveSession, error) {
			session, err := c.store.Sessions.GetForUpdate(ctx, tx, projectUUID, pipelineUUID)
			if err != nil {
				return session, err
			}
			if v1.SessionTerminal(session.Status) {
				return session, nil
			}
			if _, err := c.store.Sessions.TransitionForward(ctx, tx, projectUUID, pipelineUUID, session.Status, v1.Stopping, nil); err != nil {
				return session, err
			}
			session.Status = v1.Stopping
			return session, nil
		},
		Collateral: func(ctx context.Context, session v1.InteractiveSession) error {
			if v1.SessionTerminal(session.Status) {
				return nil
			}
			if c.jupyter != nil {
				if err := c.jupyter.Shutdown(ctx, session.Endpoints); err != nil {
					c.logger.Error("shut down jupyter gateway failed", zap.Error(err))
				}
			}
			if err := c.runtime.Stop(ctx, sessionContainerName(projectUUID, pipelineUUID)); err != nil && !errors.Is(err, cra.ErrContainerNotFound) {
				c.logger.Error("stop session container failed", zap.Error(err))
			}
			return c.store.WithTx(ctx, func(tx *store.Tx) error {
				_, err := c.store.Sessions.TransitionForward(ctx, tx, projectUUID, pipelineUUID, v1.Stopping, v1.Stopped, nil)
				return err
			})
		},
	}
	_, err := tpe.RunOne(ctx, c.ex, op)
	return err
}

// Get returns the session for (projectUUID, pipelineUUID), for the HTTP
// facade's read endpoint.
func (c *SessionController) Get(ctx context.Context, projectUUID, pipelineUUID string) (v1.InteractiveSession, error) {
	return c.store.Sessions.Get(ctx, projectUUID, pipelineUUID)
}

func sessionContainerName(projectUUID, pipelineUUID string) string {
	return fmt.Sprintf("orchest-session-%s-%s", projectUUID, pipelineUUID)
}
