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

// Package worker is the Task Bus consumer (§2, §4.3): it dequeues
// build_environment/build_jupyter/run_pipeline tasks, drives the CRA to
// carry them out, and reports status back to the HTTP Facade exactly the
// way a Prow "ProwJobAgent: kubernetes" plank controller pod reports its
// result back to the ProwJob CR, except here the callback is an explicit
// HTTP PUT rather than a status subresource update.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
)

// Reporter delivers a status update to the HTTP Facade for one of the
// three resource kinds a task completes work for.
type Reporter interface {
	ReportEnvironmentBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error
	ReportJupyterBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error
	ReportRun(ctx context.Context, uuid string, upd v1.StatusUpdate) error
}

// Worker drains the Task Bus and executes tasks against the CRA.
type Worker struct {
	bus      taskbus.TaskBus
	runtime  cra.CRA
	reporter Reporter
	logger   *zap.Logger
}

// New wires a Worker.
func New(bus taskbus.TaskBus, runtime cra.CRA, reporter Reporter, logger *zap.Logger) *Worker {
	return &Worker{bus: bus, runtime: runtime, reporter: reporter, logger: logger}
}

// Run polls the bus until ctx is cancelled, dispatching each dequeued
// task to its handler. A handler error is logged and never stops the
// loop, mirroring plank's reconcile-and-continue behavior on a single
// ProwJob's failure. A handler whose CRA call fails reports FAILURE
// itself; one that fails before that (an undecodable payload) reports
// no status.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.bus.Dequeue(ctx, taskbus.BuildEnvironment, taskbus.BuildJupyter, taskbus.RunPipeline)
		if err != nil {
			if errors.Is(err, taskbus.ErrNoTask) || ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.dispatch(ctx, task)
	}
}

func (w *Worker) dispatch(ctx context.Context, task taskbus.Task) {
	logger := w.logger.With(zap.String("task_uuid", task.UUID), zap.String("task_type", string(task.Type)))

	if aborted, err := w.bus.Aborted(ctx, task.UUID); err != nil {
		logger.Error("check abort flag failed", zap.Error(err))
	} else if aborted {
		logger.Info("task aborted before execution started")
		return
	}

	var err error
	switch task.Type {
	case taskbus.BuildEnvironment:
		err = w.runEnvironmentBuild(ctx, task, logger)
	case taskbus.BuildJupyter:
		err = w.runJupyterBuild(ctx, task, logger)
	case taskbus.RunPipeline:
		err = w.runPipeline(ctx, task, logger)
	default:
		logger.Error("unknown task type")
		return
	}
	if err != nil {
		logger.Error("task failed", zap.Error(err))
	}
}

func utcNow() *time.Time {
	t := time.Now().UTC()
	return &t
}

func (w *Worker) runEnvironmentBuild(ctx context.Context, task taskbus.Task, logger *zap.Logger) error {
	var payload struct {
		ProjectUUID     string `json:"project_uuid"`
		EnvironmentUUID string `json:"environment_uuid"`
		ProjectPath     string `json:"project_path"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("worker: unmarshal build_environment payload: %w", err)
	}

	if err := w.reporter.ReportEnvironmentBuild(ctx, task.UUID, v1.StatusUpdate{Status: v1.Started, StartedTime: utcNow()}); err != nil {
		logger.Error("report started failed", zap.Error(err))
	}

	tag := cra.EnvironmentImageName(payload.ProjectUUID, payload.EnvironmentUUID)
	_, err := w.runtime.Build(ctx, cra.BuildSpec{
		ContextDir: payload.ProjectPath,
		Tag:        tag,
		Labels: map[string]string{
			cra.LabelEnvBuildTaskUUID:     task.UUID,
			cra.LabelEnvBuildIntermediate: "0",
			cra.LabelProjectUUID:          payload.ProjectUUID,
			cra.LabelEnvironmentUUID:      payload.EnvironmentUUID,
		},
	})

	final := v1.StatusUpdate{Status: v1.Success, FinishedTime: utcNow()}
	if err != nil {
		final.Status = v1.Failure
	}
	if reportErr := w.reporter.ReportEnvironmentBuild(ctx, task.UUID, final); reportErr != nil {
		logger.Error("report final status failed", zap.Error(reportErr))
	}
	return err
}

func (w *Worker) runJupyterBuild(ctx context.Context, task taskbus.Task, logger *zap.Logger) error {
	if err := w.reporter.ReportJupyterBuild(ctx, task.UUID, v1.StatusUpdate{Status: v1.Started, StartedTime: utcNow()}); err != nil {
		logger.Error("report started failed", zap.Error(err))
	}

	_, err := w.runtime.Build(ctx, cra.BuildSpec{
		Tag: cra.JupyterImageName,
		Labels: map[string]string{
			cra.LabelEnvBuildTaskUUID:     task.UUID,
			cra.LabelEnvBuildIntermediate: "0",
		},
	})

	final := v1.StatusUpdate{Status: v1.Success, FinishedTime: utcNow()}
	if err != nil {
		final.Status = v1.Failure
	}
	if reportErr := w.reporter.ReportJupyterBuild(ctx, task.UUID, final); reportErr != nil {
		logger.Error("report final status failed", zap.Error(reportErr))
	}
	return err
}

func (w *Worker) runPipeline(ctx context.Context, task taskbus.Task, logger *zap.Logger) error {
	var payload struct {
		RunUUID string `json:"run_uuid"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("worker: unmarshal run_pipeline payload: %w", err)
	}

	if err := w.reporter.ReportRun(ctx, payload.RunUUID, v1.StatusUpdate{Status: v1.Started, StartedTime: utcNow()}); err != nil {
		logger.Error("report started failed", zap.Error(err))
	}

	if aborted, err := w.bus.Aborted(ctx, task.UUID); err == nil && aborted {
		return w.reporter.ReportRun(ctx, payload.RunUUID, v1.StatusUpdate{Status: v1.Aborted})
	}

	_, err := w.runtime.Run(ctx, cra.RunSpec{Name: payload.RunUUID})

	final := v1.StatusUpdate{Status: v1.Success, FinishedTime: utcNow()}
	if err != nil {
		final.Status = v1.Failure
	}
	if reportErr := w.reporter.ReportRun(ctx, payload.RunUUID, final); reportErr != nil {
		logger.Error("report final status failed", zap.Error(reportErr))
	}
	return err
}
