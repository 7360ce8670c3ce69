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

package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
)

type recordingReporter struct {
	mu      sync.Mutex
	updates []v1.StatusUpdate
}

func (r *recordingReporter) ReportEnvironmentBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	return nil
}

func (r *recordingReporter) ReportJupyterBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	return r.ReportEnvironmentBuild(ctx, uuid, upd)
}

func (r *recordingReporter) ReportRun(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	return r.ReportEnvironmentBuild(ctx, uuid, upd)
}

func (r *recordingReporter) statuses() []v1.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]v1.Status, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Status)
	}
	return out
}

func TestRunEnvironmentBuild_ReportsStartedThenSuccess(t *testing.T) {
	bus := taskbus.NewFake()
	runtime := cra.NewFake()
	reporter := &recordingReporter{}
	w := New(bus, runtime, reporter, zap.NewNop())

	payload, err := json.Marshal(map[string]string{
		"project_uuid":     "p1",
		"environment_uuid": "e1",
		"project_path":     t.TempDir(),
	})
	require.NoError(t, err)

	task := taskbus.Task{UUID: "task-1", Type: taskbus.BuildEnvironment, Payload: payload}
	require.NoError(t, w.runEnvironmentBuild(context.Background(), task, zap.NewNop()))

	require.Equal(t, []v1.Status{v1.Started, v1.Success}, reporter.statuses())

	img, err := runtime.InspectImage(context.Background(), cra.EnvironmentImageName("p1", "e1"))
	require.NoError(t, err)
	require.Equal(t, "0", img.Labels[cra.LabelEnvBuildIntermediate])
}

func TestDispatch_AbortedTaskSkipsExecution(t *testing.T) {
	bus := taskbus.NewFake()
	require.NoError(t, bus.Abort(context.Background(), "task-1"))
	runtime := cra.NewFake()
	reporter := &recordingReporter{}
	w := New(bus, runtime, reporter, zap.NewNop())

	task := taskbus.Task{UUID: "task-1", Type: taskbus.BuildJupyter}
	w.dispatch(context.Background(), task)

	require.Empty(t, reporter.statuses())
}

func TestRunPipeline_ReportsStartedThenSuccess(t *testing.T) {
	bus := taskbus.NewFake()
	runtime := cra.NewFake()
	reporter := &recordingReporter{}
	w := New(bus, runtime, reporter, zap.NewNop())

	payload, err := json.Marshal(map[string]string{"run_uuid": "run-1"})
	require.NoError(t, err)

	task := taskbus.Task{UUID: "task-1", Type: taskbus.RunPipeline, Payload: payload}
	require.NoError(t, w.runPipeline(context.Background(), task, zap.NewNop()))

	require.Equal(t, []v1.Status{v1.Started, v1.Success}, reporter.statuses())
}
