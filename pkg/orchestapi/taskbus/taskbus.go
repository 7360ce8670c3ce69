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

// Package taskbus is the Task Bus (TB): a durable, cancellable queue for
// build_environment/build_jupyter/run_pipeline tasks. Every task carries
// a UUID pre-assigned by its caller, so the caller can persist that
// UUID on the SS row before the task is ever enqueued (§4.2.1).
package taskbus

import (
	"context"
	"encoding/json"
)

// TaskType names the kind of work a task performs.
type TaskType string

const (
	BuildEnvironment TaskType = "build_environment"
	BuildJupyter     TaskType = "build_jupyter"
	RunPipeline      TaskType = "run_pipeline"
)

// Task is a unit of work submitted to the bus. UUID is minted by the
// caller (a lifecycle controller), never by the bus.
type Task struct {
	UUID    string          `json:"uuid"`
	Type    TaskType        `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TaskBus is the interface lifecycle controllers use to submit and
// cancel work. Enqueue, Revoke and Abort are all collateral-safe:
// idempotent on retry, as required by TPE (§4.1).
type TaskBus interface {
	// Enqueue submits t for execution. Idempotent: enqueuing the same
	// UUID twice is a no-op on the second call.
	Enqueue(ctx context.Context, t Task) error

	// Revoke best-effort removes a still-queued task before it starts.
	// A task that has already started is unaffected; callers pair
	// Revoke with Abort to cover both cases (§4.2.1 abort).
	Revoke(ctx context.Context, taskUUID string) error

	// Abort flags a running task to stop at its next checkpoint.
	// Workers poll the flag cooperatively through Aborted; there is no
	// subscription.
	Abort(ctx context.Context, taskUUID string) error

	// Aborted reports whether taskUUID has been flagged via Abort.
	// Workers call this at every checkpoint (§5: "before committing
	// any image or container").
	Aborted(ctx context.Context, taskUUID string) (bool, error)

	// Dequeue blocks until a task of one of types is available or ctx is
	// done, then returns it. A worker's poll loop calls this once per
	// iteration.
	Dequeue(ctx context.Context, types ...TaskType) (Task, error)
}
