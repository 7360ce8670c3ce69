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

package taskbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

const abortFlagTTL = 24 * time.Hour

// ErrNoTask is returned by Dequeue when its poll window elapses without
// any task becoming available; callers loop on it rather than treating
// it as a failure.
var ErrNoTask = errors.New("taskbus: no task available")

// RedisTaskBus backs the TB with a Redis list per task type plus one
// abort flag key per task UUID. RPUSH/LREM give the queue/revoke pair;
// the abort flag is a plain SET/EXISTS rather than PUBLISH/SUBSCRIBE so
// that Aborted (called from a worker's polling loop, not a subscriber)
// never has to keep a connection open between checkpoints.
type RedisTaskBus struct {
	pool   *redis.Pool
	logger *zap.Logger
}

// NewRedis returns a RedisTaskBus backed by pool.
func NewRedis(pool *redis.Pool, logger *zap.Logger) *RedisTaskBus {
	return &RedisTaskBus{pool: pool, logger: logger}
}

func queueKey(t TaskType) string {
	return fmt.Sprintf("orchest:taskbus:queue:%s", t)
}

func abortKey(taskUUID string) string {
	return fmt.Sprintf("orchest:taskbus:abort:%s", taskUUID)
}

func (b *RedisTaskBus) Enqueue(ctx context.Context, t Task) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("taskbus: get conn: %w", err)
	}
	defer conn.Close()

	encoded, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("taskbus: marshal task: %w", err)
	}

	exists, err := redis.Int(conn.Do("HSETNX", "orchest:taskbus:seen", t.UUID, 1))
	if err != nil {
		return fmt.Errorf("taskbus: dedupe check: %w", err)
	}
	if exists == 0 {
		// Already enqueued once; Enqueue is idempotent on retry.
		return nil
	}

	if _, err := conn.Do("RPUSH", queueKey(t.Type), encoded); err != nil {
		return fmt.Errorf("taskbus: rpush: %w", err)
	}
	return nil
}

func (b *RedisTaskBus) Revoke(ctx context.Context, taskUUID string) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("taskbus: get conn: %w", err)
	}
	defer conn.Close()

	for _, t := range []TaskType{BuildEnvironment, BuildJupyter, RunPipeline} {
		entries, err := redis.Strings(conn.Do("LRANGE", queueKey(t), 0, -1))
		if err != nil {
			return fmt.Errorf("taskbus: lrange: %w", err)
		}
		for _, entry := range entries {
			var task Task
			if err := json.Unmarshal([]byte(entry), &task); err != nil {
				continue
			}
			if task.UUID == taskUUID {
				if _, err := conn.Do("LREM", queueKey(t), 1, entry); err != nil {
					return fmt.Errorf("taskbus: lrem: %w", err)
				}
			}
		}
	}
	return nil
}

func (b *RedisTaskBus) Abort(ctx context.Context, taskUUID string) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("taskbus: get conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", abortKey(taskUUID), 1, "EX", int(abortFlagTTL.Seconds())); err != nil {
		return fmt.Errorf("taskbus: set abort flag: %w", err)
	}
	return nil
}

func (b *RedisTaskBus) Aborted(ctx context.Context, taskUUID string) (bool, error) {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("taskbus: get conn: %w", err)
	}
	defer conn.Close()

	exists, err := redis.Bool(conn.Do("EXISTS", abortKey(taskUUID)))
	if err != nil {
		return false, fmt.Errorf("taskbus: check abort flag: %w", err)
	}
	return exists, nil
}

// Dequeue issues a blocking BLPOP across every queue in types, waking as
// soon as any one of them has an entry.
func (b *RedisTaskBus) Dequeue(ctx context.Context, types ...TaskType) (Task, error) {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("taskbus: get conn: %w", err)
	}
	defer conn.Close()

	args := make(redis.Args, 0, len(types)+1)
	for _, t := range types {
		args = args.Add(queueKey(t))
	}
	args = args.Add(5) // seconds; short enough to notice ctx cancellation promptly.

	reply, err := redis.Strings(conn.Do("BLPOP", args...))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return Task{}, ErrNoTask
		}
		return Task{}, fmt.Errorf("taskbus: blpop: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(reply[1]), &task); err != nil {
		return Task{}, fmt.Errorf("taskbus: unmarshal dequeued task: %w", err)
	}
	return task, nil
}

var _ TaskBus = (*RedisTaskBus)(nil)
