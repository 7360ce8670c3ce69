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
	"sync"
)

// Fake is an in-memory TaskBus used by controller/scheduler tests.
type Fake struct {
	mu       sync.Mutex
	Queued   []Task
	Revoked  map[string]bool
	Aborted_ map[string]bool
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{Revoked: make(map[string]bool), Aborted_: make(map[string]bool)}
}

func (f *Fake) Enqueue(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.Queued {
		if existing.UUID == t.UUID {
			return nil
		}
	}
	f.Queued = append(f.Queued, t)
	return nil
}

func (f *Fake) Revoke(ctx context.Context, taskUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Revoked[taskUUID] = true
	kept := f.Queued[:0]
	for _, t := range f.Queued {
		if t.UUID != taskUUID {
			kept = append(kept, t)
		}
	}
	f.Queued = kept
	return nil
}

func (f *Fake) Abort(ctx context.Context, taskUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted_[taskUUID] = true
	return nil
}

func (f *Fake) Aborted(ctx context.Context, taskUUID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Aborted_[taskUUID], nil
}

// Dequeue pops the first queued task whose type is in types. Tests that
// need blocking semantics should drive Fake directly rather than through
// a worker poll loop.
func (f *Fake) Dequeue(ctx context.Context, types ...TaskType) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.Queued {
		for _, want := range types {
			if t.Type == want {
				f.Queued = append(f.Queued[:i], f.Queued[i+1:]...)
				return t, nil
			}
		}
	}
	return Task{}, ErrNoTask
}

var _ TaskBus = (*Fake)(nil)
