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

// Package lock is the Resource Locker: it pins a PipelineRun to exact
// Docker image ids across its entire duration, converging against
// concurrent environment rebuilds (§4.4).
package lock

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

// ErrImageNotFound is returned when an environment referenced by a
// pipeline has no materialized image yet.
var ErrImageNotFound = errors.New("lock: environment image not found")

// maxConvergenceIterations bounds the loop so a pathological build
// storm fails loudly (as ImageNotFound would, downstream) rather than
// spinning forever; ordinary convergence finishes in 1-2 iterations
// (§8 property P4).
const maxConvergenceIterations = 50

// Locker resolves and pins the image ids a PipelineRun's environments
// must use.
type Locker struct {
	runtime cra.CRA
	logger  *zap.Logger
}

// New returns a Locker backed by runtime.
func New(runtime cra.CRA, logger *zap.Logger) *Locker {
	return &Locker{runtime: runtime, logger: logger}
}

func resolve(ctx context.Context, runtime cra.CRA, projectUUID string, envUUIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(envUUIDs))
	for _, env := range envUUIDs {
		name := cra.EnvironmentImageName(projectUUID, env)
		img, err := runtime.InspectImage(ctx, name)
		if err != nil {
			if errors.Is(err, cra.ErrImageNotFound) {
				return nil, fmt.Errorf("%w: environment %s", ErrImageNotFound, env)
			}
			return nil, fmt.Errorf("lock: inspect image for environment %s: %w", env, err)
		}
		out[env] = img.ID
	}
	return out, nil
}

// LockImages implements the §4.4 protocol. mappings is the
// ImageMappingRepository of the caller's Store; it is passed in rather
// than owned by Locker so the first insert and every subsequent update
// share the caller's TPE transaction boundaries.
func (l *Locker) LockImages(ctx context.Context, tx *store.Tx, mappings *store.ImageMappingRepository, runUUID, projectUUID string, envUUIDs []string) (map[string]string, error) {
	m0, err := resolve(ctx, l.runtime, projectUUID, envUUIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]v1.PipelineRunImageMapping, 0, len(m0))
	for env, imgID := range m0 {
		rows = append(rows, v1.PipelineRunImageMapping{RunUUID: runUUID, OrchestEnvironmentUUID: env, DockerImgID: imgID})
	}
	if err := mappings.Insert(ctx, tx, rows); err != nil {
		return nil, fmt.Errorf("lock: insert mappings: %w", err)
	}

	current := m0
	for i := 0; i < maxConvergenceIterations; i++ {
		next, err := resolve(ctx, l.runtime, projectUUID, envUUIDs)
		if err != nil {
			return nil, err
		}
		if sameImageSet(current, next) {
			return current, nil
		}
		for env, imgID := range next {
			if current[env] == imgID {
				continue
			}
			if err := mappings.UpdateDockerImgID(ctx, tx, runUUID, env, imgID); err != nil {
				return nil, fmt.Errorf("lock: update mapping: %w", err)
			}
		}
		current = next
		l.logger.Info("lock: image set changed mid-lock, re-converging",
			zap.String("run_uuid", runUUID), zap.Int("iteration", i+1))
	}
	return nil, fmt.Errorf("lock: did not converge after %d iterations", maxConvergenceIterations)
}

// sameImageSet compares the *value* sets, per §4.4 step 3 ("set(values(M0))
// = set(values(M1))"), not key-by-key equality: it is the set of image
// ids in use that must be stable, not which environment maps to which.
func sameImageSet(a, b map[string]string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for v := range setA {
		if _, ok := setB[v]; !ok {
			return false
		}
	}
	return true
}
