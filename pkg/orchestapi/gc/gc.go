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

// Package gc is the Garbage Collector for dangling environment images
// (§4.6): images left nameless by a newer build and no longer
// referenced by any non-terminal PipelineRun.
package gc

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

const (
	maxRemoveAttempts = 10
	removeRetryDelay  = time.Second
	// negativeCacheSize bounds the "recently failed to remove, don't
	// immediately retry on the next sweep" cache; late container
	// teardown clears within a handful of sweeps so this only needs to
	// hold the current sweep's stragglers.
	negativeCacheSize = 1024
	// sweepConcurrency bounds how many images a single sweep checks and
	// removes at once; each candidate's I6 reference check and removal
	// is independent of every other's, but an unbounded fan-out would
	// let one sweep of a large project open hundreds of SS/CRA calls at
	// once.
	sweepConcurrency = 8
)

// Collector removes dangling images on request or on a fixed interval.
type Collector struct {
	runtime cra.CRA
	runs    *store.RunRepository
	logger  *zap.Logger
	// recentFailures remembers image ids that failed every retry on a
	// prior sweep, so a sweep doesn't immediately re-attempt work a
	// container teardown hasn't caught up with yet.
	recentFailures *lru.Cache
}

// New returns a Collector.
func New(runtime cra.CRA, runs *store.RunRepository, logger *zap.Logger) (*Collector, error) {
	cache, err := lru.New(negativeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Collector{runtime: runtime, runs: runs, logger: logger, recentFailures: cache}, nil
}

// SweepProject removes every dangling image for a project: images with
// label `_orchest_env_build_is_intermediate=0` whose RepoTags is empty
// and that no PipelineRunImageMapping row references for a non-terminal
// run (I6).
func (c *Collector) SweepProject(ctx context.Context, projectUUID string) error {
	images, err := c.runtime.ListImagesByLabel(ctx, cra.LabelProjectUUID, projectUUID)
	if err != nil {
		return err
	}
	return c.sweepImages(ctx, images)
}

// Sweep removes every dangling image across all projects, used by the
// opportunistic background pass (Run) rather than the per-project
// deletion path the HTTP facade drives.
func (c *Collector) Sweep(ctx context.Context) error {
	images, err := c.runtime.ListImagesByLabel(ctx, cra.LabelEnvBuildIntermediate, "0")
	if err != nil {
		return err
	}
	return c.sweepImages(ctx, images)
}

// Run sweeps every project's images on a fixed interval until ctx is
// canceled, the background half of §4.6 ("on request or opportunistically").
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				c.logger.Error("gc: sweep failed", zap.Error(err))
			}
		}
	}
}

// sweepImages fans the dangling-check-and-remove step out across up to
// sweepConcurrency images at once via errgroup, the same bounded-fan-out
// shape tinkerbell-tinkerbell's workflow reconciler uses for its
// per-action parallel dispatch. Each image's check is independent (I6
// only ever reasons about one image id at a time) so there is nothing to
// synchronize across goroutines; the group exists purely to cap
// concurrency, so no member's error is allowed to cancel its siblings —
// every candidate gets its own removeWithRetry regardless of how others
// fare.
func (c *Collector) sweepImages(ctx context.Context, images []cra.Image) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, img := range images {
		img := img
		if img.Labels[cra.LabelEnvBuildIntermediate] != "0" {
			continue
		}
		if len(img.Tags) != 0 {
			continue
		}
		g.Go(func() error {
			referenced, err := c.runs.ReferencingDockerImage(ctx, img.ID)
			if err != nil {
				c.logger.Error("gc: check image reference failed", zap.String("image_id", img.ID), zap.Error(err))
				return nil
			}
			if referenced {
				return nil
			}
			c.removeWithRetry(ctx, img.ID)
			return nil
		})
	}
	return g.Wait()
}

// removeWithRetry removes imageID with up to maxRemoveAttempts retries
// spaced removeRetryDelay apart, to tolerate late container teardown
// (§4.6). "Not found" is treated as success: something else already
// removed it.
func (c *Collector) removeWithRetry(ctx context.Context, imageID string) {
	if _, recentlyFailed := c.recentFailures.Get(imageID); recentlyFailed {
		return
	}
	for attempt := 1; attempt <= maxRemoveAttempts; attempt++ {
		err := c.runtime.RemoveImage(ctx, imageID)
		if err == nil || errors.Is(err, cra.ErrImageNotFound) {
			c.recentFailures.Remove(imageID)
			metrics.ImagesRemoved.Inc()
			return
		}
		c.logger.Info("gc: remove attempt failed", zap.String("image_id", imageID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == maxRemoveAttempts {
			c.recentFailures.Add(imageID, struct{}{})
			metrics.ImageRemovalFailures.Inc()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(removeRetryDelay):
		}
	}
}
